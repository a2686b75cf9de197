package auth

import (
	"fmt"
	"io"
	"strings"
)

// WriteSetupGuide explains how the warehouse password is found for profile
func WriteSetupGuide(w io.Writer, profile string) {
	rule := strings.Repeat("=", 72)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "WAREHOUSE CREDENTIALS")
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Profile: %s\n", profile)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "The loader looks for a password in this order:")
	fmt.Fprintln(w, "  1. warehouse.password in the config file or POSTGRES_PASSWORD")
	fmt.Fprintln(w, "  2. the system keychain (service \"tgpipeline\")")
	fmt.Fprintln(w, "  3. the encrypted credentials file in the user config directory")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Save a password for this profile with:")
	fmt.Fprintln(w, "  tgpipeline auth set --user <name>")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Set %s to choose the passphrase of the encrypted file.\n", PassphraseEnv)
	fmt.Fprintln(w, rule)
}
