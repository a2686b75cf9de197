package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"tgpipeline/pkg/auth"
	"tgpipeline/pkg/ui"
)

var authUser string

// authCmd manages stored warehouse credentials
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage warehouse credentials",
	Long: `Store the warehouse password outside the configuration file.

Credentials are saved per profile (host:port/database) in the system
keychain when available, otherwise in an encrypted file under the user
config directory.`,
}

var authSetCmd = &cobra.Command{
	Use:     "set",
	Short:   "Store the password for the configured warehouse",
	Example: `  tgpipeline auth set --user postgres`,
	RunE:    runAuthSet,
}

var authShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List stored credentials with masked passwords",
	RunE:  runAuthShow,
}

var authDeleteCmd = &cobra.Command{
	Use:   "delete [profile]",
	Short: "Delete stored credentials",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuthDelete,
}

var authGuideCmd = &cobra.Command{
	Use:   "guide",
	Short: "Explain where the warehouse password is looked up",
	RunE:  runAuthGuide,
}

func init() {
	authSetCmd.Flags().StringVarP(&authUser, "user", "u", "", "warehouse user (default from config)")
	authCmd.AddCommand(authSetCmd, authShowCmd, authDeleteCmd, authGuideCmd)
	rootCmd.AddCommand(authCmd)
}

func runAuthSet(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}
	if cfg.Warehouse.Driver != "postgres" {
		return fmt.Errorf("warehouse driver %s takes no credentials", cfg.Warehouse.Driver)
	}
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	user := authUser
	if user == "" {
		user = cfg.Warehouse.User
	}
	profile := auth.ProfileFor(cfg.Warehouse)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Password for %s@%s: ", user, profile)
	password, err := readPassword()
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}

	if err := manager.Store(&auth.Credential{Profile: profile, User: user, Password: password}); err != nil {
		return err
	}
	ui.PrintSuccess(out, "Credentials stored for "+profile)
	return nil
}

func runAuthShow(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}
	creds, err := manager.List()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(creds) == 0 {
		ui.PrintWarning(out, "No stored credentials")
		return nil
	}
	rows := make([][]string, 0, len(creds))
	for _, c := range creds {
		c = auth.Sanitize(c)
		modified := ""
		if !c.LastModified.IsZero() {
			modified = c.LastModified.Local().Format(time.DateTime)
		}
		rows = append(rows, []string{c.Profile, c.User, c.Password, modified})
	}
	fmt.Fprintln(out, ui.RenderTable([]string{"Profile", "User", "Password", "Modified"}, rows))
	return nil
}

func runAuthDelete(cmd *cobra.Command, args []string) error {
	var profile string
	if len(args) > 0 {
		profile = args[0]
	} else {
		cfg, err := loadConfig(nil)
		if err != nil {
			return err
		}
		profile = auth.ProfileFor(cfg.Warehouse)
	}

	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}
	if err := manager.Delete(profile); err != nil {
		if errors.Is(err, auth.ErrCredentialsNotFound) {
			ui.PrintWarning(cmd.OutOrStdout(), "No credentials stored for "+profile)
			return nil
		}
		return err
	}
	ui.PrintSuccess(cmd.OutOrStdout(), "Deleted credentials for "+profile)
	return nil
}

func runAuthGuide(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}
	auth.WriteSetupGuide(cmd.OutOrStdout(), auth.ProfileFor(cfg.Warehouse))
	return nil
}

func readPassword() (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		password, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err == nil {
			return string(password), nil
		}
	}

	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
