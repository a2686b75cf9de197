package telegram

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// BaseURL is the public web preview host
const BaseURL = "https://t.me"

// PreviewURL builds the preview page URL for a channel. before > 0 asks for
// posts older than that message id.
func PreviewURL(baseURL, channel string, before int64) string {
	u := fmt.Sprintf("%s/s/%s", strings.TrimRight(baseURL, "/"), url.PathEscape(channel))
	if before > 0 {
		params := url.Values{}
		params.Set("before", strconv.FormatInt(before, 10))
		u += "?" + params.Encode()
	}
	return u
}
