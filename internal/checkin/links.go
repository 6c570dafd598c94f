package checkin

import (
	"net/url"
	"strings"
)

// SavePath is the collection endpoint path.
const SavePath = "/status/save"

// Links builds collection URLs under a public base URL.
type Links struct {
	BaseURL string
}

// Submission returns the collection link carrying tok. A non-empty next is
// passed along for the post-submit redirect.
func (l Links) Submission(tok, next string) string {
	q := url.Values{}
	q.Set("token", tok)
	if next != "" {
		q.Set("next", next)
	}
	return strings.TrimRight(l.BaseURL, "/") + SavePath + "?" + q.Encode()
}

// SafeNext reports whether next is a same-site relative path that may be
// used as a redirect target.
func SafeNext(next string) bool {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") {
		return false
	}
	if strings.ContainsAny(next, "\\\r\n") {
		return false
	}
	u, err := url.Parse(next)
	return err == nil && u.Scheme == "" && u.Host == ""
}
