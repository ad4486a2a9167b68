// Package browser defines the boundary to the browser automation
// collaborator. The DOM and driver specifics live behind the Session
// interface; the acquisition flow only navigates, clicks, fills and reads
// the cookie jar.
package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Session cookie names recognized as a login credential, and the minimum
// plausible value length for one.
var SessionCookieNames = []string{"sessionid", "sessionid_ss", "sid_tt", "sid_guard"}

const MinSessionIDLen = 20

// Options configure one automation session.
type Options struct {
	Proxy      string // "host:port", empty for direct
	Headless   bool
	ProfileDir string // fresh ephemeral profile, torn down on Close
	WindowX    int
	WindowW    int
	WindowH    int
}

// Session is one isolated browser automation context.
type Session interface {
	Navigate(ctx context.Context, url string) error
	ClickText(ctx context.Context, text string) error
	ClickSelector(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	Exists(ctx context.Context, selector string) bool
	Cookies(ctx context.Context) (map[string]string, error)
	Close() error
}

// Factory mints a fresh Session per worker.
type Factory func(ctx context.Context, opts Options) (Session, error)

// NewProfileDir returns a unique ephemeral profile directory path for one
// worker session.
func NewProfileDir(workerID int) string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("jimeng_profile_%d_%s", workerID, uuid.NewString()))
}

// RemoveProfileDir tears down an ephemeral profile. Removal failures are not
// fatal; the directory lives under the OS temp root.
func RemoveProfileDir(dir string) error {
	if dir == "" || !strings.HasPrefix(dir, os.TempDir()) {
		return nil
	}
	return os.RemoveAll(dir)
}

// FindSessionCookie scans a cookie jar for a recognized session cookie with
// a plausible value and returns (name, value).
func FindSessionCookie(cookies map[string]string) (string, string) {
	for _, name := range SessionCookieNames {
		for k, v := range cookies {
			if strings.EqualFold(k, name) && len(v) > MinSessionIDLen {
				return k, v
			}
		}
	}
	return "", ""
}
