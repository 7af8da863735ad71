// Package auth resolves access tokens.
//
// Two tokens are handled. The vgs access token protects the browser UI and
// is resolved in order of priority:
//  1. Explicitly provided token
//  2. Environment variable VGS_TOKEN
//  3. Token file (configured, or ~/.vgs_token)
//
// The BV-BRC token is optional and only sent along with reference database
// refreshes; it comes from P3_AUTH_TOKEN or ~/.patric_token.
package auth

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Token is a resolved token and where it came from.
type Token struct {
	// Raw is the complete token string
	Raw string

	// Source names where the token was found
	Source string

	// UserID is the username of a BV-BRC token
	UserID string

	// Expiry is the BV-BRC token expiration time (zero if not present)
	Expiry time.Time
}

// String returns the raw token string for use in HTTP headers.
func (t *Token) String() string {
	return t.Raw
}

// IsExpired returns true if the token has expired.
func (t *Token) IsExpired() bool {
	if t.Expiry.IsZero() {
		return false
	}
	return time.Now().After(t.Expiry)
}

var (
	userPattern   = regexp.MustCompile(`\bun=([^|]+)`)
	expiryPattern = regexp.MustCompile(`\bexpiry=(\d+)`)
)

// parseBVBRC extracts the user and expiry of a BV-BRC token.
func parseBVBRC(raw string) *Token {
	t := &Token{Raw: raw}
	if m := userPattern.FindStringSubmatch(raw); m != nil {
		t.UserID = m[1]
	}
	if m := expiryPattern.FindStringSubmatch(raw); m != nil {
		if exp, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			t.Expiry = time.Unix(exp, 0)
		}
	}
	return t
}

// TokenSource represents a source that can provide tokens.
type TokenSource interface {
	// Token returns the token from this source, or empty string if not available.
	Token() (string, error)

	// Name returns a human-readable name for this source.
	Name() string
}

type staticSource string

// StaticSource returns a TokenSource holding an explicit token.
func StaticSource(raw string) TokenSource {
	return staticSource(raw)
}

func (s staticSource) Token() (string, error) { return strings.TrimSpace(string(s)), nil }
func (s staticSource) Name() string           { return "explicit token" }

// envSource reads a token from an environment variable.
type envSource struct {
	varName string
}

// EnvSource creates a TokenSource that reads from the specified environment variable.
func EnvSource(varName string) TokenSource {
	return &envSource{varName: varName}
}

func (s *envSource) Token() (string, error) {
	return strings.TrimSpace(os.Getenv(s.varName)), nil
}

func (s *envSource) Name() string {
	return fmt.Sprintf("environment variable %s", s.varName)
}

// fileSource reads a token from a file.
type fileSource struct {
	path string
}

// FileSource creates a TokenSource that reads from the specified file path.
func FileSource(path string) TokenSource {
	return &fileSource{path: path}
}

func (s *fileSource) Token() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil // Not an error, just no token
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *fileSource) Name() string {
	return fmt.Sprintf("file %s", s.path)
}

// getHomeDir returns the user's home directory, handling Windows compatibility.
func getHomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if profile := os.Getenv("USERPROFILE"); profile != "" {
		return profile
	}
	if drive := os.Getenv("HOMEDRIVE"); drive != "" {
		if path := os.Getenv("HOMEPATH"); path != "" {
			return filepath.Join(drive, path)
		}
	}
	return ""
}

func homeFile(name string) string {
	home := getHomeDir()
	if home == "" {
		return ""
	}
	return filepath.Join(home, name)
}

// DefaultTokenPath returns the default path of the vgs access token file.
func DefaultTokenPath() string {
	return homeFile(".vgs_token")
}

// AccessSources returns the vgs access token chain. tokenFile overrides the
// default token file when not empty.
func AccessSources(explicit, tokenFile string) []TokenSource {
	var sources []TokenSource
	if explicit != "" {
		sources = append(sources, StaticSource(explicit))
	}
	sources = append(sources, EnvSource("VGS_TOKEN"))
	if tokenFile == "" {
		tokenFile = DefaultTokenPath()
	}
	if tokenFile != "" {
		sources = append(sources, FileSource(tokenFile))
	}
	return sources
}

// AccessToken resolves the vgs access token. It returns nil when none is
// configured, in which case access is open.
func AccessToken(explicit, tokenFile string) (*Token, error) {
	return GetTokenFromSources(AccessSources(explicit, tokenFile), nil)
}

// BVBRCSources returns the BV-BRC token chain.
func BVBRCSources() []TokenSource {
	sources := []TokenSource{EnvSource("P3_AUTH_TOKEN")}
	if p := homeFile(".patric_token"); p != "" {
		sources = append(sources, FileSource(p))
	}
	return sources
}

// BVBRCToken resolves an unexpired BV-BRC token, or nil.
func BVBRCToken() (*Token, error) {
	return GetTokenFromSources(BVBRCSources(), func(t *Token) bool {
		return strings.Contains(t.Raw, "un=") && !t.IsExpired()
	})
}

// GetTokenFromSources returns the first token accepted by valid (any
// non-empty token when valid is nil). Returns nil if none is found.
func GetTokenFromSources(sources []TokenSource, valid func(*Token) bool) (*Token, error) {
	for _, source := range sources {
		raw, err := source.Token()
		if err != nil {
			return nil, fmt.Errorf("error reading from %s: %w", source.Name(), err)
		}
		if raw == "" {
			continue
		}

		token := parseBVBRC(raw)
		token.Source = source.Name()
		if valid == nil || valid(token) {
			return token, nil
		}
	}
	return nil, nil
}
