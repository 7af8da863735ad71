package auth

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseBVBRC(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		wantUser    string
		wantExpired bool
	}{
		{
			name:     "valid token with user",
			raw:      "un=testuser@example.com|expiry=9999999999|sig=abc123",
			wantUser: "testuser@example.com",
		},
		{
			name:        "expired token",
			raw:         "un=testuser@example.com|expiry=1000000000",
			wantUser:    "testuser@example.com",
			wantExpired: true,
		},
		{
			name: "plain token",
			raw:  "lab-secret",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := parseBVBRC(tt.raw)
			if token.UserID != tt.wantUser {
				t.Errorf("UserID = %q, want %q", token.UserID, tt.wantUser)
			}
			if token.IsExpired() != tt.wantExpired {
				t.Errorf("IsExpired() = %v, want %v", token.IsExpired(), tt.wantExpired)
			}
		})
	}

	noExpiry := parseBVBRC("un=user@example.com|sig=abc")
	if noExpiry.Expiry != (time.Time{}) {
		t.Error("Token without expiry should have zero time")
	}
}

func TestEnvSource(t *testing.T) {
	const testVar = "TEST_VGS_TOKEN_12345"
	t.Setenv(testVar, "  secret\n")

	token, err := EnvSource(testVar).Token()
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if token != "secret" {
		t.Errorf("Token() = %q, want %q", token, "secret")
	}

	token, err = EnvSource("NONEXISTENT_VAR_12345").Token()
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if token != "" {
		t.Errorf("Token() = %q, want empty", token)
	}
}

func TestFileSource(t *testing.T) {
	tmpDir := t.TempDir()
	tokenPath := filepath.Join(tmpDir, ".vgs_token")
	if err := os.WriteFile(tokenPath, []byte("filesecret\n"), 0600); err != nil {
		t.Fatalf("Failed to write test token file: %v", err)
	}

	token, err := FileSource(tokenPath).Token()
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if token != "filesecret" {
		t.Errorf("Token() = %q, want %q", token, "filesecret")
	}

	token, err = FileSource(filepath.Join(tmpDir, "nonexistent")).Token()
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if token != "" {
		t.Errorf("Token() = %q, want empty", token)
	}
}

func TestAccessToken(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	file := filepath.Join(dir, "token")
	os.WriteFile(file, []byte("from-file"), 0600)

	t.Setenv("VGS_TOKEN", "")
	tok, err := AccessToken("", file)
	if err != nil || tok == nil || tok.Raw != "from-file" {
		t.Fatalf("AccessToken() = %v, %v, want from-file", tok, err)
	}

	t.Setenv("VGS_TOKEN", "from-env")
	tok, _ = AccessToken("", file)
	if tok.Raw != "from-env" || tok.Source != "environment variable VGS_TOKEN" {
		t.Errorf("AccessToken() = %+v, want env token", tok)
	}

	tok, _ = AccessToken("explicit", file)
	if tok.Raw != "explicit" {
		t.Errorf("AccessToken() = %q, want explicit", tok.Raw)
	}

	t.Setenv("VGS_TOKEN", "")
	tok, err = AccessToken("", "")
	if err != nil || tok != nil {
		t.Errorf("AccessToken() without any source = %v, %v, want nil", tok, err)
	}
}

func TestBVBRCToken(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	t.Setenv("P3_AUTH_TOKEN", "un=user@example.com|expiry=1000000000")
	tok, err := BVBRCToken()
	if err != nil || tok != nil {
		t.Errorf("BVBRCToken() with expired token = %v, %v, want nil", tok, err)
	}

	t.Setenv("P3_AUTH_TOKEN", "un=user@example.com|expiry=9999999999")
	tok, err = BVBRCToken()
	if err != nil || tok == nil || tok.UserID != "user@example.com" {
		t.Errorf("BVBRCToken() = %v, %v", tok, err)
	}
}

func TestGetTokenFromSources(t *testing.T) {
	sources := []TokenSource{
		EnvSource("NONEXISTENT_VAR"),
		StaticSource("un=skipped|expiry=1000000000"),
		StaticSource("un=chainuser@example.com|expiry=9999999999"),
	}

	token, err := GetTokenFromSources(sources, func(t *Token) bool { return !t.IsExpired() })
	if err != nil {
		t.Fatalf("GetTokenFromSources() error = %v", err)
	}
	if token == nil {
		t.Fatal("GetTokenFromSources() returned nil")
	}
	if token.UserID != "chainuser@example.com" {
		t.Errorf("UserID = %q, want %q", token.UserID, "chainuser@example.com")
	}
}

func TestMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := Middleware(&Token{Raw: "s3cret"}, "/healthz")(ok)

	tests := []struct {
		name   string
		req    func() *http.Request
		status int
	}{
		{"no token", func() *http.Request { return httptest.NewRequest("GET", "/", nil) }, http.StatusUnauthorized},
		{"open path", func() *http.Request { return httptest.NewRequest("GET", "/healthz", nil) }, http.StatusNoContent},
		{"bearer", func() *http.Request {
			r := httptest.NewRequest("GET", "/jobs", nil)
			r.Header.Set("Authorization", "Bearer s3cret")
			return r
		}, http.StatusNoContent},
		{"wrong bearer", func() *http.Request {
			r := httptest.NewRequest("GET", "/jobs", nil)
			r.Header.Set("Authorization", "Bearer nope")
			return r
		}, http.StatusUnauthorized},
		{"cookie", func() *http.Request {
			r := httptest.NewRequest("GET", "/jobs", nil)
			r.AddCookie(&http.Cookie{Name: CookieName, Value: "s3cret"})
			return r
		}, http.StatusNoContent},
		{"query", func() *http.Request { return httptest.NewRequest("GET", "/?token=s3cret", nil) }, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, tt.req())
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/?token=s3cret", nil))
	if c := rec.Result().Cookies(); len(c) != 1 || c[0].Value != "s3cret" {
		t.Errorf("query token should set the cookie, got %v", c)
	}

	rec = httptest.NewRecorder()
	Middleware(nil)(ok).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("nil token should allow access, got %d", rec.Code)
	}
}
