package calendar

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

// setupTestEnv points the XDG dirs at a temp dir.
func setupTestEnv(t *testing.T) (cfgDir, datDir string) {
	t.Helper()

	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)
	t.Setenv("XDG_DATA_HOME", tmp)

	cfgDir, err := configDir()
	if err != nil {
		t.Fatalf("configDir: %v", err)
	}
	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	datDir, err = dataDir()
	if err != nil {
		t.Fatalf("dataDir: %v", err)
	}
	return cfgDir, datDir
}

func writeTestCredentials(t *testing.T, dir string, creds Credentials) {
	t.Helper()

	data, err := json.Marshal(creds)
	if err != nil {
		t.Fatalf("marshal credentials: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, credentialsFile), data, 0644); err != nil {
		t.Fatalf("write credentials: %v", err)
	}
}

func TestLoadCredentialsMissingIsNotAuthorized(t *testing.T) {
	setupTestEnv(t)

	_, err := LoadCredentials()
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("err = %v, want ErrNotAuthorized", err)
	}
}

func TestLoadCredentialsIncomplete(t *testing.T) {
	cfgDir, _ := setupTestEnv(t)
	writeTestCredentials(t, cfgDir, Credentials{ClientID: "id-only"})

	if _, err := LoadCredentials(); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("err = %v, want ErrNotAuthorized", err)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	setupTestEnv(t)

	tok := &oauth2.Token{
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour).Truncate(time.Second),
	}
	if err := SaveToken(tok); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}

	loaded, err := LoadToken()
	if err != nil {
		t.Fatalf("LoadToken: %v", err)
	}
	if loaded.AccessToken != "access" || loaded.RefreshToken != "refresh" {
		t.Errorf("loaded = %+v", loaded)
	}
}

func TestLoadTokenMissingReturnsNil(t *testing.T) {
	setupTestEnv(t)

	tok, err := LoadToken()
	if err != nil {
		t.Fatalf("LoadToken: %v", err)
	}
	if tok != nil {
		t.Errorf("tok = %+v, want nil", tok)
	}
}

func TestTokenFilePermissions(t *testing.T) {
	_, datDir := setupTestEnv(t)

	if err := SaveToken(&oauth2.Token{AccessToken: "a"}); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}
	info, err := os.Stat(filepath.Join(datDir, tokenFile))
	if err != nil {
		t.Fatalf("stat token: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("perm = %o, want 0600", info.Mode().Perm())
	}
}

func TestAuthURLContainsClientAndRedirect(t *testing.T) {
	cfgDir, _ := setupTestEnv(t)
	writeTestCredentials(t, cfgDir, Credentials{ClientID: "my-client", ClientSecret: "shh"})

	url, err := AuthURL("http://localhost:4600/auth/callback")
	if err != nil {
		t.Fatalf("AuthURL: %v", err)
	}
	if !strings.Contains(url, "my-client") {
		t.Error("auth URL missing client id")
	}
	if !strings.Contains(url, "access_type=offline") {
		t.Error("auth URL missing offline access")
	}
}

func TestIsAuthorized(t *testing.T) {
	cfgDir, _ := setupTestEnv(t)
	if IsAuthorized() {
		t.Error("IsAuthorized() = true with no credentials")
	}

	writeTestCredentials(t, cfgDir, Credentials{ClientID: "id", ClientSecret: "secret"})
	if IsAuthorized() {
		t.Error("IsAuthorized() = true with no token")
	}

	if err := SaveToken(&oauth2.Token{AccessToken: "a"}); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}
	if !IsAuthorized() {
		t.Error("IsAuthorized() = false with credentials and token")
	}
}
