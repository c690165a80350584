package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
)

const (
	credentialsFile = "gcal-credentials.json"
	tokenFile       = "gcal-token.json"
)

// Credentials holds the OAuth client credentials the user provisions once.
type Credentials struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

func configDir() (string, error) {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "calscribe"), nil
}

func dataDir() (string, error) {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	dir := filepath.Join(dataHome, "calscribe")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

// LoadCredentials reads the OAuth client credentials from the config dir.
func LoadCredentials() (*Credentials, error) {
	dir, err := configDir()
	if err != nil {
		return nil, fmt.Errorf("get config dir: %w", err)
	}

	path := filepath.Join(dir, credentialsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: credentials not found at %s", ErrNotAuthorized, path)
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return nil, fmt.Errorf("%w: credentials file missing clientId or clientSecret", ErrNotAuthorized)
	}
	return &creds, nil
}

func oauthConfig(creds *Credentials, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  redirectURL,
		Scopes:       []string{gcal.CalendarEventsScope},
	}
}

// LoadToken loads the saved OAuth token. A missing token returns (nil, nil).
func LoadToken() (*oauth2.Token, error) {
	dir, err := dataDir()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, tokenFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read token: %w", err)
	}

	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	return &tok, nil
}

// SaveToken persists the OAuth token with 0600 permissions.
func SaveToken(token *oauth2.Token) error {
	dir, err := dataDir()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, tokenFile), data, 0600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return nil
}

// AuthURL returns the consent URL the user visits to authorize access. The
// redirect lands on the local API server, which exchanges the code.
func AuthURL(redirectURL string) (string, error) {
	creds, err := LoadCredentials()
	if err != nil {
		return "", err
	}
	cfg := oauthConfig(creds, redirectURL)
	return cfg.AuthCodeURL("state", oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// Exchange trades an authorization code for a token and saves it.
func Exchange(ctx context.Context, code, redirectURL string) error {
	creds, err := LoadCredentials()
	if err != nil {
		return err
	}
	cfg := oauthConfig(creds, redirectURL)

	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange code: %w", err)
	}
	return SaveToken(token)
}

// GetClient returns an authenticated HTTP client, refreshing and re-saving
// the token when needed. Missing credentials or token yield ErrNotAuthorized.
func GetClient(ctx context.Context) (*http.Client, error) {
	creds, err := LoadCredentials()
	if err != nil {
		return nil, err
	}

	token, err := LoadToken()
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}
	if token == nil {
		return nil, fmt.Errorf("%w: no token found, run 'calscribe auth url' first", ErrNotAuthorized)
	}

	cfg := oauthConfig(creds, "")
	source := cfg.TokenSource(ctx, token)

	fresh, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAuthorized, err)
	}
	if fresh.AccessToken != token.AccessToken {
		if err := SaveToken(fresh); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to save refreshed token: %v\n", err)
		}
	}

	return oauth2.NewClient(ctx, source), nil
}

// IsAuthorized reports whether credentials and a token are present.
func IsAuthorized() bool {
	if _, err := LoadCredentials(); err != nil {
		return false
	}
	token, err := LoadToken()
	return err == nil && token != nil
}
