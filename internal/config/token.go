package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	tokenService = "calscribe"
	tokenAccount = "api_token"
)

// Keychain abstracts the platform secret store for the API bearer token.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

type platformKeychain struct{}

// NewKeychain returns the platform-native secret store.
func NewKeychain() Keychain {
	return platformKeychain{}
}

func (platformKeychain) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (platformKeychain) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}

// GetAPIToken returns the bearer token used by CLI clients to talk to the
// local server, generating and persisting one on first use.
func GetAPIToken(kc Keychain) (string, error) {
	if token, err := kc.Get(tokenService, tokenAccount); err == nil && token != "" {
		return token, nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating API token: %w", err)
	}
	token := hex.EncodeToString(buf)

	if err := kc.Set(tokenService, tokenAccount, token); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return token, nil
}
