// Package vault stores service secrets (the API bearer token, CAPTCHA
// solver keys) in the OS keychain with environment-variable fallback.
package vault

import (
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

const serviceName = "browserd"

// knownNames is the list of secrets checked by List().
var knownNames = []string{"auth", "capsolver", "twocaptcha"}

// Vault provides secure secret storage using the OS keychain,
// with fallback to environment variables.
type Vault struct{}

// New creates a new Vault instance.
func New() *Vault {
	return &Vault{}
}

// Set stores a secret under the given name in the OS keychain.
func (v *Vault) Set(name, secret string) error {
	return keyring.Set(serviceName, name, secret)
}

// Get retrieves the secret for the given name. It first checks the OS
// keychain, then falls back to the environment variable
// BROWSERD_KEY_{UPPER(name)}.
func (v *Vault) Get(name string) (string, error) {
	secret, err := keyring.Get(serviceName, name)
	if err == nil && secret != "" {
		return secret, nil
	}

	envKey := "BROWSERD_KEY_" + strings.ToUpper(name)
	if val := os.Getenv(envKey); val != "" {
		return val, nil
	}

	return "", fmt.Errorf("no secret found for %q: not in keychain and %s not set", name, envKey)
}

// Delete removes the secret for the given name from the OS keychain.
func (v *Vault) Delete(name string) error {
	return keyring.Delete(serviceName, name)
}

// List returns the known secret names that currently have values stored
// in either the keychain or the environment.
func (v *Vault) List() ([]string, error) {
	var names []string
	for _, name := range knownNames {
		if secret, err := keyring.Get(serviceName, name); err == nil && secret != "" {
			names = append(names, name)
			continue
		}
		envKey := "BROWSERD_KEY_" + strings.ToUpper(name)
		if val := os.Getenv(envKey); val != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// ResolveKeyRef parses a key reference and retrieves the secret.
// Supported formats:
//   - "keyring://browserd/<name>" (preferred)
//   - "env:VARIABLE_NAME" (environment variable)
//   - "file:///path/to/key" (plain-text file)
//   - anything else is treated as a literal secret value
func (v *Vault) ResolveKeyRef(keyRef string) (string, error) {
	if strings.HasPrefix(keyRef, "keyring://") {
		path := strings.TrimPrefix(keyRef, "keyring://")
		parts := strings.SplitN(path, "/", 2)
		if len(parts) != 2 || parts[0] != serviceName || parts[1] == "" {
			return "", fmt.Errorf("invalid key reference %q (expected \"keyring://browserd/<name>\")", keyRef)
		}
		return v.Get(parts[1])
	}

	if strings.HasPrefix(keyRef, "env:") {
		envVar := strings.TrimPrefix(keyRef, "env:")
		if val := os.Getenv(envVar); val != "" {
			return val, nil
		}
		return "", fmt.Errorf("environment variable %q is not set", envVar)
	}

	if strings.HasPrefix(keyRef, "file://") {
		filePath := strings.TrimPrefix(keyRef, "file://")
		data, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("reading key file %q: %w", filePath, err)
		}
		key := strings.TrimSpace(string(data))
		if key == "" {
			return "", fmt.Errorf("key file %q is empty", filePath)
		}
		return key, nil
	}

	return keyRef, nil
}

// ResolveOptional resolves a key reference, returning empty (no error)
// when the reference itself is empty.
func (v *Vault) ResolveOptional(keyRef string) (string, error) {
	if keyRef == "" {
		return "", nil
	}
	return v.ResolveKeyRef(keyRef)
}
