package customizer

import (
	"os"
	"strings"
)

// CredentialProvider supplies the fallback credential used when a call passes none.
type CredentialProvider interface {
	Credential() string
}

// EnvCredential reads the named environment variable on every call.
type EnvCredential string

// Credential returns the current value of the environment variable.
func (e EnvCredential) Credential() string {
	return os.Getenv(string(e))
}

// StaticCredential is a fixed fallback credential for tests and embedders with a
// single known key. Config file keys are passed to Customize as the explicit credential.
type StaticCredential string

// Credential returns the fixed value.
func (s StaticCredential) Credential() string {
	return string(s)
}

// resolveCredential applies the two-tier rule: explicit argument, else provider.
func resolveCredential(explicit string, provider CredentialProvider) string {
	if strings.TrimSpace(explicit) != "" {
		return explicit
	}
	if provider == nil {
		return ""
	}
	return strings.TrimSpace(provider.Credential())
}
