package auth

import (
	"os"
	"time"
)

// EnvironmentStore reads POSTGRES_USER and POSTGRES_PASSWORD. It answers for
// every profile and cannot be written.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(cred *Credential) error {
	return ErrStoreUnavailable
}

// Retrieve gets credentials from environment variables
func (e *EnvironmentStore) Retrieve(profile string) (*Credential, error) {
	user := os.Getenv("POSTGRES_USER")
	password := os.Getenv("POSTGRES_PASSWORD")
	if password == "" {
		return nil, ErrCredentialsNotFound
	}

	if profile == "" {
		profile = "environment"
	}
	return &Credential{
		Profile:      profile,
		User:         user,
		Password:     password,
		LastModified: time.Now(),
	}, nil
}

// List returns a single credential if the environment carries one
func (e *EnvironmentStore) List() ([]*Credential, error) {
	cred, err := e.Retrieve("")
	if err != nil {
		return []*Credential{}, nil
	}
	return []*Credential{cred}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(profile string) error {
	return ErrStoreUnavailable
}

// Exists checks if environment credentials exist
func (e *EnvironmentStore) Exists(profile string) bool {
	return os.Getenv("POSTGRES_PASSWORD") != ""
}
