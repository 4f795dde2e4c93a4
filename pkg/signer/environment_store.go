package signer

import (
	"os"
	"time"
)

// EnvironmentStore implements SessionStore using environment variables.
// Useful for headless deployments where no keychain or config dir exists.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based session store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(session *Session) error {
	return ErrStoreUnavailable
}

// Retrieve builds a session from environment variables
func (e *EnvironmentStore) Retrieve(account string) (*Session, error) {
	a1 := os.Getenv("REDBOOK_A1")
	webSession := os.Getenv("REDBOOK_WEB_SESSION")
	b1 := os.Getenv("REDBOOK_B1")
	userAgent := os.Getenv("REDBOOK_USER_AGENT")

	if a1 == "" || webSession == "" {
		return nil, ErrSessionNotFound
	}

	// Environment variables don't carry an account name
	if account == "" {
		account = "default"
	}

	session := &Session{
		Account: account,
		Cookies: map[string]string{
			"a1":          a1,
			"web_session": webSession,
		},
		UserAgent:    userAgent,
		LastModified: time.Now(),
	}
	if b1 != "" {
		session.LocalStorage = map[string]string{"b1": b1}
	}
	return session, nil
}

// List returns a single session if environment variables are set
func (e *EnvironmentStore) List() ([]*Session, error) {
	session, err := e.Retrieve("")
	if err != nil {
		return []*Session{}, nil
	}
	return []*Session{session}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(account string) error {
	return ErrStoreUnavailable
}

// Exists checks if environment session variables are set
func (e *EnvironmentStore) Exists(account string) bool {
	return os.Getenv("REDBOOK_A1") != "" && os.Getenv("REDBOOK_WEB_SESSION") != ""
}
