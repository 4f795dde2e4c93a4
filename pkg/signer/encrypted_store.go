package signer

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

// Key derivation parameters for the session file
const (
	kdfIterations = 100000
	kdfSaltLen    = 32
	kdfKeyLen     = 32
)

// EncryptedFileStore keeps all sessions in a single AES-GCM encrypted file.
// The cipher key is derived from a passphrase taken from REDBOOK_PASSPHRASE,
// falling back to a generated one persisted next to the config.
type EncryptedFileStore struct {
	path       string
	passphrase string
	mu         sync.RWMutex
}

// vaultFile is the plaintext envelope written to disk. Only the session map
// inside Encrypted is ciphertext.
type vaultFile struct {
	Salt      string    `json:"salt"`
	Encrypted string    `json:"encrypted"`
	Version   int       `json:"version"`
	Modified  time.Time `json:"modified"`
}

// NewEncryptedFileStore creates an encrypted file-based session store
func NewEncryptedFileStore(path string) (*EncryptedFileStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	passphrase, err := loadPassphrase()
	if err != nil {
		return nil, fmt.Errorf("failed to get passphrase: %w", err)
	}
	return &EncryptedFileStore{path: path, passphrase: passphrase}, nil
}

// Store saves a session into the encrypted file
func (e *EncryptedFileStore) Store(session *Session) error {
	if session == nil || session.Account == "" {
		return ErrInvalidSession
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	sessions, salt, err := e.open()
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if sessions == nil {
		sessions = make(map[string]Session)
	}
	sessions[session.Account] = *session
	return e.seal(sessions, salt)
}

// Retrieve gets a session from the encrypted file
func (e *EncryptedFileStore) Retrieve(account string) (*Session, error) {
	if account == "" {
		return nil, ErrInvalidSession
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	sessions, _, err := e.open()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	session, ok := sessions[account]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &session, nil
}

// List returns all stored sessions
func (e *EncryptedFileStore) List() ([]*Session, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	sessions, _, err := e.open()
	if err != nil {
		if os.IsNotExist(err) {
			return []*Session{}, nil
		}
		return nil, err
	}

	list := make([]*Session, 0, len(sessions))
	for account := range sessions {
		session := sessions[account]
		list = append(list, &session)
	}
	return list, nil
}

// Delete removes a session. Deleting the last session removes the file.
func (e *EncryptedFileStore) Delete(account string) error {
	if account == "" {
		return ErrInvalidSession
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	sessions, salt, err := e.open()
	if err != nil {
		if os.IsNotExist(err) {
			return ErrSessionNotFound
		}
		return err
	}
	if _, ok := sessions[account]; !ok {
		return ErrSessionNotFound
	}

	delete(sessions, account)
	if len(sessions) == 0 {
		return os.Remove(e.path)
	}
	return e.seal(sessions, salt)
}

// Exists checks if a session exists
func (e *EncryptedFileStore) Exists(account string) bool {
	session, err := e.Retrieve(account)
	return err == nil && session != nil
}

// open reads and decrypts the session file, returning the sessions and the
// salt in use so saves keep the derived key stable.
func (e *EncryptedFileStore) open() (map[string]Session, []byte, error) {
	content, err := os.ReadFile(e.path)
	if err != nil {
		return nil, nil, err
	}

	var file vaultFile
	if err := json.Unmarshal(content, &file); err != nil {
		return nil, nil, fmt.Errorf("malformed session file: %w", err)
	}
	salt, err := base64.StdEncoding.DecodeString(file.Salt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode salt: %w", err)
	}
	sealed, err := base64.StdEncoding.DecodeString(file.Encrypted)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode encrypted data: %w", err)
	}

	gcm, err := e.cipherFor(salt)
	if err != nil {
		return nil, nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, nil, errors.New("session file truncated")
	}
	plain, err := gcm.Open(nil, sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():], nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decrypt sessions: %w", err)
	}

	sessions := make(map[string]Session)
	if err := json.Unmarshal(plain, &sessions); err != nil {
		return nil, nil, fmt.Errorf("failed to decode sessions: %w", err)
	}
	return sessions, salt, nil
}

// seal encrypts the sessions and replaces the file through a temp rename so
// a crash never leaves a half-written file. A nil salt starts a fresh one.
func (e *EncryptedFileStore) seal(sessions map[string]Session, salt []byte) error {
	if salt == nil {
		salt = make([]byte, kdfSaltLen)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return fmt.Errorf("failed to generate salt: %w", err)
		}
	}

	gcm, err := e.cipherFor(salt)
	if err != nil {
		return err
	}
	plain, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("failed to marshal sessions: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	content, err := json.MarshalIndent(vaultFile{
		Salt:      base64.StdEncoding.EncodeToString(salt),
		Encrypted: base64.StdEncoding.EncodeToString(gcm.Seal(nonce, nonce, plain, nil)),
		Version:   1,
		Modified:  time.Now(),
	}, "", "  ")
	if err != nil {
		return err
	}

	tmp := e.path + ".tmp"
	if err := os.WriteFile(tmp, content, 0600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return os.Rename(tmp, e.path)
}

// cipherFor derives the file key from the passphrase and salt
func (e *EncryptedFileStore) cipherFor(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(e.passphrase), salt, kdfIterations, kdfKeyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// loadPassphrase returns the environment passphrase when set, otherwise the
// persisted generated one, creating it on first use.
func loadPassphrase() (string, error) {
	if pass := os.Getenv("REDBOOK_PASSPHRASE"); pass != "" {
		return pass, nil
	}

	configDir, err := getConfigDir()
	if err != nil {
		return "", err
	}
	passphraseFile := filepath.Join(configDir, ".passphrase")
	if content, err := os.ReadFile(passphraseFile); err == nil && len(content) > 0 {
		return string(content), nil
	}

	raw := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("failed to generate passphrase: %w", err)
	}
	passphrase := base64.URLEncoding.EncodeToString(raw)
	if err := os.WriteFile(passphraseFile, []byte(passphrase), 0600); err != nil {
		return "", fmt.Errorf("failed to save passphrase: %w", err)
	}
	return passphrase, nil
}
