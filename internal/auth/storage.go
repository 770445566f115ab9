// ABOUTME: Credential storage for candlepin and registry accounts with OS keychain fallback
// ABOUTME: Keeps secrets out of settings files and report output across CLI sessions
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/gillisandrew/regverify/internal/domain"
)

const (
	// Keychain service name
	KeyringService = "regverify"

	// Fallback file storage, under the user config directory
	ConfigDir = "regverify"
)

// Account names a set of stored credentials
type Account string

const (
	// Candlepin basic-auth user for the auth method scenario
	AccountCandlepin Account = "candlepin"
	// OCI registry that receives pushed reports
	AccountRegistry Account = "registry"
)

// ParseAccount validates an account name
func ParseAccount(raw string) (Account, error) {
	switch Account(raw) {
	case AccountCandlepin, AccountRegistry:
		return Account(raw), nil
	default:
		return "", fmt.Errorf("unknown account %q (must be 'candlepin' or 'registry')", raw)
	}
}

// Storage backends
const (
	SourceKeychain = "keychain"
	SourceFile     = "file"
)

// ErrNotFound is returned when no credential is stored for an account
var ErrNotFound = errors.New("no stored credential")

type StoredCredential struct {
	Username  string    `json:"username"`
	Secret    string    `json:"secret"`
	Host      string    `json:"host,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Source    string    `json:"source"`
}

// StorageOpts configures where credentials are kept
type StorageOpts struct {
	// Keychain service name (default: "regverify")
	Service string

	// Fallback directory (default: user config dir)
	Dir string

	// Skip the keychain and use the file store only
	FileOnly bool
}

// DefaultStorageOpts returns the default storage options
func DefaultStorageOpts() *StorageOpts {
	return &StorageOpts{
		Service: KeyringService,
	}
}

// WithDir sets the fallback directory
func (opts *StorageOpts) WithDir(dir string) *StorageOpts {
	opts.Dir = dir
	return opts
}

// WithFileOnly disables the keychain
func (opts *StorageOpts) WithFileOnly(fileOnly bool) *StorageOpts {
	opts.FileOnly = fileOnly
	return opts
}

// Storage persists one credential per account
type Storage struct {
	opts *StorageOpts
}

// NewStorage creates a credential store with the given options
func NewStorage(opts *StorageOpts) *Storage {
	if opts == nil {
		opts = DefaultStorageOpts()
	}
	return &Storage{opts: opts}
}

// Store saves the credential and returns the backend that accepted it
func (s *Storage) Store(account Account, cred StoredCredential) (string, error) {
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now()
	}

	// Try to store in OS keychain first
	if !s.opts.FileOnly {
		cred.Source = SourceKeychain
		if err := s.storeInKeychain(account, cred); err == nil {
			return SourceKeychain, nil
		}
	}

	// Fallback to file storage
	cred.Source = SourceFile
	if err := s.storeInFile(account, cred); err != nil {
		return "", fmt.Errorf("failed to store %s credential: %w", account, err)
	}
	return SourceFile, nil
}

// Get retrieves the stored credential for an account
func (s *Storage) Get(account Account) (*StoredCredential, error) {
	if !s.opts.FileOnly {
		if cred, err := s.getFromKeychain(account); err == nil {
			return cred, nil
		}
	}
	return s.getFromFile(account)
}

// Clear removes the account's credential from every backend
func (s *Storage) Clear(account Account) error {
	if !s.opts.FileOnly {
		_ = keyring.Delete(s.opts.Service, string(account))
	}

	path, err := s.credentialPath(account)
	if err != nil {
		return nil // If we can't get path, nothing to clear
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove credential file: %w", err)
	}
	return nil
}

func (s *Storage) storeInKeychain(account Account, cred StoredCredential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}

	return keyring.Set(s.opts.Service, string(account), string(data))
}

func (s *Storage) getFromKeychain(account Account) (*StoredCredential, error) {
	data, err := keyring.Get(s.opts.Service, string(account))
	if err != nil {
		return nil, fmt.Errorf("failed to get from keychain: %w", err)
	}

	var cred StoredCredential
	if err := json.Unmarshal([]byte(data), &cred); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credential: %w", err)
	}

	return &cred, nil
}

func (s *Storage) storeInFile(account Account, cred StoredCredential) error {
	path, err := s.credentialPath(account)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}

	// Write to file with restricted permissions
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write credential file: %w", err)
	}

	return nil
}

func (s *Storage) getFromFile(account Account) (*StoredCredential, error) {
	path, err := s.credentialPath(account)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w for %s", ErrNotFound, account)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential file: %w", err)
	}

	var cred StoredCredential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credential: %w", err)
	}

	return &cred, nil
}

func (s *Storage) credentialPath(account Account) (string, error) {
	dir := s.opts.Dir
	if dir == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("failed to get config directory: %w", err)
		}
		dir = filepath.Join(configDir, ConfigDir)
	}
	return filepath.Join(dir, "credentials-"+string(account)+".json"), nil
}

// Resolve fills empty fields of creds from the account's stored credential
func (s *Storage) Resolve(account Account, creds domain.Credentials) domain.Credentials {
	if creds.Username != "" && creds.Password != "" {
		return creds
	}
	stored, err := s.Get(account)
	if err != nil {
		return creds
	}
	if creds.Username == "" {
		creds.Username = stored.Username
	}
	if creds.Password == "" && creds.Username == stored.Username {
		creds.Password = stored.Secret
	}
	return creds
}
