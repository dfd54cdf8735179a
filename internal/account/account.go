// Package account stores local user accounts for signup and login.
package account

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/gatherapp/gather/internal/models"
)

var (
	// ErrInvalidCredentials is returned by Login for a wrong password or an
	// unregistered username.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrUserExists is returned by Signup when the username is taken.
	ErrUserExists = errors.New("username already registered")

	// ErrMissingField is returned when the username or password is empty.
	ErrMissingField = errors.New("username and password are required")

	// ErrUnknownUser is returned by JoinGroup for a username with no account.
	ErrUnknownUser = errors.New("unknown user")
)

// Store is the credential store the CLI authenticates against.
type Store interface {
	Signup(username, password string) (*models.User, error)
	Login(username, password string) (*models.User, error)
	JoinGroup(username string, groupID int64) error
}

// accountsFile is the on-disk layout.
type accountsFile struct {
	Users []*models.User `yaml:"users"`
}

// FileStore keeps accounts in a YAML file with bcrypt password hashes.
// Every call rereads the file, so separate processes see each other's
// signups.
type FileStore struct {
	path string
	cost int
	mu   sync.Mutex
}

// NewFileStore creates a store backed by path. The file is created on the
// first signup.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, cost: bcrypt.DefaultCost}
}

// Path returns the accounts file location.
func (s *FileStore) Path() string {
	return s.path
}

// Signup creates an admin account.
func (s *FileStore) Signup(username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrMissingField
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return nil, err
	}
	if find(f, username) != nil {
		return nil, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Username:     username,
		PasswordHash: string(hash),
		Role:         models.RoleAdmin,
	}
	if err := user.Validate(); err != nil {
		return nil, err
	}

	f.Users = append(f.Users, user)
	if err := s.save(f); err != nil {
		return nil, err
	}
	return user, nil
}

// Login returns the account when the password matches.
func (s *FileStore) Login(username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrMissingField
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return nil, err
	}
	user := find(f, username)
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// JoinGroup records that username belongs to groupID.
func (s *FileStore) JoinGroup(username string, groupID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return err
	}
	user := find(f, username)
	if user == nil {
		return fmt.Errorf("%w: %s", ErrUnknownUser, username)
	}
	user.JoinGroup(groupID)
	return s.save(f)
}

func find(f *accountsFile, username string) *models.User {
	for _, u := range f.Users {
		if u.Username == username {
			return u
		}
	}
	return nil
}

func (s *FileStore) load() (*accountsFile, error) {
	// #nosec G304 - path comes from configuration
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &accountsFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read accounts file: %w", err)
	}

	var f accountsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse accounts file: %w", err)
	}
	return &f, nil
}

func (s *FileStore) save(f *accountsFile) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create accounts directory: %w", err)
	}

	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal accounts: %w", err)
	}

	// Write atomically via temp file
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
