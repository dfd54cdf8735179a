package account

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/gatherapp/gather/internal/models"
)

var _ Store = (*FileStore)(nil)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s := NewFileStore(filepath.Join(t.TempDir(), "accounts.yaml"))
	s.cost = bcrypt.MinCost
	return s
}

func TestSignupLogin(t *testing.T) {
	s := newTestStore(t)

	user, err := s.Signup("alice", "s3cret")
	if err != nil {
		t.Fatalf("Signup failed: %v", err)
	}
	if user.Role != models.RoleAdmin {
		t.Errorf("role = %q, want admin", user.Role)
	}
	if user.PasswordHash == "s3cret" || user.PasswordHash == "" {
		t.Error("password stored without hashing")
	}

	got, err := s.Login("alice", "s3cret")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if got.Username != "alice" {
		t.Errorf("username = %q", got.Username)
	}

	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("Failed to read accounts file: %v", err)
	}
	if strings.Contains(string(data), "s3cret") {
		t.Error("plaintext password found in accounts file")
	}
}

func TestSignupErrors(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Signup("alice", "pw"); err != nil {
		t.Fatalf("Signup failed: %v", err)
	}

	tests := []struct {
		name     string
		username string
		password string
		want     error
	}{
		{"duplicate", "alice", "other", ErrUserExists},
		{"empty username", "", "pw", ErrMissingField},
		{"blank username", "   ", "pw", ErrMissingField},
		{"empty password", "bob", "", ErrMissingField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Signup(tt.username, tt.password); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestLoginErrors(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Signup("alice", "pw"); err != nil {
		t.Fatalf("Signup failed: %v", err)
	}

	tests := []struct {
		name     string
		username string
		password string
		want     error
	}{
		{"wrong password", "alice", "nope", ErrInvalidCredentials},
		{"unknown user", "mallory", "pw", ErrInvalidCredentials},
		{"missing password", "alice", "", ErrMissingField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Login(tt.username, tt.password); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestJoinGroupPersists(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Signup("alice", "pw"); err != nil {
		t.Fatalf("Signup failed: %v", err)
	}

	for _, id := range []int64{1, 2, 1} {
		if err := s.JoinGroup("alice", id); err != nil {
			t.Fatalf("JoinGroup(%d) failed: %v", id, err)
		}
	}
	if err := s.JoinGroup("bob", 1); !errors.Is(err, ErrUnknownUser) {
		t.Errorf("expected ErrUnknownUser, got %v", err)
	}

	// A second store on the same file sees the membership.
	other := NewFileStore(s.Path())
	user, err := other.Login("alice", "pw")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if len(user.Groups) != 2 || user.Groups[0] != 1 || user.Groups[1] != 2 {
		t.Errorf("groups = %v, want [1 2]", user.Groups)
	}
}

func TestCorruptFile(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(s.Path(), []byte("users: [unterminated"), 0o600); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if _, err := s.Login("alice", "pw"); err == nil || errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected parse error, got %v", err)
	}
}
