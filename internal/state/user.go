package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// User is the signed-in account.
type User struct {
	ID        int64  `yaml:"id,omitempty" json:"id,omitempty"`
	FirstName string `yaml:"first_name,omitempty" json:"first_name,omitempty"`
	LastName  string `yaml:"last_name,omitempty" json:"last_name,omitempty"`
	Email     string `yaml:"email,omitempty" json:"email,omitempty"`
}

// credentials is the on-disk form of a UserStore.
type credentials struct {
	User         *User  `yaml:"user,omitempty"`
	AccessToken  string `yaml:"access_token,omitempty"`
	RefreshToken string `yaml:"refresh_token,omitempty"`
	DeviceToken  string `yaml:"device_token,omitempty"`
}

// UserStore holds the signed-in user's tokens. IsAuthenticated follows the
// access token: it is true exactly when the token is non-empty.
type UserStore struct {
	mu    sync.RWMutex
	creds credentials
}

func NewUserStore() *UserStore {
	return &UserStore{}
}

func (s *UserStore) SetUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds.User = &u
}

func (s *UserStore) User() (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.creds.User == nil {
		return User{}, false
	}
	return *s.creds.User, true
}

func (s *UserStore) SetAccessToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds.AccessToken = token
}

func (s *UserStore) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.AccessToken
}

func (s *UserStore) SetRefreshToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds.RefreshToken = token
}

func (s *UserStore) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.RefreshToken
}

// SetDeviceToken stores the bearer token issued to an embedded device.
func (s *UserStore) SetDeviceToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds.DeviceToken = token
}

func (s *UserStore) DeviceToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.DeviceToken
}

func (s *UserStore) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.AccessToken != ""
}

// ClearTokens signs the user out. The device token is kept.
func (s *UserStore) ClearTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds.AccessToken = ""
	s.creds.RefreshToken = ""
	s.creds.User = nil
}

// Load reads credentials saved by Save. A missing file leaves the store empty.
func (s *UserStore) Load(path string) error {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read credentials: %w", err)
	}

	var c credentials
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return fmt.Errorf("parse credentials %s: %w", path, err)
	}

	s.mu.Lock()
	s.creds = c
	s.mu.Unlock()
	return nil
}

// Save writes the credentials with owner-only permissions.
func (s *UserStore) Save(path string) error {
	s.mu.RLock()
	raw, err := yaml.Marshal(s.creds)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}
