package moderation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
)

// Directory is the identity provider and user store the engine consults.
// Roles are looked up per operation and never cached by the engine.
type Directory interface {
	RoleOf(ctx context.Context, userID string) (Role, error)
	DisplayName(ctx context.Context, userID string) string
	// ClearSuspension lifts any account-level suspension flag. It must be idempotent.
	ClearSuspension(ctx context.Context, userID string) error
}

// DirectoryUser is one entry of the directory config file
type DirectoryUser struct {
	ID        string `json:"id"`
	Handle    string `json:"handle,omitempty"`
	Role      Role   `json:"role"`
	Email     string `json:"email,omitempty"`
	Suspended bool   `json:"suspended,omitempty"`
}

// DirectoryConfig is the on-disk format of the directory file
type DirectoryConfig struct {
	Users []DirectoryUser `json:"users"`
}

// Validate checks the config for duplicate ids and unknown roles
func (c *DirectoryConfig) Validate() error {
	seen := make(map[string]bool, len(c.Users))
	for _, u := range c.Users {
		if u.ID == "" {
			return fmt.Errorf("user entry missing id")
		}
		if seen[u.ID] {
			return fmt.Errorf("duplicate user %q", u.ID)
		}
		seen[u.ID] = true
		if !u.Role.Valid() {
			return fmt.Errorf("user %q has unknown role %q", u.ID, u.Role)
		}
	}
	return nil
}

// ConfigDirectory is a Directory backed by a JSON file.
// Users not listed in the file have the plain user role.
type ConfigDirectory struct {
	mu         sync.RWMutex
	configPath string

	users map[string]*DirectoryUser
}

var _ Directory = (*ConfigDirectory)(nil)

// NewConfigDirectory loads the directory from configPath.
// An empty path or a missing file yields a directory where everyone is a plain user.
func NewConfigDirectory(configPath string) (*ConfigDirectory, error) {
	d := &ConfigDirectory{
		configPath: configPath,
		users:      make(map[string]*DirectoryUser),
	}

	if configPath == "" {
		log.Info().Msg("moderation: no directory config provided, all users have the user role")
		return d, nil
	}

	if err := d.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load directory config: %w", err)
	}

	return d, nil
}

// NewStaticDirectory builds a directory from an in-memory user list
func NewStaticDirectory(users ...DirectoryUser) (*ConfigDirectory, error) {
	cfg := DirectoryConfig{Users: users}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid directory: %w", err)
	}
	d := &ConfigDirectory{}
	d.apply(&cfg)
	return d, nil
}

func (d *ConfigDirectory) loadConfig() error {
	data, err := os.ReadFile(d.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("path", d.configPath).Msg("moderation: directory config not found, all users have the user role")
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg DirectoryConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	d.apply(&cfg)

	log.Info().
		Int("users", len(cfg.Users)).
		Str("path", d.configPath).
		Msg("moderation: directory loaded")

	return nil
}

func (d *ConfigDirectory) apply(cfg *DirectoryConfig) {
	users := make(map[string]*DirectoryUser, len(cfg.Users))
	for i := range cfg.Users {
		u := cfg.Users[i]
		users[u.ID] = &u
	}

	d.mu.Lock()
	d.users = users
	d.mu.Unlock()
}

// Reload reloads the directory from disk
func (d *ConfigDirectory) Reload() error {
	if d.configPath == "" {
		return nil
	}
	return d.loadConfig()
}

// RoleOf returns the role of userID, defaulting to RoleUser
func (d *ConfigDirectory) RoleOf(_ context.Context, userID string) (Role, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if u, ok := d.users[userID]; ok {
		return u.Role, nil
	}
	return RoleUser, nil
}

// DisplayName returns the handle of userID, or the id itself
func (d *ConfigDirectory) DisplayName(_ context.Context, userID string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if u, ok := d.users[userID]; ok && u.Handle != "" {
		return u.Handle
	}
	return userID
}

// EmailOf returns the email address on file for userID
func (d *ConfigDirectory) EmailOf(userID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[userID]
	if !ok || u.Email == "" {
		return "", false
	}
	return u.Email, true
}

// IsSuspended reports the account-level suspension flag
func (d *ConfigDirectory) IsSuspended(userID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[userID]
	return ok && u.Suspended
}

// ClearSuspension clears the account-level suspension flag in memory.
func (d *ConfigDirectory) ClearSuspension(_ context.Context, userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if u, ok := d.users[userID]; ok && u.Suspended {
		u.Suspended = false
		log.Info().Str("user", userID).Msg("moderation: suspension flag cleared")
	}
	return nil
}

// ListStaff returns all moderators and admins
func (d *ConfigDirectory) ListStaff() []DirectoryUser {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var result []DirectoryUser
	for _, u := range d.users {
		if u.Role.IsStaff() {
			result = append(result, *u)
		}
	}
	return result
}
