package moderation

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDirectory_NoConfig(t *testing.T) {
	// everyone is a plain user when no file is configured
	dir, err := NewConfigDirectory("")
	require.NoError(t, err)

	role, err := dir.RoleOf(context.Background(), "did:plc:test")
	require.NoError(t, err)
	assert.Equal(t, RoleUser, role)
	assert.Empty(t, dir.ListStaff())
}

func TestNewConfigDirectory_MissingFile(t *testing.T) {
	dir, err := NewConfigDirectory("/nonexistent/path/directory.json")
	require.NoError(t, err)

	role, err := dir.RoleOf(context.Background(), "did:plc:test")
	require.NoError(t, err)
	assert.Equal(t, RoleUser, role)
}

func TestNewConfigDirectory_InvalidJSON(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "directory.json")
	require.NoError(t, os.WriteFile(configPath, []byte("not valid json"), 0644))

	_, err := NewConfigDirectory(configPath)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestNewConfigDirectory_InvalidRole(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "directory.json")
	config := `{"users": [{"id": "did:plc:test", "role": "owner"}]}`
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0644))

	_, err := NewConfigDirectory(configPath)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown role")
}

func TestNewConfigDirectory_DuplicateUser(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "directory.json")
	config := `{"users": [
		{"id": "did:plc:a", "role": "admin"},
		{"id": "did:plc:a", "role": "moderator"}
	]}`
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0644))

	_, err := NewConfigDirectory(configPath)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate user")
}

func createTestDirectory(t *testing.T) *ConfigDirectory {
	configPath := filepath.Join(t.TempDir(), "directory.json")
	config := `{
		"users": [
			{"id": "did:plc:admin1", "handle": "admin.test", "role": "admin", "email": "admin@example.com"},
			{"id": "did:plc:mod1", "handle": "mod.test", "role": "moderator"},
			{"id": "did:plc:user1", "role": "user", "suspended": true, "email": "user1@example.com"}
		]
	}`
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0644))

	dir, err := NewConfigDirectory(configPath)
	require.NoError(t, err)
	return dir
}

func TestConfigDirectory_Roles(t *testing.T) {
	dir := createTestDirectory(t)
	ctx := context.Background()

	tests := []struct {
		id   string
		want Role
	}{
		{"did:plc:admin1", RoleAdmin},
		{"did:plc:mod1", RoleModerator},
		{"did:plc:user1", RoleUser},
		{"did:plc:unknown", RoleUser},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			role, err := dir.RoleOf(ctx, tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.want, role)
		})
	}

	assert.Len(t, dir.ListStaff(), 2)
}

func TestConfigDirectory_DisplayNameAndEmail(t *testing.T) {
	dir := createTestDirectory(t)
	ctx := context.Background()

	assert.Equal(t, "admin.test", dir.DisplayName(ctx, "did:plc:admin1"))
	assert.Equal(t, "did:plc:user1", dir.DisplayName(ctx, "did:plc:user1"))
	assert.Equal(t, "did:plc:nobody", dir.DisplayName(ctx, "did:plc:nobody"))

	email, ok := dir.EmailOf("did:plc:admin1")
	assert.True(t, ok)
	assert.Equal(t, "admin@example.com", email)

	_, ok = dir.EmailOf("did:plc:mod1")
	assert.False(t, ok)
}

func TestConfigDirectory_ClearSuspensionIsIdempotent(t *testing.T) {
	dir := createTestDirectory(t)
	ctx := context.Background()

	assert.True(t, dir.IsSuspended("did:plc:user1"))
	require.NoError(t, dir.ClearSuspension(ctx, "did:plc:user1"))
	assert.False(t, dir.IsSuspended("did:plc:user1"))
	require.NoError(t, dir.ClearSuspension(ctx, "did:plc:user1"))
	require.NoError(t, dir.ClearSuspension(ctx, "did:plc:unknown"))
}

func TestConfigDirectory_Reload(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "directory.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{"users": [{"id": "did:plc:a", "role": "moderator"}]}`), 0644))

	dir, err := NewConfigDirectory(configPath)
	require.NoError(t, err)
	role, _ := dir.RoleOf(context.Background(), "did:plc:a")
	assert.Equal(t, RoleModerator, role)

	// demotion takes effect on the next lookup
	require.NoError(t, os.WriteFile(configPath, []byte(`{"users": [{"id": "did:plc:a", "role": "user"}]}`), 0644))
	require.NoError(t, dir.Reload())
	role, _ = dir.RoleOf(context.Background(), "did:plc:a")
	assert.Equal(t, RoleUser, role)
}

func TestNewStaticDirectory(t *testing.T) {
	dir, err := NewStaticDirectory(DirectoryUser{ID: "a", Role: RoleAdmin})
	require.NoError(t, err)
	role, err := dir.RoleOf(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, role)

	_, err = NewStaticDirectory(DirectoryUser{ID: "", Role: RoleAdmin})
	assert.Error(t, err)
}
