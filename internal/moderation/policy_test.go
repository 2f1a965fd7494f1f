package moderation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthorizeAction(t *testing.T) {
	kinds := []ActionKind{
		ActionContentRemoved, ActionContentApproved, ActionUserWarned,
		ActionUserSuspended, ActionUserBanned, ActionRestrictionApplied,
	}
	roles := []Role{RoleUser, RoleModerator, RoleAdmin}

	for _, kind := range kinds {
		for _, target := range roles {
			name := fmt.Sprintf("%s/%s", kind, target)
			t.Run(name, func(t *testing.T) {
				// plain users never act
				assert.False(t, AuthorizeAction(RoleUser, target, kind))
				// admins always do
				assert.True(t, AuthorizeAction(RoleAdmin, target, kind))

				want := kind != ActionUserBanned && target != RoleAdmin
				assert.Equal(t, want, AuthorizeAction(RoleModerator, target, kind))
			})
		}
	}
}

func TestAuthorizeReversal(t *testing.T) {
	tests := []struct {
		name   string
		actor  Role
		target Role
		kind   ActionKind
		want   bool
	}{
		{"moderator reverses warning", RoleModerator, RoleUser, ActionUserWarned, true},
		{"moderator reverses suspension", RoleModerator, RoleUser, ActionUserSuspended, true},
		{"moderator reverses restriction", RoleModerator, RoleModerator, ActionRestrictionApplied, true},
		{"moderator cannot reverse ban", RoleModerator, RoleUser, ActionUserBanned, false},
		{"moderator cannot touch admin", RoleModerator, RoleAdmin, ActionUserWarned, false},
		{"admin reverses ban", RoleAdmin, RoleUser, ActionUserBanned, true},
		{"admin reverses on admin", RoleAdmin, RoleAdmin, ActionUserSuspended, true},
		{"user cannot reverse", RoleUser, RoleUser, ActionUserWarned, false},
		{"unknown role cannot reverse", Role("owner"), RoleUser, ActionUserWarned, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AuthorizeReversal(tt.actor, tt.target, tt.kind))
		})
	}
}
