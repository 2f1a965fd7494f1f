package moderation

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActionPayload_Validate(t *testing.T) {
	content := ActionPayload{Content: &ContentPayload{TargetKind: TargetPost, TargetID: "p1"}}
	warning := ActionPayload{Warning: &WarningPayload{ReportReason: ReasonSpam}}
	suspension := ActionPayload{Suspension: &SuspensionPayload{RestrictionID: "r1"}}
	ban := ActionPayload{Suspension: &SuspensionPayload{RestrictionID: "r1", Permanent: true}}
	restriction := ActionPayload{Restriction: &RestrictionPayload{Kind: RestrictionUploadDisabled, RestrictionID: "r1"}}

	tests := []struct {
		kind    ActionKind
		payload ActionPayload
		ok      bool
	}{
		{ActionContentRemoved, content, true},
		{ActionContentApproved, content, true},
		{ActionUserWarned, warning, true},
		{ActionUserSuspended, suspension, true},
		{ActionUserBanned, ban, true},
		{ActionRestrictionApplied, restriction, true},
		{ActionUserSuspended, ban, false},
		{ActionUserBanned, suspension, false},
		{ActionUserWarned, content, false},
		{ActionContentRemoved, ActionPayload{}, false},
		{ActionContentRemoved, ActionPayload{Content: content.Content, Warning: warning.Warning}, false},
		{ActionKind("mute"), warning, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%v", tt.kind, tt.ok), func(t *testing.T) {
			err := tt.payload.Validate(tt.kind)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}

	assert.Equal(t, "r1", ban.RestrictionID())
	assert.Equal(t, "r1", restriction.RestrictionID())
	assert.Empty(t, content.RestrictionID())
}

func TestStoreError_Retryable(t *testing.T) {
	cause := errors.New("database locked")
	err := fmt.Errorf("wrapped: %w", Unavailable("resolve report", cause))

	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, cause)
	assert.False(t, IsRetryable(&StoreError{Op: "x", Err: cause}))
	assert.False(t, IsRetryable(ErrAlreadyResolved))
}
