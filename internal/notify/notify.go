// Package notify delivers moderation notifications to users over pluggable
// transports. Every notifier here implements moderation.Notifier.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"tangled.org/arabica.social/arbiter/internal/moderation"
)

// Message is the wire form of a notification on the pub/sub transports.
type Message struct {
	Version int `json:"v"`
	moderation.Notification
}

// Encode marshals n as a versioned JSON message.
func Encode(n moderation.Notification) ([]byte, error) {
	data, err := json.Marshal(Message{Version: 1, Notification: n})
	if err != nil {
		return nil, fmt.Errorf("encode notification: %w", err)
	}
	return data, nil
}

// LogNotifier writes every notification to the global logger.
type LogNotifier struct{}

var _ moderation.Notifier = LogNotifier{}

// Notify logs n at info level.
func (LogNotifier) Notify(_ context.Context, n moderation.Notification) error {
	evt := log.Info().
		Str("recipient", n.RecipientID).
		Str("kind", string(n.Kind)).
		Str("action_id", n.ActionID).
		Str("actor", n.ActorName)
	if n.ActionKind != "" {
		evt = evt.Str("action_kind", string(n.ActionKind))
	}
	if n.DurationDays != nil {
		evt = evt.Int("duration_days", *n.DurationDays)
	}
	evt.Msg("notify: notification")
	return nil
}
