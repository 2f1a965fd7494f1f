package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bluesky-social/indigo/atproto/syntax"
	"github.com/rs/zerolog/log"

	"tangled.org/arabica.social/arbiter/internal/metrics"
)

// Options configures an Engine. Store and Directory are required.
type Options struct {
	Store     Store
	Directory Directory
	Content   ContentStore
	Notifier  Notifier
	Broker    *Broker

	// Now overrides the wall clock, mainly for tests.
	Now func() time.Time

	// ReportLimit reports per ReportWindow per reporter (defaults 10 per 24h)
	ReportLimit  int
	ReportWindow time.Duration
}

// Engine is the moderation action engine. All methods are safe for concurrent use.
type Engine struct {
	store     Store
	directory Directory
	content   ContentStore
	notifier  Notifier
	broker    *Broker
	now       func() time.Time

	reportLimit  int
	reportWindow time.Duration

	tids *syntax.TIDClock
}

// NewEngine creates an engine from opts
func NewEngine(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("moderation: store is required")
	}
	if opts.Directory == nil {
		return nil, errors.New("moderation: directory is required")
	}

	e := &Engine{
		store:        opts.Store,
		directory:    opts.Directory,
		content:      opts.Content,
		notifier:     opts.Notifier,
		broker:       opts.Broker,
		now:          opts.Now,
		reportLimit:  opts.ReportLimit,
		reportWindow: opts.ReportWindow,
		tids:         syntax.NewTIDClock(0),
	}
	if e.content == nil {
		e.content = NopContentStore{}
	}
	if e.notifier == nil {
		e.notifier = NopNotifier{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.reportLimit <= 0 {
		e.reportLimit = ReportRateLimit
	}
	if e.reportWindow <= 0 {
		e.reportWindow = ReportRateWindow
	}
	return e, nil
}

// Broker returns the engine's event broker, which may be nil
func (e *Engine) Broker() *Broker {
	return e.broker
}

// Ping checks that the store is reachable
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}

func (e *Engine) clock() time.Time {
	return e.now().UTC()
}

// newID returns a fresh TID. TIDs sort by creation time.
func (e *Engine) newID() string {
	return e.tids.Next().String()
}

func (e *Engine) roleOf(ctx context.Context, userID string) (Role, error) {
	role, err := e.directory.RoleOf(ctx, userID)
	if err != nil {
		return "", Unavailable("role lookup", err)
	}
	if !role.Valid() {
		return RoleUser, nil
	}
	return role, nil
}

// deny records a refused operation as a security event and returns ErrUnauthorized.
func (e *Engine) deny(op, actorID string, role Role, subject string) error {
	log.Warn().
		Bool("security", true).
		Str("op", op).
		Str("actor", actorID).
		Str("role", string(role)).
		Str("subject", subject).
		Msg("moderation: denied: insufficient permissions")
	metrics.SecurityDenialsTotal.WithLabelValues(op).Inc()
	return ErrUnauthorized
}

// requireStaff looks up the actor's role and denies plain users.
func (e *Engine) requireStaff(ctx context.Context, op, actorID, subject string) (Role, error) {
	if actorID == "" {
		return "", e.deny(op, actorID, "", subject)
	}
	role, err := e.roleOf(ctx, actorID)
	if err != nil {
		return "", err
	}
	if !role.IsStaff() {
		return role, e.deny(op, actorID, role, subject)
	}
	return role, nil
}

func (e *Engine) publish(ev Event) {
	if e.broker == nil {
		return
	}
	if dropped := e.broker.Publish(ev); dropped > 0 {
		metrics.EventsDroppedTotal.Add(float64(dropped))
	}
}

// dispatch hands n to the notifier and reports whether it was accepted.
func (e *Engine) dispatch(ctx context.Context, n Notification) bool {
	err := e.notifier.Notify(ctx, n)
	if err != nil {
		log.Warn().Err(err).
			Str("recipient", n.RecipientID).
			Str("kind", string(n.Kind)).
			Str("action_id", n.ActionID).
			Msg("moderation: notification failed")
		metrics.NotificationsTotal.WithLabelValues(string(n.Kind), "failed").Inc()
		return false
	}
	metrics.NotificationsTotal.WithLabelValues(string(n.Kind), "sent").Inc()
	return true
}

func requireText(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return NewValidationError(field, "is required")
	}
	return nil
}

func wrapContentErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return Unavailable(op, fmt.Errorf("content store: %w", err))
}
