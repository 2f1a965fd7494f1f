package moderation

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"tangled.org/arabica.social/arbiter/internal/metrics"
	"tangled.org/arabica.social/arbiter/internal/tracing"
)

// DefaultSweepInterval is how often StartSweeper runs by default
const DefaultSweepInterval = time.Hour

// Sweep deactivates every active restriction whose expiry is at or before now
// and notifies the affected users. Running it twice, or from two processes at
// once, deactivates each restriction exactly once.
func (e *Engine) Sweep(ctx context.Context, now time.Time) (_ int, err error) {
	ctx, span := tracing.EngineSpan(ctx, "sweep", SystemExpiry, "")
	defer func() {
		tracing.EndWithError(span, err)
		span.End()
	}()

	expired, err := e.store.ExpireRestrictions(ctx, now.UTC())
	if err != nil {
		metrics.SweepsTotal.WithLabelValues("error").Inc()
		return 0, err
	}
	metrics.SweepsTotal.WithLabelValues("ok").Inc()
	if len(expired) == 0 {
		return 0, nil
	}
	metrics.RestrictionsExpiredTotal.Add(float64(len(expired)))

	for _, r := range expired {
		log.Info().
			Str("restriction_id", r.ID).
			Str("action_id", r.ActionID).
			Str("user", r.UserID).
			Str("kind", string(r.Kind)).
			Msg("moderation: restriction expired")

		e.publish(Event{Type: EventRestrictionExpired, ActionID: r.ActionID, UserID: r.UserID, At: now})
		e.dispatch(ctx, Notification{
			RecipientID: r.UserID,
			Kind:        NotificationRestrictionExpired,
			ActionID:    r.ActionID,
			Reason:      r.Reason,
			ActorName:   SystemExpiry,
			CreatedAt:   now,
		})
	}
	return len(expired), nil
}

// StartSweeper launches a goroutine that sweeps expired restrictions every
// interval until the context is cancelled.
func StartSweeper(ctx context.Context, e *Engine, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	sweep := func() {
		n, err := e.Sweep(ctx, e.clock())
		if err != nil {
			log.Error().Err(err).Msg("moderation: sweep failed")
			return
		}
		if n > 0 {
			log.Info().Int("expired", n).Msg("moderation: sweep complete")
		}
	}

	// Do an initial sweep immediately
	sweep()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweep()
			}
		}
	}()

	log.Info().Dur("interval", interval).Msg("Expiration sweeper started")
}

// ActiveRestrictionCounts counts restrictions in force per kind. It is used by
// the metrics collector.
func (e *Engine) ActiveRestrictionCounts(ctx context.Context) (map[string]int, error) {
	restrictions, err := e.store.ListRestrictions(ctx, "", true)
	if err != nil {
		return nil, err
	}
	now := e.clock()
	counts := make(map[string]int)
	for _, r := range restrictions {
		if r.InForce(now) {
			counts[string(r.Kind)]++
		}
	}
	return counts, nil
}
