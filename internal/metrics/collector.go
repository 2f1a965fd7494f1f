package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// StatsSource provides functions to retrieve current state for gauge metrics.
// A nil function is skipped. Map-returning functions return nil when the
// source is unavailable, which leaves the previous gauge values in place.
type StatsSource struct {
	QueueDepthByPriority     func() map[int]int
	ActiveRestrictionsByKind func() map[string]int
	StoreReachable           func() bool
	EventSubscribers         func() int
}

// StartCollector launches a goroutine that periodically updates gauge metrics.
// It runs every interval until the context is cancelled.
func StartCollector(ctx context.Context, src StatsSource, interval time.Duration) {
	// Do an initial collection immediately
	collect(src)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				collect(src)
			}
		}
	}()

	log.Info().Dur("interval", interval).Msg("Metrics collector started")
}

func collect(src StatsSource) {
	if src.QueueDepthByPriority != nil {
		if depth := src.QueueDepthByPriority(); depth != nil {
			// every priority gets a value so drained levels drop to zero
			for p := 1; p <= 5; p++ {
				QueueDepth.WithLabelValues(strconv.Itoa(p)).Set(float64(depth[p]))
			}
		}
	}
	if src.ActiveRestrictionsByKind != nil {
		if counts := src.ActiveRestrictionsByKind(); counts != nil {
			ActiveRestrictions.Reset()
			for kind, n := range counts {
				ActiveRestrictions.WithLabelValues(kind).Set(float64(n))
			}
		}
	}
	if src.StoreReachable != nil {
		if src.StoreReachable() {
			StoreUp.Set(1)
		} else {
			StoreUp.Set(0)
		}
	}
	if src.EventSubscribers != nil {
		EventSubscribers.Set(float64(src.EventSubscribers()))
	}
}
