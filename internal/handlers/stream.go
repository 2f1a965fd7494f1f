package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"tangled.org/arabica.social/arbiter/internal/moderation"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamPingInterval = 30 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// HandleEventStream pushes engine events to a staff dashboard over a websocket.
func (h *Handler) HandleEventStream(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	events, cancel, err := h.engine.SubscribeEvents(r.Context(), actor)
	if err != nil {
		if errors.Is(err, moderation.ErrNoBroker) {
			writeErrorMessage(w, http.StatusNotFound, "Event stream is not enabled")
			return
		}
		writeError(w, r, err)
		return
	}
	defer cancel()

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		log.Warn().Err(err).Str("actor", actor).Msg("handlers: websocket upgrade failed")
		return
	}
	defer conn.Close()

	log.Info().Str("actor", actor).Msg("handlers: event stream connected")

	// read loop detects disconnects; dashboards send nothing we act on
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-disconnected:
			log.Info().Str("actor", actor).Msg("handlers: event stream disconnected")
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout)); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Str("actor", actor).Msg("handlers: event stream write failed")
				return
			}
		}
	}
}
