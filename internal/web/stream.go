package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/CongSofwareEngineer/bot-dca-token/internal/domain"
)

const (
	heartbeatInterval = 20 * time.Second
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wantsEvent applies the optional ?user_id= and ?version= filters.
func wantsEvent(r *http.Request, e domain.DecisionEvent) bool {
	q := r.URL.Query()
	if user := q.Get("user_id"); user != "" && user != e.UserID {
		return false
	}
	if raw := q.Get("version"); raw != "" {
		version, err := parseVersion(raw)
		if err == nil && version != e.Version {
			return false
		}
	}
	return true
}

func (s *Server) handleDecisionStream(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		s.writeError(w, errors.Wrap(errUnavailable, "decision stream"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events := s.deps.Events.Subscribe()
	defer s.deps.Events.Unsubscribe(events)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// comment heartbeat so proxies keep the connection
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case e, ok := <-events:
			if !ok {
				return
			}
			if !wantsEvent(r, e) {
				continue
			}
			payload, err := json.Marshal(e)
			if err != nil {
				s.l.Error("failed to encode decision event", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: decision\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func (s *Server) handleDecisionSocket(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		s.writeError(w, errors.Wrap(errUnavailable, "decision stream"))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already replied
		s.l.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	events := s.deps.Events.Subscribe()
	defer s.deps.Events.Unsubscribe(events)

	// reader: handles pongs and notices the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(heartbeatInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case e, ok := <-events:
			if !ok {
				return
			}
			if !wantsEvent(r, e) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				s.l.Debug("websocket write failed", zap.Error(err))
				return
			}
		}
	}
}
