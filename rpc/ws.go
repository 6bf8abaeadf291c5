package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"tradesee/crypto"
	"tradesee/indexer"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsBacklogPage  = 500
)

// streamMessage is one event on the websocket stream. Sequence is set for
// backlog entries read from the index.
type streamMessage struct {
	Sequence   int64             `json:"sequence,omitempty"`
	Type       string            `json:"type"`
	Contract   string            `json:"contract,omitempty"`
	Attributes map[string]string `json:"attributes"`
}

// handleEventsWS streams committed events. With a cursor the indexed backlog
// after that sequence is sent first; an event committed while the backlog is
// read may then arrive twice.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.Error(w, "event stream disabled", http.StatusServiceUnavailable)
		return
	}
	query := r.URL.Query()
	filter := StreamFilter{Type: strings.TrimSpace(query.Get("type"))}
	if raw := strings.TrimSpace(query.Get("contract")); raw != "" {
		addr, err := crypto.ParseAddress(raw)
		if err != nil {
			http.Error(w, "invalid contract", http.StatusBadRequest)
			return
		}
		filter.Contract = crypto.FormatContract(addr)
	}
	var cursor int64 = -1
	if raw := strings.TrimSpace(query.Get("cursor")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			http.Error(w, "invalid cursor", http.StatusBadRequest)
			return
		}
		cursor = parsed
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.wsOrigins})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	// The stream is write-only; CloseRead handles pings and close frames.
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, filter, cursor); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, filter StreamFilter, cursor int64) error {
	updates, cancel := s.hub.Subscribe(filter)
	defer cancel()

	if cursor >= 0 && s.events != nil {
		if err := s.streamBacklog(ctx, conn, filter, cursor); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
			}
			msg := streamMessage{Type: evt.Type, Contract: evt.Attr("contract"), Attributes: evt.Attributes}
			if err := writeStreamMessage(ctx, conn, msg); err != nil {
				return err
			}
		}
	}
}

// streamBacklog pages through the index until a short page marks the end of
// the committed backlog.
func (s *Server) streamBacklog(ctx context.Context, conn *websocket.Conn, filter StreamFilter, cursor int64) error {
	for {
		page, err := s.events.List(ctx, indexer.Filter{
			Type:     filter.Type,
			Contract: filter.Contract,
			After:    cursor,
			Limit:    wsBacklogPage,
		})
		if err != nil {
			return err
		}
		for _, rec := range page {
			msg := streamMessage{Sequence: rec.Sequence, Type: rec.Type, Contract: rec.Contract, Attributes: rec.Attributes}
			if err := writeStreamMessage(ctx, conn, msg); err != nil {
				return err
			}
			cursor = rec.Sequence
		}
		if len(page) < wsBacklogPage {
			return nil
		}
	}
}

// wsOriginPatterns converts CORS origins into the host patterns accepted by
// the websocket handshake. An empty list keeps the same-origin check.
func wsOriginPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		if origin != "*" {
			if u, err := url.Parse(origin); err == nil && u.Host != "" {
				origin = u.Host
			}
		}
		patterns = append(patterns, origin)
	}
	if len(patterns) == 0 {
		return nil
	}
	return patterns
}

func writeStreamMessage(ctx context.Context, conn *websocket.Conn, msg streamMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
