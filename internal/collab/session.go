package collab

import (
	"context"
	"errors"
	"log"
	"time"

	"doc-collab/internal/middleware"
	"doc-collab/internal/models"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Session is one admitted client attached to a room. It references the
// room that owns the replica; it never owns any document state itself.
type Session struct {
	*models.Session
	Conn     *websocket.Conn
	Send     chan []byte // Buffered channel for outbound messages
	ClientID string
	room     *Room
}

// ReadPump reads frames from the WebSocket connection and dispatches them
// to the session's room. It runs in the connection's goroutine and exits
// on disconnect, detaching the session.
func (s *Session) ReadPump(ctx context.Context) {
	defer func() {
		s.room.Detach(s)
		s.Conn.Close()
	}()

	s.Conn.SetReadDeadline(time.Now().Add(pongWait))
	s.Conn.SetPongHandler(func(string) error {
		s.Conn.SetReadDeadline(time.Now().Add(pongWait))
		s.LastActiveAt = time.Now()
		return nil
	})

	for {
		_, raw, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error on session %s: %v", s.ID, err)
			}
			return
		}

		s.LastActiveAt = time.Now()

		msg, err := DecodeMessage(raw)
		if err != nil {
			log.Printf("Dropping unreadable frame from session %s: %v", s.ID, err)
			continue
		}

		msgCtx, span := middleware.StartSpan(ctx, "Session.ProcessMessage",
			attribute.String("session.id", s.ID),
			attribute.String("document.id", s.DocumentID),
			attribute.String("message.type", msg.Type),
			attribute.Int("message.size", len(raw)),
		)
		s.handleMessage(msgCtx, msg)
		span.End()
	}
}

func (s *Session) handleMessage(ctx context.Context, msg *Message) {
	switch msg.Type {
	case MessageSyncUpdate:
		if err := s.room.ApplyUpdate(s, msg.Payload); err != nil {
			if errors.Is(err, ErrRoomEvicted) {
				// Room went away beneath a connection that is already
				// being torn down; the client reconnects and re-syncs.
				return
			}
			// Malformed fragment: drop it, keep the connection.
			log.Printf("Dropping bad update from session %s on document %s: %v", s.ID, s.DocumentID, err)
			middleware.AddSpanError(ctx, err)
		}

	case MessageAwarenessUpdate:
		if err := s.room.RelayAwareness(s, msg.Payload); err != nil && !errors.Is(err, ErrRoomEvicted) {
			log.Printf("Failed to relay awareness from session %s: %v", s.ID, err)
		}

	case MessageSaveDocument:
		if err := s.room.SaveNow(ctx); err != nil && !errors.Is(err, ErrRoomEvicted) {
			middleware.AddSpanError(ctx, err)
		}

	case MessageJoinDocument:
		// Already joined; a connection serves exactly one document.
		log.Printf("Session %s sent join-document twice, ignoring", s.ID)

	default:
		log.Printf("Session %s sent unknown message type %q, ignoring", s.ID, msg.Type)
	}
}

// WritePump writes queued frames to the WebSocket connection. A separate
// goroutine per session keeps slow clients from blocking the room.
func (s *Session) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.Send:
			s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed by the room
				s.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := s.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
