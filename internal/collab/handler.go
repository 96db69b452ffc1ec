package collab

import (
	"log"
	"net/http"
	"time"

	"doc-collab/internal/auth"
	"doc-collab/internal/middleware"
	"doc-collab/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

const joinTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: validate against the configured frontend origins
		return true
	},
}

// Handler upgrades HTTP connections and walks them through the join
// protocol: the first frame must be join-document, the access gate decides
// admission, and only then does a session exist.
type Handler struct {
	gate           Admitter
	registry       *Registry
	sendBufferSize int
}

// NewHandler creates a new collaboration handler
func NewHandler(gate Admitter, registry *Registry, sendBufferSize int) *Handler {
	return &Handler{
		gate:           gate,
		registry:       registry,
		sendBufferSize: sendBufferSize,
	}
}

// HandleCollabConnection serves one client connection for its lifetime.
func (h *Handler) HandleCollabConnection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientID := uuid.NewString()

	ctx, span := middleware.StartSpan(ctx, "WebSocket.Connect",
		attribute.String("client.id", clientID),
	)
	defer span.End()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		middleware.AddSpanError(ctx, err)
		return
	}

	// The join frame has to arrive promptly; an idle pre-join connection
	// holds no session and gets closed.
	conn.SetReadDeadline(time.Now().Add(joinTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return
	}

	join, err := DecodeMessage(raw)
	if err != nil || join.Type != MessageJoinDocument || join.DocumentID == "" {
		writeJoinError(conn, "expected join-document")
		conn.Close()
		return
	}

	span.SetAttributes(attribute.String("document.id", join.DocumentID))

	userID, err := h.gate.Admit(ctx, join.DocumentID, join.Token)
	if err != nil {
		reason := "internal error"
		if auth.IsDenial(err) {
			reason = err.Error()
		} else {
			middleware.AddSpanError(ctx, err)
			log.Printf("Admission check failed for document %s: %v", join.DocumentID, err)
		}
		writeJoinError(conn, reason)
		conn.Close()
		return
	}

	session := &Session{
		Session:  models.NewSession(join.DocumentID, userID),
		Conn:     conn,
		Send:     make(chan []byte, h.sendBufferSize),
		ClientID: clientID,
	}

	// Attach can race a room's eviction; the registry then re-hydrates a
	// fresh room from the snapshot the evicted one just persisted.
	for {
		room := h.registry.GetOrCreate(ctx, join.DocumentID)
		if err := room.Attach(session); err == nil {
			session.room = room
			break
		}
	}

	log.Printf("✓ WebSocket connection established for document %s (user: %s, client: %s)",
		join.DocumentID, userID, clientID)

	go session.WritePump()
	session.ReadPump(ctx)
}

func writeJoinError(conn *websocket.Conn, reason string) {
	msg := &Message{Type: MessageJoinError, Reason: reason}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, msg.Encode()); err != nil {
		log.Printf("Failed to write join-error: %v", err)
	}
}
