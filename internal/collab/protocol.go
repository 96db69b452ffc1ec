package collab

import (
	"encoding/json"
	"fmt"
)

// Message types exchanged over the collaboration socket.
const (
	// client → server
	MessageJoinDocument    = "join-document"
	MessageSaveDocument    = "save-document"
	MessageSyncUpdate      = "sync-update" // also server → client (relay)
	MessageAwarenessUpdate = "awareness-update"

	// server → client
	MessageDocumentState = "document-state"
	MessageJoinError     = "join-error"
)

// Message is the JSON envelope for every frame on the collaboration
// socket. Binary CRDT payloads ride in Payload (base64 on the wire).
type Message struct {
	Type       string `json:"type"`
	DocumentID string `json:"documentId,omitempty"`
	Token      string `json:"token,omitempty"`
	Payload    []byte `json:"payload,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Encode serializes the message for the wire. Encoding an envelope of
// plain fields cannot fail, so the result is returned directly.
func (m *Message) Encode() []byte {
	data, _ := json.Marshal(m)
	return data
}

// DecodeMessage parses a frame received from a client.
func DecodeMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("message has no type")
	}
	return &msg, nil
}
