package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message types sent from the host to the app.
const (
	TypeBackendOpen          = "backend:open"
	TypeBackendContentUpdate = "backend:content-update"
	TypeBackendExecute       = "backend:execute"
	TypeBackendTheme         = "backend:theme"
	TypeBackendResponse      = "backend:response"
)

// Message types sent from the app to the host.
const (
	TypeAppReady          = "app:ready"
	TypeAppSave           = "app:save"
	TypeAppFileRead       = "app:file-read"
	TypeAppFileWrite      = "app:file-write"
	TypeAppExecuteResult  = "app:execute-result"
	TypeAppContentChanged = "app:content-changed"
	TypeAppRequest        = "app:request"
	TypeAppEvent          = "app:event"
)

// Envelope is the wire shape of every protocol message.
type Envelope struct {
	ID      string          `json:"id"`
	TS      int64           `json:"ts"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope builds an envelope with a fresh id and current timestamp.
func NewEnvelope(msgType string, payload any) (Envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
		}
		raw = data
	}
	return Envelope{
		ID:      uuid.New().String(),
		TS:      time.Now().UnixMilli(),
		Type:    msgType,
		Payload: raw,
	}, nil
}

// MustEnvelope is NewEnvelope for payloads that cannot fail to marshal.
func MustEnvelope(msgType string, payload any) Envelope {
	env, err := NewEnvelope(msgType, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// DecodePayload unmarshals the envelope payload into dst.
func (e *Envelope) DecodePayload(dst any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s envelope has no payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return nil
}

// ReadyPayload accompanies app:ready. Capabilities, when present,
// override the catalog's static declaration for the session.
type ReadyPayload struct {
	SessionID    string       `json:"sid"`
	Capabilities []Capability `json:"capabilities,omitempty"`
}

// Capability mirrors catalog.Capability on the wire.
type Capability struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// OpenPayload accompanies backend:open.
type OpenPayload struct {
	Resource json.RawMessage `json:"resource"`
}

// ExecutePayload accompanies backend:execute.
type ExecutePayload struct {
	Capability string         `json:"capability"`
	Params     map[string]any `json:"params,omitempty"`
}

// ExecuteResultPayload accompanies app:execute-result. RequestID must
// equal the id of the backend:execute envelope it answers.
type ExecuteResultPayload struct {
	RequestID string          `json:"requestId"`
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// ResponsePayload accompanies backend:response, answering file
// operations intercepted by the gateway.
type ResponsePayload struct {
	RequestID string `json:"requestId"`
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
}

// FileReadPayload accompanies app:file-read.
type FileReadPayload struct {
	Path string `json:"path"`
}

// FileWritePayload accompanies app:file-write and app:save.
type FileWritePayload struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// ContentUpdatePayload accompanies backend:content-update.
type ContentUpdatePayload struct {
	FilePath string `json:"filePath"`
	Content  string `json:"content"`
	Source   string `json:"source"`
}

// ThemePayload accompanies backend:theme.
type ThemePayload struct {
	Theme string `json:"theme"`
}

// Sender is the minimal interface the gateway needs to push a protocol
// frame to an app. The WebSocket connection wrapper satisfies it.
type Sender interface {
	SendEnvelope(env Envelope) error
	// CloseNormal closes the underlying channel with a normal-closure
	// code, if the transport has one.
	CloseNormal() error
}
