// Package protocol defines the JSON messages exchanged with observers.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	TypeStatus        = "status"
	TypeTranscription = "transcription"
)

// Inbound command types.
const (
	CommandStart  = "start"
	CommandStop   = "stop"
	CommandStatus = "status"
)

// Status values carried in Status.Status.
const (
	StatusConnected    = "connected"
	StatusStarted      = "started"
	StatusStopped      = "stopped"
	StatusListening    = "listening"
	StatusRecording    = "recording"
	StatusTranscribing = "transcribing"
	StatusIdle         = "idle"
	StatusError        = "error"
)

// Canonical human-readable status messages.
const (
	MessageConnected           = "Connected to transcription service"
	MessageListening           = "Listening for speech..."
	MessageRecording           = "Recording speech..."
	MessageTranscribing        = "Transcribing audio..."
	MessageStopped             = "Audio capture stopped"
	MessageTranscriptionFailed = "Transcription failed"
)

// Command is an inbound control message from an observer.
type Command struct {
	Type string `json:"type"`
}

// Status reports controller state or a diagnostic.
type Status struct {
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Clients   *int      `json:"clients,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Transcription carries one recognized utterance.
type Transcription struct {
	Type      string    `json:"type"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// NewStatus builds a status message stamped at now.
func NewStatus(status, message string, now time.Time) Status {
	return Status{
		Type:      TypeStatus,
		Status:    status,
		Message:   message,
		Timestamp: now.UTC(),
	}
}

// WithClients attaches an observer count.
func (s Status) WithClients(count int) Status {
	s.Clients = &count
	return s
}

// NewTranscription builds a transcription message stamped at now.
func NewTranscription(text string, now time.Time) Transcription {
	return Transcription{
		Type:      TypeTranscription,
		Text:      text,
		Timestamp: now.UTC(),
	}
}

// ParseCommand decodes an inbound frame. Unknown command types are errors.
func ParseCommand(raw []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	cmd.Type = strings.TrimSpace(cmd.Type)
	switch cmd.Type {
	case CommandStart, CommandStop, CommandStatus:
		return cmd, nil
	case "":
		return Command{}, fmt.Errorf("command type is required")
	default:
		return Command{}, fmt.Errorf("unknown command %q", cmd.Type)
	}
}
