package model

import (
	"github.com/google/uuid"
)

// MasterID is the client id the teacher registers with.
const MasterID = "master"

// Code types carried by a broadcast.
const (
	CodeTypeBlocks = "blocks"
	CodeTypeText   = "text"
)

// Status is the connection state reported by sessions to the host application.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

type ClientInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Identity is the per-installation identity of a student.
type Identity struct {
	ID   string `toml:"client_id"`
	Name string `toml:"client_name,omitempty"`
}

// DisplayName returns the configured name or the one derived from the id.
func (id Identity) DisplayName() string {
	if id.Name != "" {
		return id.Name
	}
	return DefaultName(id.ID)
}

// Payload is what a student holds until the user accepts or rejects it.
type Payload struct {
	CodeType  string
	Data      string
	From      string
	Timestamp int64
}

func NewClientID() string {
	return "client_" + uuid.NewString()
}

// DefaultName derives a display name from the last four characters of the id.
func DefaultName(clientID string) string {
	suffix := []rune(clientID)
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	return "Student_" + string(suffix)
}

func ValidCodeType(codeType string) bool {
	return codeType == CodeTypeBlocks || codeType == CodeTypeText
}
