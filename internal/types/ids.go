// internal/types/ids.go

// Package types holds the identifiers, records and store interface shared by
// the chat service packages.
package types

import (
	"github.com/google/uuid"
)

// SessionID names one conversation. Generated ids are random UUIDs.
type SessionID string

// RunID names one turn executed on a session, for log correlation.
type RunID string

func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

func NewRunID() RunID {
	return RunID(uuid.NewString())
}
