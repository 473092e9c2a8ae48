// internal/types/models.go
package types

import (
	"time"
)

type SessionInfo struct {
	SessionID    SessionID `json:"session_id"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
