// internal/types/interfaces.go
package types

import (
	"context"

	"github.com/user/chatagent/pkg/llm"
)

// HistoryStore maps session identifiers to ordered message histories.
type HistoryStore interface {
	// GetOrCreate returns the history for id, creating an empty session on
	// first reference. An empty id gets a freshly generated identifier; the
	// identifier in use is returned.
	GetOrCreate(ctx context.Context, id SessionID) (SessionID, []llm.Message, error)
	// Replace swaps the stored history of an existing session.
	Replace(ctx context.Context, id SessionID, history []llm.Message) error
	// Get returns the history of an existing session.
	Get(ctx context.Context, id SessionID) ([]llm.Message, error)
	// List returns summary information for every session.
	List(ctx context.Context) ([]*SessionInfo, error)
	// Lock serialises turns on one session. The returned func releases it.
	Lock(id SessionID) (unlock func())
}
