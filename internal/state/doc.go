// Package state provides the in-process conversation history store.
//
// Sessions live for the lifetime of the process and are lost on restart.
package state

import "github.com/user/chatagent/internal/types"

// Compile-time interface compliance checks.
var _ types.HistoryStore = (*SessionStore)(nil)
