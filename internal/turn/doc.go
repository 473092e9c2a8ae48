// Package turn executes one conversational turn against the agent backend,
// either to completion (Run) or as a lazy event stream (Stream), and turns
// the backend's interleaved message sequence into caller-facing tool-call
// records.
package turn
