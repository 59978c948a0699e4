package domain

// CallState is a position in a call's lifecycle.
type CallState string

const (
	CallStateUnknown          CallState = "unknown"
	CallStateExecuting        CallState = "executing"
	CallStateExecutingFailed  CallState = "executing_failed"
	CallStateRetrieving       CallState = "retrieving"
	CallStateRetrievingFailed CallState = "retrieving_failed"
	CallStateArchived         CallState = "archived"
	CallStateArchiveFailed    CallState = "archive_failed"
	CallStateCanceled         CallState = "canceled"
)

// IsTerminal reports whether no further transition can leave s.
func (s CallState) IsTerminal() bool {
	switch s {
	case CallStateExecutingFailed, CallStateRetrievingFailed,
		CallStateArchived, CallStateArchiveFailed, CallStateCanceled:
		return true
	}
	return false
}

// CallDetails is a snapshot of a call. Times are in microseconds.
type CallDetails struct {
	ID        string    `json:"id"`
	ConnID    string    `json:"connId"`
	Query     string    `json:"query"`
	State     CallState `json:"state"`
	TimeTaken int64     `json:"timeTakenUs"`
	Timestamp int64     `json:"timestampUs"`
	Error     string    `json:"error,omitempty"`
}

// CallStateChange is the payload of the call_state_changed event.
type CallStateChange struct {
	CallID    string    `json:"callId"`
	ConnID    string    `json:"connId"`
	OldState  CallState `json:"oldState"`
	NewState  CallState `json:"newState"`
	Timestamp int64     `json:"timestampUs"`
}

// Row is a single result row, positionally aligned with its header.
type Row []any

// Header lists result column names.
type Header []string
