package model

import "time"

const (
	AuthEventLogin          = "student.login"
	AuthEventRefresh        = "session.refresh"
	AuthEventRevoke         = "sessions.revoke"
	AuthEventRegister       = "student.register"
	AuthEventActivate       = "student.activate"
	AuthEventResetRequested = "password.reset_requested"
	AuthEventResetChecked   = "password.reset_checked"
	AuthEventReset          = "password.reset"

	AuthStatusSuccess = "success"
	AuthStatusFailure = "failure"
)

// AuthEvent is one row of the auth audit trail. Reason carries the internal
// failure cause that the HTTP response deliberately hides.
type AuthEvent struct {
	ID            string    `json:"id"`
	Action        string    `json:"action"`
	OccurredAt    time.Time `json:"occurredAt"`
	ControlNumber string    `json:"controlNumber,omitempty"`
	Email         string    `json:"email,omitempty"`
	IP            string    `json:"ip,omitempty"`
	Status        string    `json:"status"`
	Reason        string    `json:"reason,omitempty"`
}

type AuthEventQuery struct {
	ControlNumber string
	Action        string
	Page          int
	Limit         int
}

type AuthEventList struct {
	Items []AuthEvent `json:"items"`
}
