package domain

import "time"

// AuditKind names a verification lifecycle event.
type AuditKind string

const (
	AuditCallbackAccepted AuditKind = "callback.accepted"
	AuditCallbackRejected AuditKind = "callback.rejected"
	AuditCallbackIgnored  AuditKind = "callback.ignored"
	AuditFetchVerified    AuditKind = "fetch.verified"
	AuditFetchFailed      AuditKind = "fetch.failed"
	AuditFetchSuperseded  AuditKind = "fetch.superseded"
	AuditSessionIssued    AuditKind = "session.issued"
)

// AuditEvent is one entry of the verification audit trail.
// Credentials never appear here, only their fingerprint.
type AuditEvent struct {
	ID          string    `json:"id"`
	Kind        AuditKind `json:"kind"`
	Token       string    `json:"token,omitempty"`
	Attempt     string    `json:"attempt,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	At          time.Time `json:"at"`
}

// Outcome is published once a record reaches a terminal state.
type Outcome struct {
	Token         string    `json:"token"`
	State         State     `json:"state"`
	PhoneNumber   string    `json:"phoneNumber,omitempty"`
	FailureReason string    `json:"failureReason,omitempty"`
	At            time.Time `json:"at"`
}
