package domain

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a VerificationRecord.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateVerified   State = "verified"
	StateFailed     State = "failed"
)

// Terminal reports whether no further transition is allowed out of s.
func (s State) Terminal() bool {
	return s == StateVerified || s == StateFailed
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateProcessing, StateVerified, StateFailed:
		return true
	}
	return false
}

// CanTransition reports whether a record in state s may move to next.
// pending -> processing -> verified|failed, pending -> verified|failed.
func (s State) CanTransition(next State) bool {
	switch s {
	case StatePending:
		return next == StateProcessing || next.Terminal()
	case StateProcessing:
		return next.Terminal()
	}
	return false
}

// Predecessors returns the states from which s can be reached in one step.
func (s State) Predecessors() []State {
	var out []State
	for _, prev := range []State{StatePending, StateProcessing} {
		if prev.CanTransition(s) {
			out = append(out, prev)
		}
	}
	return out
}

// VerificationRecord is the correlation entry keyed by Token.
// Attempt identifies the callback that created the record; fetcher writes are
// only applied while the stored Attempt still matches.
type VerificationRecord struct {
	Token           string    `json:"token"`
	State           State     `json:"state"`
	Attempt         string    `json:"attempt"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
	Credential      string    `json:"credential,omitempty"`
	ProfileEndpoint string    `json:"profileEndpoint,omitempty"`
	Profile         *Profile  `json:"profile,omitempty"`
	FailureReason   string    `json:"failureReason,omitempty"`
}

// NewPending builds the initial record written when a callback arrives.
func NewPending(token, attempt, credential, endpoint string, now time.Time) *VerificationRecord {
	return &VerificationRecord{
		Token:           token,
		State:           StatePending,
		Attempt:         attempt,
		CreatedAt:       now,
		UpdatedAt:       now,
		Credential:      credential,
		ProfileEndpoint: endpoint,
	}
}

// Processing returns a copy of r moved to StateProcessing.
func (r *VerificationRecord) Processing(now time.Time) *VerificationRecord {
	next := r.Clone()
	next.State = StateProcessing
	next.UpdatedAt = now
	return next
}

// Verified returns a terminal copy of r carrying p. The credential is dropped.
func (r *VerificationRecord) Verified(p *Profile, now time.Time) *VerificationRecord {
	next := r.Clone()
	next.State = StateVerified
	next.Profile = p.Clone()
	next.FailureReason = ""
	next.Credential = ""
	next.UpdatedAt = now
	return next
}

// Failed returns a terminal copy of r carrying reason. The credential is dropped.
func (r *VerificationRecord) Failed(reason string, now time.Time) *VerificationRecord {
	next := r.Clone()
	next.State = StateFailed
	next.Profile = nil
	next.FailureReason = reason
	next.Credential = ""
	next.UpdatedAt = now
	return next
}

// Expired reports whether the record is older than maxAge at now.
func (r *VerificationRecord) Expired(maxAge time.Duration, now time.Time) bool {
	return now.Sub(r.CreatedAt) > maxAge
}

// Validate checks the profile/failure-reason invariants.
func (r *VerificationRecord) Validate() error {
	if r.Token == "" {
		return fmt.Errorf("record token is empty: %w", ErrBadRequest)
	}
	if !r.State.Valid() {
		return fmt.Errorf("record state %q is unknown: %w", r.State, ErrBadRequest)
	}
	if (r.State == StateVerified) != (r.Profile != nil) {
		return fmt.Errorf("profile must be set iff state is verified (state=%s): %w", r.State, ErrBadRequest)
	}
	if (r.State == StateFailed) != (r.FailureReason != "") {
		return fmt.Errorf("failure reason must be set iff state is failed (state=%s): %w", r.State, ErrBadRequest)
	}
	return nil
}

// Clone returns a deep copy so stored records are never shared with callers.
func (r *VerificationRecord) Clone() *VerificationRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Profile = r.Profile.Clone()
	return &c
}
