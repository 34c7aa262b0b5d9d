package state

import (
	"errors"
	"fmt"
	"time"
)

// SessionState is the persistent source-of-truth for one emergency conversation.
// - Stage is never stored; it is derived from these fields on every turn (see DeriveStage).
// - Dispatch receipt and AmbulanceDispatched are only ever changed together (RecordDispatch).
type SessionState struct {
	// Identity
	SessionID string `json:"session_id"`

	// Incident progress
	IncidentStarted bool      `json:"incident_started"`
	Severity        *int      `json:"severity,omitempty"` // 1..5, nil until triaged
	InjuryType      string    `json:"injury_type,omitempty"`
	Location        *Location `json:"location,omitempty"`

	AmbulanceDispatched bool             `json:"ambulance_dispatched"`
	Dispatch            *DispatchReceipt `json:"dispatch,omitempty"`

	StepIndex int    `json:"step_index"`
	History   []Turn `json:"history,omitempty"` // append-only

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Location struct {
	Address string   `json:"address"`
	Lat     *float64 `json:"lat,omitempty"`
	Lon     *float64 `json:"lon,omitempty"`
}

type DispatchReceipt struct {
	ID         string    `json:"dispatch_id"`
	ETAMinutes int       `json:"eta_minutes"`
	Timestamp  time.Time `json:"timestamp"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Turn struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

const (
	MinSeverity = 1
	MaxSeverity = 5

	// DispatchThreshold is the lowest severity that requires an ambulance.
	DispatchThreshold = 3
)

var (
	ErrAlreadyDispatched = errors.New("ambulance already dispatched for session")
	ErrInvalidReceipt    = errors.New("dispatch receipt is incomplete")
	ErrInvariant         = errors.New("session state invariant violated")
)

func NewSessionState(sessionID string, now time.Time) *SessionState {
	return &SessionState{
		SessionID: sessionID,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
}

func (s *SessionState) Touch(now time.Time) {
	s.UpdatedAt = now.UTC()
}

/* ---------------------------- field helpers ----------------------------- */

// SeverityValue returns the recorded severity and whether one is set.
func (s *SessionState) SeverityValue() (int, bool) {
	if s == nil || s.Severity == nil {
		return 0, false
	}
	return *s.Severity, true
}

// SeverityAtLeast reports whether severity is set and >= min.
func (s *SessionState) SeverityAtLeast(min int) bool {
	v, ok := s.SeverityValue()
	return ok && v >= min
}

// NeedsAmbulance reports whether the recorded severity crosses the dispatch threshold.
func (s *SessionState) NeedsAmbulance() bool {
	return s.SeverityAtLeast(DispatchThreshold)
}

func (s *SessionState) HasLocation() bool {
	return s != nil && s.Location != nil && s.Location.Address != ""
}

// StartIncident leaves the greeting stage. Calling it twice is a no-op.
func (s *SessionState) StartIncident() {
	s.IncidentStarted = true
}

// ApplySeverity records a fresh triage classification. Severity is clamped to
// 1..5 and never lowered below a previously recorded value.
func (s *SessionState) ApplySeverity(severity int) int {
	severity = ClampSeverity(severity)
	if cur, ok := s.SeverityValue(); ok && cur > severity {
		severity = cur
	}
	s.Severity = &severity
	return severity
}

func ClampSeverity(v int) int {
	if v < MinSeverity {
		return MinSeverity
	}
	if v > MaxSeverity {
		return MaxSeverity
	}
	return v
}

// SetLocation overwrites the location with a new extraction.
func (s *SessionState) SetLocation(loc Location) {
	l := loc
	s.Location = &l
}

// RecordDispatch flips AmbulanceDispatched and stores the receipt in one step.
func (s *SessionState) RecordDispatch(receipt DispatchReceipt) error {
	if s.AmbulanceDispatched {
		return ErrAlreadyDispatched
	}
	if receipt.ID == "" || receipt.Timestamp.IsZero() {
		return ErrInvalidReceipt
	}
	r := receipt
	r.Timestamp = r.Timestamp.UTC()
	s.Dispatch = &r
	s.AmbulanceDispatched = true
	return nil
}

// AdvanceStep moves the first-aid cursor forward; it never moves backwards.
func (s *SessionState) AdvanceStep(next int) int {
	if next > s.StepIndex {
		s.StepIndex = next
	}
	return s.StepIndex
}

func (s *SessionState) AppendTurn(role Role, text string, now time.Time) {
	s.History = append(s.History, Turn{Role: role, Text: text, At: now.UTC()})
}

// RecentHistory returns at most the last n turns (all turns when n <= 0).
func (s *SessionState) RecentHistory(n int) []Turn {
	if s == nil || len(s.History) == 0 {
		return nil
	}
	if n <= 0 || n >= len(s.History) {
		return append([]Turn(nil), s.History...)
	}
	return append([]Turn(nil), s.History[len(s.History)-n:]...)
}

// Clone returns a deep copy, so a turn can mutate freely without touching the
// state that is currently persisted.
func (s *SessionState) Clone() *SessionState {
	if s == nil {
		return nil
	}
	out := *s
	if s.Severity != nil {
		v := *s.Severity
		out.Severity = &v
	}
	if s.Location != nil {
		loc := *s.Location
		if s.Location.Lat != nil {
			lat := *s.Location.Lat
			loc.Lat = &lat
		}
		if s.Location.Lon != nil {
			lon := *s.Location.Lon
			loc.Lon = &lon
		}
		out.Location = &loc
	}
	if s.Dispatch != nil {
		d := *s.Dispatch
		out.Dispatch = &d
	}
	if s.History != nil {
		out.History = append([]Turn(nil), s.History...)
	}
	return &out
}

/* ------------------------------ validation ------------------------------ */

func (s *SessionState) Validate() error {
	if s == nil {
		return ErrNilSessionState
	}
	if s.SessionID == "" {
		return ErrInvalidSession
	}
	if v, ok := s.SeverityValue(); ok && (v < MinSeverity || v > MaxSeverity) {
		return fmt.Errorf("%w: severity=%d out of range", ErrInvariant, v)
	}
	if s.AmbulanceDispatched != (s.Dispatch != nil) {
		return fmt.Errorf("%w: dispatch receipt must be present iff ambulance_dispatched", ErrInvariant)
	}
	if s.Dispatch != nil && s.Dispatch.ID == "" {
		return fmt.Errorf("%w: dispatch receipt has empty id", ErrInvariant)
	}
	if s.AmbulanceDispatched && !s.IncidentStarted {
		return fmt.Errorf("%w: dispatched before incident started", ErrInvariant)
	}
	if s.StepIndex < 0 {
		return fmt.Errorf("%w: step_index=%d", ErrInvariant, s.StepIndex)
	}
	return nil
}

// CheckTransition verifies the monotonic invariants between the state that was
// loaded at the start of a turn (prev) and the state about to be saved.
func (s *SessionState) CheckTransition(prev *SessionState) error {
	if prev == nil {
		return nil
	}
	if prev.SessionID != s.SessionID {
		return fmt.Errorf("%w: session id changed %q -> %q", ErrInvariant, prev.SessionID, s.SessionID)
	}
	if prev.IncidentStarted && !s.IncidentStarted {
		return fmt.Errorf("%w: incident_started reverted", ErrInvariant)
	}
	if prev.AmbulanceDispatched {
		if !s.AmbulanceDispatched {
			return fmt.Errorf("%w: ambulance_dispatched reverted", ErrInvariant)
		}
		if prev.Dispatch != nil && s.Dispatch != nil && prev.Dispatch.ID != s.Dispatch.ID {
			return fmt.Errorf("%w: dispatch receipt replaced", ErrInvariant)
		}
	}
	if pv, ok := prev.SeverityValue(); ok {
		cur, ok := s.SeverityValue()
		if !ok {
			return fmt.Errorf("%w: severity cleared", ErrInvariant)
		}
		if cur < pv {
			return fmt.Errorf("%w: severity lowered %d -> %d", ErrInvariant, pv, cur)
		}
	}
	if s.StepIndex < prev.StepIndex {
		return fmt.Errorf("%w: step_index decreased %d -> %d", ErrInvariant, prev.StepIndex, s.StepIndex)
	}
	if len(s.History) < len(prev.History) {
		return fmt.Errorf("%w: history truncated", ErrInvariant)
	}
	return nil
}
