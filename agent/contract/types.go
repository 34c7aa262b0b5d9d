package contract

import (
	statex "github.com/tanpawarit/Agent-Before-Ambulance/agent/state"
)

type Capability string

const (
	CapabilityTriage   Capability = "triage"
	CapabilityLocation Capability = "location"
	CapabilityDispatch Capability = "dispatch"
	CapabilityFirstAid Capability = "first_aid"
)

// Outcome tags every capability result so callers never infer success from
// sentinel field values.
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeFallback Outcome = "fallback"
	OutcomeNotFound Outcome = "not_found"
)

type TriageRequest struct {
	Message string        `json:"message"`
	History []statex.Turn `json:"history,omitempty"`
}

type TriageResult struct {
	Outcome           Outcome `json:"outcome"`
	AccidentType      string  `json:"accident_type"`
	Severity          int     `json:"severity"`
	DispatchAmbulance bool    `json:"dispatch_ambulance"`
	Reasoning         string  `json:"reasoning,omitempty"`
	Raw               string  `json:"raw,omitempty"`
}

type LocationRequest struct {
	Message string        `json:"message"`
	History []statex.Turn `json:"history,omitempty"`
}

type LocationResult struct {
	Outcome Outcome  `json:"outcome"`
	Address string   `json:"address,omitempty"`
	Lat     *float64 `json:"lat,omitempty"`
	Lon     *float64 `json:"lon,omitempty"`
	Raw     string   `json:"raw,omitempty"`
}

// Location converts a resolved result into the state shape.
func (r LocationResult) Location() statex.Location {
	return statex.Location{Address: r.Address, Lat: r.Lat, Lon: r.Lon}
}

type DispatchRequest struct {
	SessionID  string          `json:"session_id"`
	InjuryType string          `json:"injury_type"`
	Location   statex.Location `json:"location"`
	History    []statex.Turn   `json:"history,omitempty"`
}

// DispatchResult carries the receipt issued by the dispatch service. Outcome
// only describes the narrative; the receipt is always present on success.
type DispatchResult struct {
	Outcome   Outcome                `json:"outcome"`
	Receipt   statex.DispatchReceipt `json:"receipt"`
	Narrative string                 `json:"narrative,omitempty"`
	Raw       string                 `json:"raw,omitempty"`
}

type FirstAidRequest struct {
	Message    string        `json:"message"`
	InjuryType string        `json:"injury_type"`
	StepIndex  int           `json:"step_index"`
	History    []statex.Turn `json:"history,omitempty"`
}

type FirstAidResult struct {
	Outcome       Outcome `json:"outcome"`
	Instruction   string  `json:"instruction"`
	NextStepIndex int     `json:"next_step_index"`
	Completed     bool    `json:"completed"`
	Raw           string  `json:"raw,omitempty"`
}

type ToolRequest struct {
	ID   string         `json:"id,omitempty"`
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

type ToolResult struct {
	ID     string `json:"id,omitempty"`
	Tool   string `json:"tool"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}
