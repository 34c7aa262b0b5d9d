package state

import "strings"

// Stage is the decision branch selected for a turn. It is derived, never stored.
type Stage string

const (
	StageGreeting Stage = "greeting"
	StageTriage   Stage = "triage"
	StageLocation Stage = "location"
	StageDispatch Stage = "dispatch"
	StageFirstAid Stage = "first_aid"
)

func (s Stage) String() string { return string(s) }

// severeKeywords force a re-triage while the recorded severity is still below
// the dispatch threshold.
var severeKeywords = []string{
	"skull",
	"fracture",
	"unconscious",
	"not breathing",
	"severe bleeding",
	"chest pain",
	"heart attack",
	"stroke",
	"broken bone",
	"head injury",
}

// HasSevereKeyword reports whether the raw message carries a re-escalation signal.
func HasSevereKeyword(message string) bool {
	lower := strings.ToLower(message)
	for _, kw := range severeKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// DeriveStage evaluates the ordered decision chain. First matching rule wins.
func DeriveStage(st *SessionState, message string) Stage {
	if st == nil || !st.IncidentStarted {
		return StageGreeting
	}

	severity, known := st.SeverityValue()
	if !known || (severity < DispatchThreshold && HasSevereKeyword(message)) {
		return StageTriage
	}

	if severity >= DispatchThreshold && !st.AmbulanceDispatched {
		if !st.HasLocation() {
			return StageLocation
		}
		return StageDispatch
	}

	if !st.HasLocation() && severity >= DispatchThreshold {
		return StageLocation
	}

	return StageFirstAid
}

// Intent is a coarse lexical classification of a message. It is logged for
// observability only and never selects a stage.
type Intent string

const (
	IntentDescribeInjury  Intent = "DESCRIBE_INJURY"
	IntentProvideLocation Intent = "PROVIDE_LOCATION"
	IntentRequestFirstAid Intent = "REQUEST_FIRST_AID"
	IntentEndSession      Intent = "END_SESSION"
	IntentUnspecified     Intent = "UNSPECIFIED"
)

func DetectIntent(text string) Intent {
	lower := strings.ToLower(strings.TrimSpace(text))

	switch {
	case containsAny(lower, "accident", "injured", "hurt", "bleeding"):
		return IntentDescribeInjury
	case containsAny(lower, "near", "at", "close to", "location"):
		return IntentProvideLocation
	case containsAny(lower, "what do i do", "help", "what next"):
		return IntentRequestFirstAid
	case lower == "stop" || lower == "end" || lower == "bye":
		return IntentEndSession
	default:
		return IntentUnspecified
	}
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
