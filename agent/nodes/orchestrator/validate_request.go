package orchestratornode

import (
	"errors"
	"strings"
	"time"

	statex "github.com/tanpawarit/Agent-Before-Ambulance/agent/state"
)

var (
	ErrInvalidMessage = errors.New("message is empty")
	ErrInvalidSession = errors.New("session id is empty")
)

type GraphInput struct {
	SessionID string
	Text      string
}

type GraphOutput struct {
	Reply   string
	Stage   statex.Stage
	Outcome string
	State   *statex.SessionState
}

// GraphState is threaded through every node of one turn. Prev is the state as
// loaded and is never mutated; Session is the working copy that gets saved.
type GraphState struct {
	SessionID string
	Text      string
	Now       time.Time
	Intent    statex.Intent

	Prev    *statex.SessionState
	Session *statex.SessionState
	History []statex.Turn
	Stage   statex.Stage

	Reply   string
	Outcome string
}

func ValidateRequest(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		return nil, ErrInvalidSession
	}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, ErrInvalidMessage
	}

	return &GraphState{
		SessionID: sessionID,
		Text:      text,
		Now:       nowFn().UTC(),
		Intent:    statex.DetectIntent(text),
	}, nil
}
