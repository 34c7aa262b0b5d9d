package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Agent-Before-Ambulance/agent/contract"
	nodex "github.com/tanpawarit/Agent-Before-Ambulance/agent/nodes/orchestrator"
	statex "github.com/tanpawarit/Agent-Before-Ambulance/agent/state"
	metricsx "github.com/tanpawarit/Agent-Before-Ambulance/pkg/metrics"
)

var (
	ErrInvalidMessage = nodex.ErrInvalidMessage
	ErrInvalidSession = nodex.ErrInvalidSession
)

type Config struct {
	// HistoryWindow caps how many prior turns are passed to capabilities.
	// Zero passes the whole transcript.
	HistoryWindow int
	Metrics       *metricsx.Recorder
}

// Turn is the result of one handled message.
type Turn struct {
	Reply   string
	Stage   statex.Stage
	Outcome string
	Failed  bool
}

// Supervisor runs one turn per message: it loads the session, derives the
// stage, invokes at most the capabilities of that stage and saves the result.
// Turns for the same session are serialised.
type Supervisor struct {
	store  statex.Store
	models contractx.Registry

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	historyWindow int
	metrics       *metricsx.Recorder
	locks         *keyedMutex

	now func() time.Time
}

func New(store statex.Store, models contractx.Registry, cfg Config) (*Supervisor, error) {
	if store == nil {
		return nil, errors.New("state store is required")
	}
	if models == nil {
		return nil, errors.New("capability registry is required")
	}

	s := &Supervisor{
		store:         store,
		models:        models,
		historyWindow: cfg.HistoryWindow,
		metrics:       cfg.Metrics,
		locks:         newKeyedMutex(),
		now:           time.Now,
	}

	graphRunner, err := s.compileHandleMessageGraph(context.Background())
	if err != nil {
		return nil, err
	}
	s.graphRunner = graphRunner

	return s, nil
}

// HandleMessage returns the reply text. Only invalid input is an error; any
// other failure yields an apology and leaves the stored session untouched.
func (s *Supervisor) HandleMessage(ctx context.Context, sessionID string, text string) (string, error) {
	turn, err := s.Handle(ctx, sessionID, text)
	if err != nil {
		return "", err
	}
	return turn.Reply, nil
}

func (s *Supervisor) Handle(ctx context.Context, sessionID string, text string) (Turn, error) {
	// Keyed on the same trimmed id the graph loads and saves under.
	sessionID = strings.TrimSpace(sessionID)
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	start := time.Now()
	trace := &turnTrace{}
	out, err := s.graphRunner.Invoke(withTrace(ctx, trace), nodex.GraphInput{
		SessionID: sessionID,
		Text:      text,
	})
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, ErrInvalidMessage) || errors.Is(err, ErrInvalidSession) {
			return Turn{}, err
		}
		stage := string(trace.stage)
		if stage == "" {
			stage = "unknown"
		}
		s.metrics.ObserveTurn(stage, "error", elapsed)
		ev := log.Warn()
		if errors.Is(err, contractx.ErrPrecondition) || errors.Is(err, statex.ErrInvariant) {
			ev = log.Error()
		}
		ev.Err(err).
			Str("session_id", sessionID).
			Str("stage", stage).
			Str("intent", string(trace.intent)).
			Dur("duration", elapsed).
			Msg("turn failed")
		return Turn{Reply: nodex.FailureReply, Stage: trace.stage, Outcome: "error", Failed: true}, nil
	}

	s.metrics.ObserveTurn(string(out.Stage), out.Outcome, elapsed)
	log.Info().
		Str("session_id", sessionID).
		Str("stage", string(out.Stage)).
		Str("intent", string(trace.intent)).
		Str("outcome", out.Outcome).
		Dur("duration", elapsed).
		Msg("turn handled")

	return Turn{Reply: out.Reply, Stage: out.Stage, Outcome: out.Outcome}, nil
}

// NewSession creates and stores a fresh session under a new UUIDv7 key.
func (s *Supervisor) NewSession(ctx context.Context) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	st := statex.NewSessionState(id.String(), s.now())
	if err := s.store.Save(ctx, st); err != nil {
		return "", fmt.Errorf("save new session: %w", err)
	}
	return st.SessionID, nil
}

// Session returns the stored state and the stage its next message would enter.
func (s *Supervisor) Session(ctx context.Context, sessionID string) (*statex.SessionState, statex.Stage, error) {
	st, err := s.store.Load(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		return nil, "", err
	}
	return st, statex.DeriveStage(st, ""), nil
}

func (s *Supervisor) EndSession(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	unlock := s.locks.Lock(sessionID)
	defer unlock()
	return s.store.Delete(ctx, sessionID)
}

type turnTrace struct {
	stage  statex.Stage
	intent statex.Intent
}

type traceKey struct{}

func withTrace(ctx context.Context, t *turnTrace) context.Context {
	return context.WithValue(ctx, traceKey{}, t)
}

func traceFrom(ctx context.Context) *turnTrace {
	t, _ := ctx.Value(traceKey{}).(*turnTrace)
	return t
}

// keyedMutex hands out one mutex per session key and forgets it once no turn
// holds or waits for it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
