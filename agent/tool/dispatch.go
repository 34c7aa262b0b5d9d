package tool

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Agent-Before-Ambulance/agent/contract"
	statex "github.com/tanpawarit/Agent-Before-Ambulance/agent/state"
	qstashx "github.com/tanpawarit/Agent-Before-Ambulance/pkg/qstash"
)

const (
	minETAMinutes = 5
	maxETAMinutes = 15
)

var _ contractx.DispatchService = (*MockDispatchService)(nil)

// MockDispatchService stands in for a real dispatch centre: it issues a
// random ETA and a fresh id without contacting anything.
type MockDispatchService struct {
	now func() time.Time
	eta func() int
}

func NewMockDispatchService() *MockDispatchService {
	return &MockDispatchService{
		now: time.Now,
		eta: func() int { return minETAMinutes + rand.IntN(maxETAMinutes-minETAMinutes+1) },
	}
}

func (s *MockDispatchService) Dispatch(ctx context.Context, loc statex.Location, injury string) (statex.DispatchReceipt, error) {
	if err := ctx.Err(); err != nil {
		return statex.DispatchReceipt{}, err
	}
	if strings.TrimSpace(loc.Address) == "" {
		return statex.DispatchReceipt{}, errors.New("dispatch location is empty")
	}
	return statex.DispatchReceipt{
		ID:         uuid.NewString(),
		ETAMinutes: s.eta(),
		Timestamp:  s.now().UTC(),
	}, nil
}

type publisher interface {
	Publish(ctx context.Context, payload any, opts qstashx.PublishOptions) (string, error)
}

type DispatchNotification struct {
	DispatchID string          `json:"dispatch_id"`
	ETAMinutes int             `json:"eta_minutes"`
	Timestamp  time.Time       `json:"timestamp"`
	Injury     string          `json:"injury"`
	Location   statex.Location `json:"location"`
}

var _ contractx.DispatchService = (*NotifyingDispatchService)(nil)

// NotifyingDispatchService forwards every issued receipt to a webhook via
// QStash. Publish failures are logged and never fail the dispatch.
type NotifyingDispatchService struct {
	next contractx.DispatchService
	pub  publisher
}

func NewNotifyingDispatchService(next contractx.DispatchService, pub publisher) *NotifyingDispatchService {
	return &NotifyingDispatchService{next: next, pub: pub}
}

func (s *NotifyingDispatchService) Dispatch(ctx context.Context, loc statex.Location, injury string) (statex.DispatchReceipt, error) {
	receipt, err := s.next.Dispatch(ctx, loc, injury)
	if err != nil {
		return receipt, err
	}

	msgID, err := s.pub.Publish(ctx, DispatchNotification{
		DispatchID: receipt.ID,
		ETAMinutes: receipt.ETAMinutes,
		Timestamp:  receipt.Timestamp,
		Injury:     injury,
		Location:   loc,
	}, qstashx.PublishOptions{DeduplicationID: receipt.ID})
	if err != nil {
		log.Error().Err(err).Str("dispatch_id", receipt.ID).Msg("publish dispatch notification failed")
		return receipt, nil
	}
	log.Info().Str("dispatch_id", receipt.ID).Str("message_id", msgID).Msg("dispatch notification published")
	return receipt, nil
}
