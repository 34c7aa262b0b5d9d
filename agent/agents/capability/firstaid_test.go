package capability

import (
	"context"
	"errors"
	"testing"

	contractx "github.com/tanpawarit/Agent-Before-Ambulance/agent/contract"
)

func TestFirstAidGuide(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		content       string
		wantOutcome   contractx.Outcome
		wantInstr     string
		wantCompleted bool
	}{
		{
			name:        "structured step",
			content:     `{"instruction":"Press a clean cloth firmly on the wound.","completed":false}`,
			wantOutcome: contractx.OutcomeOK,
			wantInstr:   "Press a clean cloth firmly on the wound.",
		},
		{
			name:          "last step",
			content:       `{"instruction":"Keep them warm until the ambulance arrives.","completed":true}`,
			wantOutcome:   contractx.OutcomeOK,
			wantInstr:     "Keep them warm until the ambulance arrives.",
			wantCompleted: true,
		},
		{
			name:        "plain text is used as the instruction",
			content:     "Keep pressure on the wound.",
			wantOutcome: contractx.OutcomeFallback,
			wantInstr:   "Keep pressure on the wound.",
		},
		{
			name:        "empty instruction uses the safe default",
			content:     `{"instruction":""}`,
			wantOutcome: contractx.OutcomeFallback,
			wantInstr:   DefaultFirstAidInstruction,
		},
		{
			name:        "empty reply uses the safe default",
			content:     "",
			wantOutcome: contractx.OutcomeFallback,
			wantInstr:   DefaultFirstAidInstruction,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fake := &fakeToolCallingModel{replies: []scriptedReply{reply(tt.content)}}
			guide, err := newFirstAid(context.Background(), fake, "first aid prompt")
			if err != nil {
				t.Fatalf("newFirstAid() error = %v", err)
			}
			out, err := guide.Guide(context.Background(), contractx.FirstAidRequest{
				Message:    "what do I do",
				InjuryType: "bleeding",
				StepIndex:  2,
			})
			if err != nil {
				t.Fatalf("Guide() error = %v", err)
			}
			if out.Outcome != tt.wantOutcome || out.Instruction != tt.wantInstr || out.Completed != tt.wantCompleted {
				t.Fatalf("got %+v", out)
			}
			if out.NextStepIndex != 3 {
				t.Fatalf("NextStepIndex = %d, want 3", out.NextStepIndex)
			}
		})
	}
}

func TestFirstAidModelError(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{replies: []scriptedReply{failure(errors.New("timeout"))}}
	guide, err := newFirstAid(context.Background(), fake, "first aid prompt")
	if err != nil {
		t.Fatalf("newFirstAid() error = %v", err)
	}
	if _, err := guide.Guide(context.Background(), contractx.FirstAidRequest{Message: "help"}); !errors.Is(err, contractx.ErrModelInvoke) {
		t.Fatalf("expected ErrModelInvoke, got %v", err)
	}
}

func TestFirstAidRejectsNegativeStep(t *testing.T) {
	t.Parallel()

	guide, err := newFirstAid(context.Background(), &fakeToolCallingModel{}, "first aid prompt")
	if err != nil {
		t.Fatalf("newFirstAid() error = %v", err)
	}
	if _, err := guide.Guide(context.Background(), contractx.FirstAidRequest{Message: "help", StepIndex: -1}); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
