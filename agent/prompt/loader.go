package prompt

import (
	_ "embed"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/Agent-Before-Ambulance/agent/contract"
)

var (
	//go:embed template/triage.txt
	triageRaw string

	//go:embed template/location.txt
	locationRaw string

	//go:embed template/dispatch.txt
	dispatchRaw string

	//go:embed template/first_aid.txt
	firstAidRaw string
)

// PromptSet holds the system prompt of each capability.
type PromptSet struct {
	Triage   string
	Location string
	Dispatch string
	FirstAid string
}

// LoadPromptSet returns the embedded prompts, trimmed.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Triage:   strings.TrimSpace(triageRaw),
		Location: strings.TrimSpace(locationRaw),
		Dispatch: strings.TrimSpace(dispatchRaw),
		FirstAid: strings.TrimSpace(firstAidRaw),
	}
}

func (p PromptSet) For(capability contractx.Capability) string {
	switch capability {
	case contractx.CapabilityTriage:
		return p.Triage
	case contractx.CapabilityLocation:
		return p.Location
	case contractx.CapabilityDispatch:
		return p.Dispatch
	case contractx.CapabilityFirstAid:
		return p.FirstAid
	}
	return ""
}

// Validate rejects empty prompts and literal braces, which the FString
// template would read as placeholders.
func (p PromptSet) Validate() error {
	for _, c := range []contractx.Capability{
		contractx.CapabilityTriage,
		contractx.CapabilityLocation,
		contractx.CapabilityDispatch,
		contractx.CapabilityFirstAid,
	} {
		text := p.For(c)
		if text == "" {
			return fmt.Errorf("%w: %s", contractx.ErrPromptMissing, c)
		}
		if strings.ContainsAny(text, "{}") {
			return fmt.Errorf("%w: %s prompt contains template braces", contractx.ErrValidation, c)
		}
	}
	return nil
}
