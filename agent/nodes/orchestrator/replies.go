package orchestratornode

import (
	"fmt"

	statex "github.com/tanpawarit/Agent-Before-Ambulance/agent/state"
)

const (
	GreetingReply         = "I understand. I’m here to help. Can you describe what happened?"
	TriageRetryReply      = "I couldn't quite assess that. Can you describe the injury again, for example where it hurts and whether there is bleeding?"
	LocationNotFoundReply = "I need your location to guide the ambulance. Please describe where you are."
	FirstAidDoneSuffix    = "\n\nYou have completed the first aid steps. Help should be arriving soon."
	FocusFirstAid         = " Now let's focus on first aid."

	// FailureReply is returned when a turn fails. The stored state is left as
	// it was before the message.
	FailureReply = "I'm sorry, something went wrong while handling your message. Please try again. If this is life-threatening, call your local emergency number now."
)

func triageReply(st *statex.SessionState) string {
	severity, _ := st.SeverityValue()
	reply := fmt.Sprintf("Thanks. Based on your description, this seems like a %s injury with severity level %d.", st.InjuryType, severity)
	if severity >= statex.DispatchThreshold {
		reply += " This is serious. I may need to dispatch an ambulance."
		if !st.HasLocation() {
			reply += " Please provide your current location."
		}
	}
	return reply
}

func dispatchSentence(r statex.DispatchReceipt) string {
	return fmt.Sprintf("Ambulance dispatched (ID: %s). Estimated arrival time is %d minutes.", r.ID, r.ETAMinutes) + FocusFirstAid
}
