package battle

import "fmt"

// Phase is what the gate looks at: the current round's status, or idle when
// there is no round yet.
type Phase string

const (
    PhaseIdle             Phase = "idle"
    PhaseWaiting          Phase = Phase(RoundWaiting)
    PhasePromptSubmission Phase = Phase(RoundPromptSubmission)
    PhaseGenerating       Phase = Phase(RoundGenerating)
    PhaseVoting           Phase = Phase(RoundVoting)
    PhaseCompleted        Phase = Phase(RoundCompleted)
)

var allPhases = []Phase{PhaseIdle, PhaseWaiting, PhasePromptSubmission, PhaseGenerating, PhaseVoting, PhaseCompleted}

// PhaseOf maps the current round to a phase.
func PhaseOf(current *Round) Phase {
    if current == nil { return PhaseIdle }
    return Phase(current.Status)
}

type Action string

const (
    ActionStartRound       Action = "start_round"
    ActionAdvanceToVoting  Action = "advance_to_voting"
    ActionGenerateArtifact Action = "generate_artifact"
    ActionDeclareWinner    Action = "declare_winner"
    ActionSubmitPrompt     Action = "submit_prompt"
    ActionSubmitVote       Action = "submit_vote"
    ActionSendMessage      Action = "send_message"
    ActionAnnounce         Action = "announce"
    ActionUpdatePresence   Action = "update_presence"
)

// ActionSet is a small set of actions.
type ActionSet map[Action]bool

func (s ActionSet) Has(a Action) bool { return s[a] }

func newSet(actions ...Action) ActionSet {
    s := make(ActionSet, len(actions))
    for _, a := range actions { s[a] = true }
    return s
}

// Capabilities is the complete permission table. Anything not listed is denied.
func Capabilities(role Role, phase Phase, spectatorVoting bool) ActionSet {
    s := newSet()
    switch role {
    case RoleHost:
        s[ActionSendMessage], s[ActionAnnounce], s[ActionUpdatePresence] = true, true, true
        switch phase {
        case PhaseIdle, PhaseCompleted:
            s[ActionStartRound] = true
        case PhasePromptSubmission:
            s[ActionAdvanceToVoting], s[ActionGenerateArtifact] = true, true
        case PhaseGenerating:
            s[ActionGenerateArtifact] = true
        case PhaseVoting:
            s[ActionDeclareWinner], s[ActionGenerateArtifact] = true, true
            if spectatorVoting { s[ActionSubmitVote] = true }
        }
    case RoleContestant:
        s[ActionSendMessage], s[ActionUpdatePresence] = true, true
        switch phase {
        case PhasePromptSubmission:
            s[ActionSubmitPrompt] = true
        case PhaseVoting:
            s[ActionSubmitVote] = true
        }
    case RoleSpectator:
        s[ActionSendMessage], s[ActionUpdatePresence] = true, true
        if phase == PhaseVoting && spectatorVoting { s[ActionSubmitVote] = true }
    }
    return s
}

// Check returns nil when role may perform action in phase. It returns an
// authorization error when the role can never perform the action, and a
// precondition error when only the phase is wrong.
func Check(role Role, phase Phase, action Action, spectatorVoting bool) error {
    if Capabilities(role, phase, spectatorVoting).Has(action) { return nil }
    for _, p := range allPhases {
        if Capabilities(role, p, spectatorVoting).Has(action) {
            return precondition(string(action), fmt.Sprintf("not allowed while %s", phase))
        }
    }
    if role == "" { return unauthorized(string(action), "not a participant") }
    return unauthorized(string(action), fmt.Sprintf("%s may not %s", role, action))
}
