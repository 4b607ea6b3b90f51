package battle

import "sort"

// CurrentRound is the round the battle is on: the non-completed round if one
// exists (the highest-numbered if several), else the highest-numbered round,
// else nil.
func CurrentRound(rounds map[int]*Round) *Round {
    var open, last *Round
    for _, r := range rounds {
        if r == nil { continue }
        if last == nil || r.RoundNumber > last.RoundNumber { last = r }
        if r.Status != RoundCompleted && (open == nil || r.RoundNumber > open.RoundNumber) { open = r }
    }
    if open != nil { return open }
    return last
}

// TallyVotes counts, per submission key, the votes that point at it. Votes for
// keys with no submission are ignored.
func TallyVotes(r *Round) map[string]int {
    out := map[string]int{}
    if r == nil { return out }
    for key := range r.Submissions { out[key] = 0 }
    for _, v := range r.Votes {
        if v == nil { continue }
        if _, ok := r.Submissions[v.VotedFor]; ok { out[v.VotedFor]++ }
    }
    return out
}

// NextRoundNumber is max existing round number + 1.
func NextRoundNumber(rounds map[int]*Round) int {
    max := 0
    for n, r := range rounds {
        if r != nil && n > max { max = n }
    }
    return max + 1
}

// Standing is one row of the scoreboard.
type Standing struct {
    ParticipantID string `json:"participantId"`
    DisplayName   string `json:"displayName"`
    Role          Role   `json:"role"`
    Score         int    `json:"score"`
}

// Standings ranks contestants by score, then display name.
func Standings(b *Battle) []Standing {
    out := []Standing{}
    for id, p := range b.Participants {
        if p == nil || p.Role != RoleContestant { continue }
        out = append(out, Standing{ParticipantID: id, DisplayName: p.DisplayName, Role: p.Role, Score: p.Score})
    }
    sort.Slice(out, func(i, j int) bool {
        if out[i].Score != out[j].Score { return out[i].Score > out[j].Score }
        if out[i].DisplayName != out[j].DisplayName { return out[i].DisplayName < out[j].DisplayName }
        return out[i].ParticipantID < out[j].ParticipantID
    })
    return out
}

// View is what subscribers see after every change.
type View struct {
    Battle    *Battle        `json:"battle"`
    Current   *Round         `json:"current,omitempty"`
    Phase     Phase          `json:"phase"`
    Tallies   map[string]int `json:"tallies"`
    Standings []Standing     `json:"standings"`
}

// Project derives the view of b.
func Project(b *Battle) *View {
    b.normalize()
    cur := CurrentRound(b.Rounds)
    return &View{Battle: b, Current: cur, Phase: PhaseOf(cur), Tallies: TallyVotes(cur), Standings: Standings(b)}
}
