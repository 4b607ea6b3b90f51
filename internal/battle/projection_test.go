package battle

import (
    "testing"

    "github.com/stretchr/testify/require"
)

func TestCurrentRound(t *testing.T) {
    r := func(n int, s RoundStatus) *Round { return &Round{RoundNumber: n, Status: s} }
    cases := []struct {
        name   string
        rounds map[int]*Round
        want   int // 0 = none
    }{
        {"no rounds", nil, 0},
        {"one open", map[int]*Round{1: r(1, RoundPromptSubmission)}, 1},
        {"completed then voting", map[int]*Round{1: r(1, RoundCompleted), 2: r(2, RoundVoting)}, 2},
        {"all completed", map[int]*Round{1: r(1, RoundCompleted), 2: r(2, RoundCompleted)}, 2},
        {"open below completed", map[int]*Round{1: r(1, RoundVoting), 2: r(2, RoundCompleted)}, 1},
        {"two open picks highest", map[int]*Round{1: r(1, RoundVoting), 2: r(2, RoundPromptSubmission)}, 2},
    }
    for _, tc := range cases {
        t.Run(tc.name, func(t *testing.T) {
            got := CurrentRound(tc.rounds)
            if tc.want == 0 {
                require.Nil(t, got)
                return
            }
            require.NotNil(t, got)
            require.Equal(t, tc.want, got.RoundNumber)
        })
    }
}

func TestTallyVotesCountsOnlyRealSubmissions(t *testing.T) {
    rd := &Round{
        Submissions: map[string]*Submission{"A": {}, "B": {}},
        Votes: map[string]*Vote{
            "B": {VotedFor: "A"},
            "C": {VotedFor: "A"},
            "D": {VotedFor: "ghost"},
        },
    }
    first := TallyVotes(rd)
    require.Equal(t, map[string]int{"A": 2, "B": 0}, first)
    require.Equal(t, first, TallyVotes(rd))
    require.Empty(t, TallyVotes(nil))
}

func TestNextRoundNumber(t *testing.T) {
    require.Equal(t, 1, NextRoundNumber(nil))
    require.Equal(t, 3, NextRoundNumber(map[int]*Round{1: {}, 2: {}}))
}

func TestStandingsOrder(t *testing.T) {
    b := &Battle{Participants: map[string]*Participant{
        "h": {DisplayName: "Host", Role: RoleHost},
        "a": {DisplayName: "Ann", Role: RoleContestant, Score: 1},
        "b": {DisplayName: "Bob", Role: RoleContestant, Score: 2},
        "c": {DisplayName: "Abe", Role: RoleContestant, Score: 1},
        "s": {DisplayName: "Sam", Role: RoleSpectator},
    }}
    got := Standings(b)
    require.Len(t, got, 3)
    require.Equal(t, []string{"b", "c", "a"}, []string{got[0].ParticipantID, got[1].ParticipantID, got[2].ParticipantID})
}

func TestProjectNormalizesEmptyMaps(t *testing.T) {
    v := Project(&Battle{Rounds: map[int]*Round{1: {Status: RoundVoting}}})
    require.NotNil(t, v.Current)
    require.Equal(t, 1, v.Current.RoundNumber)
    require.NotNil(t, v.Current.Votes)
    require.NotNil(t, v.Current.Submissions)
    require.Equal(t, PhaseVoting, v.Phase)
    require.NotNil(t, v.Battle.Participants)
}
