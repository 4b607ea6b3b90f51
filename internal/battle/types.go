package battle

import (
    "fmt"
    "sort"
    "strings"
    "time"
)

// Role of a participant. Fixed once joined.
type Role string

const (
    RoleHost       Role = "host"
    RoleContestant Role = "contestant"
    RoleSpectator  Role = "spectator"
)

func (r Role) Valid() bool {
    switch r {
    case RoleHost, RoleContestant, RoleSpectator:
        return true
    }
    return false
}

func (r *Role) UnmarshalText(b []byte) error { return decodeEnum(b, (*Role).Valid, r, "role") }

// BattleStatus is battle-level lifecycle. Nothing in this package moves it off waiting.
type BattleStatus string

const (
    BattleWaiting   BattleStatus = "waiting"
    BattleActive    BattleStatus = "active"
    BattleCompleted BattleStatus = "completed"
    BattleCancelled BattleStatus = "cancelled"
)

func (s BattleStatus) Valid() bool {
    switch s {
    case BattleWaiting, BattleActive, BattleCompleted, BattleCancelled:
        return true
    }
    return false
}

func (s *BattleStatus) UnmarshalText(b []byte) error {
    return decodeEnum(b, (*BattleStatus).Valid, s, "battle status")
}

// RoundStatus is the phase a round is in.
type RoundStatus string

const (
    RoundWaiting          RoundStatus = "waiting"
    RoundPromptSubmission RoundStatus = "prompt_submission"
    RoundGenerating       RoundStatus = "generating" // reserved, never entered
    RoundVoting           RoundStatus = "voting"
    RoundCompleted        RoundStatus = "completed"
)

func (s RoundStatus) Valid() bool {
    switch s {
    case RoundWaiting, RoundPromptSubmission, RoundGenerating, RoundVoting, RoundCompleted:
        return true
    }
    return false
}

func (s *RoundStatus) UnmarshalText(b []byte) error {
    return decodeEnum(b, (*RoundStatus).Valid, s, "round status")
}

type GenerationStatus string

const (
    GenPending    GenerationStatus = "pending"
    GenGenerating GenerationStatus = "generating"
    GenCompleted  GenerationStatus = "completed"
    GenFailed     GenerationStatus = "failed"
)

func (s GenerationStatus) Valid() bool {
    switch s {
    case GenPending, GenGenerating, GenCompleted, GenFailed:
        return true
    }
    return false
}

func (s *GenerationStatus) UnmarshalText(b []byte) error {
    return decodeEnum(b, (*GenerationStatus).Valid, s, "generation status")
}

// Presence is advisory and never gates anything.
type Presence string

const (
    PresenceOnline  Presence = "online"
    PresenceOffline Presence = "offline"
    PresenceTyping  Presence = "typing"
)

func (p Presence) Valid() bool {
    switch p {
    case PresenceOnline, PresenceOffline, PresenceTyping:
        return true
    }
    return false
}

func (p *Presence) UnmarshalText(b []byte) error { return decodeEnum(b, (*Presence).Valid, p, "presence") }

type MessageType string

const (
    MessageChat         MessageType = "chat"
    MessageSystem       MessageType = "system"
    MessageAnnouncement MessageType = "announcement"
)

func (t MessageType) Valid() bool {
    switch t {
    case MessageChat, MessageSystem, MessageAnnouncement:
        return true
    }
    return false
}

func (t *MessageType) UnmarshalText(b []byte) error {
    return decodeEnum(b, (*MessageType).Valid, t, "message type")
}

func decodeEnum[T ~string](b []byte, valid func(*T) bool, dst *T, what string) error {
    v := T(strings.TrimSpace(string(b)))
    if !valid(&v) { return fmt.Errorf("unknown %s %q", what, string(b)) }
    *dst = v
    return nil
}

// Settings are fixed when the battle is created.
type Settings struct {
    NumRounds              int      `json:"numRounds"`
    PromptTimeLimit        int      `json:"promptTimeLimit"` // seconds
    VotingTimeLimit        int      `json:"votingTimeLimit"` // seconds
    MaxContestants         int      `json:"maxContestants"`
    SpectatorVotingEnabled bool     `json:"spectatorVotingEnabled"`
    ManualWinnerSelection  bool     `json:"manualWinnerSelection"`
    UseCustomTopics        bool     `json:"useCustomTopics"`
    CustomTopics           []string `json:"customTopics,omitempty"`
}

const (
    DefaultNumRounds       = 3
    DefaultPromptTimeLimit = 60
    DefaultVotingTimeLimit = 60
    DefaultMaxContestants  = 8
)

// Normalize fills defaults and validates the result.
func (s Settings) Normalize() (Settings, error) {
    if s.NumRounds == 0 { s.NumRounds = DefaultNumRounds }
    if s.PromptTimeLimit == 0 { s.PromptTimeLimit = DefaultPromptTimeLimit }
    if s.VotingTimeLimit == 0 { s.VotingTimeLimit = DefaultVotingTimeLimit }
    if s.MaxContestants == 0 { s.MaxContestants = DefaultMaxContestants }
    if s.NumRounds < 0 || s.PromptTimeLimit < 0 || s.VotingTimeLimit < 0 || s.MaxContestants < 0 {
        return s, fmt.Errorf("settings must not be negative")
    }
    topics := s.CustomTopics[:0:0]
    for _, t := range s.CustomTopics {
        if t = strings.TrimSpace(t); t != "" { topics = append(topics, t) }
    }
    s.CustomTopics = topics
    if s.UseCustomTopics && len(s.CustomTopics) == 0 {
        return s, fmt.Errorf("useCustomTopics requires at least one topic")
    }
    if len(s.CustomTopics) == 0 { s.CustomTopics = nil }
    return s, nil
}

func (s Settings) promptLimit() time.Duration { return time.Duration(s.PromptTimeLimit) * time.Second }
func (s Settings) votingLimit() time.Duration { return time.Duration(s.VotingTimeLimit) * time.Second }

// Metadata lives at battles/{id}/metadata.
type Metadata struct {
    Name        string       `json:"name"`
    Description string       `json:"description,omitempty"`
    HostID      string       `json:"hostId"`
    BattleCode  string       `json:"battleCode"`
    CreatedAt   time.Time    `json:"createdAt"`
    Status      BattleStatus `json:"status"`
    Settings    Settings     `json:"settings"`
}

type Participant struct {
    DisplayName string    `json:"displayName"`
    Role        Role      `json:"role"`
    JoinedAt    time.Time `json:"joinedAt"`
    Status      Presence  `json:"status"`
    LastActive  time.Time `json:"lastActive"`
    Score       int       `json:"score"`
}

type Submission struct {
    Prompt           string           `json:"prompt"`
    SubmittedAt      time.Time        `json:"submittedAt"`
    GenerationStatus GenerationStatus `json:"generationStatus"`
    ImageURL         string           `json:"imageUrl,omitempty"`
    Error            string           `json:"error,omitempty"`
}

type Vote struct {
    VotedFor string    `json:"votedFor"`
    VotedAt  time.Time `json:"votedAt"`
}

type RoundResults struct {
    Winner     string         `json:"winner"`
    DeclaredAt time.Time      `json:"declaredAt"`
    VoteCounts map[string]int `json:"voteCounts,omitempty"`
}

// Round lives at battles/{id}/rounds/{n}. Submissions and votes are keyed by participant id.
type Round struct {
    RoundNumber     int                    `json:"roundNumber"`
    Topic           string                 `json:"topic"`
    StartedAt       time.Time              `json:"startedAt"`
    EndedAt         time.Time              `json:"endedAt,omitzero"`
    Status          RoundStatus            `json:"status"`
    PromptEndTime   time.Time              `json:"promptEndTime"`
    VotingStartedAt time.Time              `json:"votingStartedAt,omitzero"`
    VotingEndTime   time.Time              `json:"votingEndTime"`
    Submissions     map[string]*Submission `json:"submissions,omitempty"`
    Votes           map[string]*Vote       `json:"votes,omitempty"`
    Results         *RoundResults          `json:"results,omitempty"`
}

func (r *Round) normalize() {
    if r.Submissions == nil { r.Submissions = map[string]*Submission{} }
    if r.Votes == nil { r.Votes = map[string]*Vote{} }
}

type Message struct {
    Sender  string      `json:"sender"`
    Content string      `json:"content"`
    SentAt  time.Time   `json:"sentAt"`
    Type    MessageType `json:"type"`
}

// Battle is the full document at battles/{id}.
type Battle struct {
    ID           string                  `json:"id"`
    Metadata     Metadata                `json:"metadata"`
    Participants map[string]*Participant `json:"participants"`
    Rounds       map[int]*Round          `json:"rounds"`
    Messages     map[string]*Message     `json:"messages"`
}

// normalize makes every collection non-nil; the store drops empty maps.
func (b *Battle) normalize() {
    if b.Participants == nil { b.Participants = map[string]*Participant{} }
    if b.Rounds == nil { b.Rounds = map[int]*Round{} }
    if b.Messages == nil { b.Messages = map[string]*Message{} }
    for n, r := range b.Rounds {
        if r == nil { delete(b.Rounds, n); continue }
        if r.RoundNumber == 0 { r.RoundNumber = n }
        r.normalize()
    }
}

// Role returns the role of participantID, or "" when it is not in the battle.
func (b *Battle) Role(participantID string) Role {
    if p := b.Participants[participantID]; p != nil { return p.Role }
    return ""
}

// MessageEntry is a message with its generated key.
type MessageEntry struct {
    Key string `json:"key"`
    Message
}

// MessageLog returns messages in key (creation) order.
func (b *Battle) MessageLog() []MessageEntry {
    keys := make([]string, 0, len(b.Messages))
    for k, m := range b.Messages {
        if m != nil { keys = append(keys, k) }
    }
    sort.Strings(keys)
    out := make([]MessageEntry, 0, len(keys))
    for _, k := range keys { out = append(out, MessageEntry{Key: k, Message: *b.Messages[k]}) }
    return out
}

// ActiveBattle is the join index entry at activeBattles/{code}.
type ActiveBattle struct {
    BattleID         string       `json:"battleId"`
    Name             string       `json:"name"`
    HostName         string       `json:"hostName"`
    Status           BattleStatus `json:"status"`
    ParticipantCount int          `json:"participantCount"`
    CreatedAt        time.Time    `json:"createdAt"`
}
