package battle

import (
    "context"
    "fmt"
    "strings"
    "time"

    "github.com/park285/prompt-battle/internal/obslog"
    "github.com/park285/prompt-battle/internal/store"
    "go.uber.org/zap"
)

// Generator produces round topics and images for prompts.
type Generator interface {
    GenerateTopic(ctx context.Context) (string, error)
    GenerateImage(ctx context.Context, prompt string) (string, error)
}

// Renderer renders system message templates by key.
type Renderer interface {
    Render(key string, data any) (string, error)
}

// Archiver keeps completed rounds outside the shared store.
type Archiver interface {
    SaveRound(ctx context.Context, b *Battle, r *Round) error
}

const systemSender = "system"

// Manager drives battles through the shared store. It holds no battle state of
// its own; every call reads what it needs and issues point writes.
type Manager struct {
    store store.Adapter
    gen   Generator
    msgs  Renderer
    repo  Archiver
    now   func() time.Time
}

type Option func(*Manager)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// WithMessages enables system messages rendered from r.
func WithMessages(r Renderer) Option { return func(m *Manager) { m.msgs = r } }

func NewManager(st store.Adapter, gen Generator, opts ...Option) *Manager {
    m := &Manager{store: st, gen: gen, now: func() time.Time { return time.Now().UTC() }}
    for _, o := range opts { o(m) }
    return m
}

// AttachArchive wires a repository for persisting completed rounds.
func (m *Manager) AttachArchive(a Archiver) {
    if m != nil {
        m.repo = a
    }
}

// Get returns the projected view of a battle.
func (m *Manager) Get(ctx context.Context, battleID string) (*View, error) {
    b, err := m.load(ctx, "get_battle", battleID)
    if err != nil { return nil, err }
    return Project(b), nil
}

// Subscribe calls fn with a fresh view every time the battle changes.
func (m *Manager) Subscribe(ctx context.Context, battleID string, fn func(*View)) (store.Unsubscribe, error) {
    const op = "subscribe"
    if _, err := m.load(ctx, op, battleID); err != nil { return nil, err }
    return m.store.Subscribe(ctx, battlePath(battleID), func(sn store.Snapshot) {
        if !sn.Exists() { return }
        var b Battle
        if err := sn.Decode(&b); err != nil {
            obslog.L().Warn("battle_decode_error", zap.String("battle_id", battleID), zap.Error(err))
            return
        }
        b.ID = battleID
        fn(Project(&b))
    })
}

// round loads the battle and one of its rounds.
func (m *Manager) round(ctx context.Context, op, battleID string, n int) (*Battle, *Round, error) {
    b, err := m.load(ctx, op, battleID)
    if err != nil { return nil, nil, err }
    r := b.Rounds[n]
    if r == nil { return nil, nil, notFound(op, fmt.Sprintf("round %d", n)) }
    return b, r, nil
}

// authorize runs the gate for actor. Host-only actions also require actor to be the battle's host.
func authorize(b *Battle, actor string, phase Phase, action Action) error {
    role := b.Role(actor)
    if err := Check(role, phase, action, b.Metadata.Settings.SpectatorVotingEnabled); err != nil { return err }
    if role == RoleHost && actor != b.Metadata.HostID { return unauthorized(string(action), "not the battle host") }
    return nil
}

// StartRound opens the next round in prompt_submission.
func (m *Manager) StartRound(ctx context.Context, battleID, actor string) (*Round, error) {
    const op = string(ActionStartRound)
    b, err := m.load(ctx, op, battleID)
    if err != nil { return nil, err }
    if err := authorize(b, actor, PhaseOf(CurrentRound(b.Rounds)), ActionStartRound); err != nil { return nil, err }

    settings := b.Metadata.Settings
    n := NextRoundNumber(b.Rounds)
    if settings.NumRounds > 0 && n > settings.NumRounds {
        return nil, precondition(op, fmt.Sprintf("all %d rounds played", settings.NumRounds))
    }

    topic, err := m.topicFor(ctx, settings, n)
    if err != nil {
        obslog.L().Warn("battle_topic_error", zap.String("battle_id", battleID), zap.Int("round", n), zap.Error(err))
        return nil, generation(op, err)
    }

    now := m.now()
    r := &Round{
        RoundNumber:   n,
        Topic:         topic,
        StartedAt:     now,
        Status:        RoundPromptSubmission,
        PromptEndTime: now.Add(settings.promptLimit()),
    }
    r.VotingEndTime = r.PromptEndTime.Add(settings.votingLimit())
    if err := m.store.Write(ctx, roundPath(battleID, n), r); err != nil { return nil, fmt.Errorf("%s: %w", op, err) }
    r.normalize()

    obslog.L().Info("battle_round_start", zap.String("battle_id", battleID), zap.Int("round", n), zap.String("topic", topic))
    m.announce(ctx, battleID, "round.started", map[string]any{"Round": n, "Topic": topic, "Seconds": settings.PromptTimeLimit})
    return r, nil
}

func (m *Manager) topicFor(ctx context.Context, s Settings, n int) (string, error) {
    if s.UseCustomTopics && len(s.CustomTopics) > 0 {
        return s.CustomTopics[(n-1)%len(s.CustomTopics)], nil
    }
    if m.gen == nil { return "", fmt.Errorf("no topic generator configured") }
    topic, err := m.gen.GenerateTopic(ctx)
    if err != nil { return "", err }
    topic = strings.TrimSpace(topic)
    if topic == "" { return "", fmt.Errorf("empty topic") }
    return topic, nil
}

// SubmitPrompt records a contestant's prompt for round n.
func (m *Manager) SubmitPrompt(ctx context.Context, battleID string, n int, participantID, prompt string) (*Submission, error) {
    const op = string(ActionSubmitPrompt)
    b, r, err := m.round(ctx, op, battleID, n)
    if err != nil { return nil, err }
    if err := authorize(b, participantID, Phase(r.Status), ActionSubmitPrompt); err != nil { return nil, err }
    prompt = strings.TrimSpace(prompt)
    if prompt == "" { return nil, precondition(op, "prompt is empty") }
    if _, ok := r.Submissions[participantID]; ok { return nil, precondition(op, "prompt already submitted") }

    sub := &Submission{Prompt: prompt, SubmittedAt: m.now(), GenerationStatus: GenPending}
    if err := m.store.Write(ctx, submissionPath(battleID, n, participantID), sub); err != nil {
        return nil, fmt.Errorf("%s: %w", op, err)
    }
    obslog.L().Info("battle_submit_prompt", zap.String("battle_id", battleID), zap.Int("round", n), zap.String("participant_id", participantID))
    return sub, nil
}

// GenerateArtifact renders the image for owner's submission. The submission
// moves to generating, then to completed or failed.
func (m *Manager) GenerateArtifact(ctx context.Context, battleID string, n int, actor, owner string) (*Submission, error) {
    const op = string(ActionGenerateArtifact)
    b, r, err := m.round(ctx, op, battleID, n)
    if err != nil { return nil, err }
    if err := authorize(b, actor, Phase(r.Status), ActionGenerateArtifact); err != nil { return nil, err }
    sub := r.Submissions[owner]
    if sub == nil { return nil, notFound(op, "submission") }
    if m.gen == nil { return nil, generation(op, fmt.Errorf("no image generator configured")) }

    path := submissionPath(battleID, n, owner)
    if err := m.store.Update(ctx, path, map[string]any{"generationStatus": GenGenerating, "error": nil}); err != nil {
        return nil, fmt.Errorf("%s: %w", op, err)
    }
    sub.GenerationStatus, sub.Error = GenGenerating, ""

    url, genErr := m.gen.GenerateImage(ctx, sub.Prompt)
    // the outcome is recorded even when the caller has gone away
    wctx := context.WithoutCancel(ctx)
    if genErr != nil {
        if err := m.store.Update(wctx, path, map[string]any{"generationStatus": GenFailed, "error": genErr.Error()}); err != nil {
            obslog.L().Error("battle_generation_status_error", zap.String("battle_id", battleID), zap.Int("round", n), zap.Error(err))
        }
        obslog.L().Warn("battle_generation_failed", zap.String("battle_id", battleID), zap.Int("round", n), zap.String("owner", owner), zap.Error(genErr))
        m.announce(wctx, battleID, "generation.failed", map[string]any{"Name": b.displayName(owner)})
        return nil, generation(op, genErr)
    }
    if err := m.store.Update(wctx, path, map[string]any{"generationStatus": GenCompleted, "imageUrl": url, "error": nil}); err != nil {
        return nil, fmt.Errorf("%s: %w", op, err)
    }
    sub.GenerationStatus, sub.ImageURL = GenCompleted, url
    obslog.L().Info("battle_generation_done", zap.String("battle_id", battleID), zap.Int("round", n), zap.String("owner", owner))
    return sub, nil
}

// AdvanceToVoting moves round n from prompt_submission to voting.
func (m *Manager) AdvanceToVoting(ctx context.Context, battleID string, n int, actor string) (*Round, error) {
    const op = string(ActionAdvanceToVoting)
    b, r, err := m.round(ctx, op, battleID, n)
    if err != nil { return nil, err }
    if err := authorize(b, actor, Phase(r.Status), ActionAdvanceToVoting); err != nil { return nil, err }

    now := m.now()
    // the voting window reuses the prompt window's length
    end := now.Add(r.PromptEndTime.Sub(r.StartedAt))
    err = m.store.Update(ctx, roundPath(battleID, n), map[string]any{
        "status":          RoundVoting,
        "votingStartedAt": now,
        "votingEndTime":   end,
    })
    if err != nil { return nil, fmt.Errorf("%s: %w", op, err) }
    r.Status, r.VotingStartedAt, r.VotingEndTime = RoundVoting, now, end

    obslog.L().Info("battle_voting_open", zap.String("battle_id", battleID), zap.Int("round", n), zap.Int("submissions", len(r.Submissions)))
    m.announce(ctx, battleID, "voting.opened", map[string]any{"Round": n, "Submissions": len(r.Submissions)})
    return r, nil
}

// SubmitVote records voter's single vote in round n.
func (m *Manager) SubmitVote(ctx context.Context, battleID string, n int, voter, votedFor string) (*Vote, error) {
    const op = string(ActionSubmitVote)
    b, r, err := m.round(ctx, op, battleID, n)
    if err != nil { return nil, err }
    if err := authorize(b, voter, Phase(r.Status), ActionSubmitVote); err != nil { return nil, err }
    if _, ok := r.Votes[voter]; ok { return nil, precondition(op, "already voted") }
    if _, ok := r.Submissions[votedFor]; !ok { return nil, precondition(op, "no such submission") }
    if votedFor == voter { return nil, unauthorized(op, "cannot vote for own submission") }

    v := &Vote{VotedFor: votedFor, VotedAt: m.now()}
    if err := m.store.Write(ctx, votePath(battleID, n, voter), v); err != nil { return nil, fmt.Errorf("%s: %w", op, err) }
    obslog.L().Info("battle_vote", zap.String("battle_id", battleID), zap.Int("round", n), zap.String("voter", voter))
    return v, nil
}

// DeclareWinner closes round n with winner and adds one point to the winner's score.
func (m *Manager) DeclareWinner(ctx context.Context, battleID string, n int, actor, winner string) (*RoundResults, error) {
    const op = string(ActionDeclareWinner)
    b, r, err := m.round(ctx, op, battleID, n)
    if err != nil { return nil, err }
    if err := authorize(b, actor, Phase(r.Status), ActionDeclareWinner); err != nil { return nil, err }
    if _, ok := r.Submissions[winner]; !ok { return nil, precondition(op, "winner has no submission in this round") }

    now := m.now()
    res := &RoundResults{Winner: winner, DeclaredAt: now, VoteCounts: TallyVotes(r)}
    if err := m.store.Write(ctx, roundPath(battleID, n)+"/results", res); err != nil { return nil, fmt.Errorf("%s: %w", op, err) }

    // plain read-then-write; only one declaration can pass the voting guard in practice
    scorePath := participantPath(battleID, winner) + "/score"
    var score int
    if _, err := m.store.Read(ctx, scorePath, &score); err != nil { return nil, fmt.Errorf("%s: %w", op, err) }
    if err := m.store.Write(ctx, scorePath, score+1); err != nil { return nil, fmt.Errorf("%s: %w", op, err) }

    err = m.store.Update(ctx, roundPath(battleID, n), map[string]any{"status": RoundCompleted, "endedAt": now})
    if err != nil { return nil, fmt.Errorf("%s: %w", op, err) }

    r.Results, r.Status, r.EndedAt = res, RoundCompleted, now
    if p := b.Participants[winner]; p != nil { p.Score = score + 1 }

    obslog.L().Info("battle_round_winner",
        zap.String("battle_id", battleID),
        zap.Int("round", n),
        zap.String("winner", winner),
        zap.Int("votes", res.VoteCounts[winner]),
        zap.Int("score", score+1),
    )
    m.announce(ctx, battleID, "round.winner", map[string]any{"Round": n, "Name": b.displayName(winner), "Votes": res.VoteCounts[winner]})
    if n >= b.Metadata.Settings.NumRounds {
        if top := Standings(b); len(top) > 0 {
            m.announce(ctx, battleID, "battle.finished", map[string]any{"Name": top[0].DisplayName, "Score": top[0].Score})
        }
    }
    _ = m.persistRound(ctx, b, r)
    return res, nil
}

// SendMessage appends a chat message, or an announcement when the sender is the host.
func (m *Manager) SendMessage(ctx context.Context, battleID, sender, content string, typ MessageType) (string, error) {
    const op = string(ActionSendMessage)
    if typ == "" { typ = MessageChat }
    if !typ.Valid() { return "", invalid(op, "unknown message type") }
    if typ == MessageSystem { return "", unauthorized(op, "system messages are reserved") }
    content = strings.TrimSpace(content)
    if content == "" { return "", invalid(op, "empty message") }

    b, err := m.load(ctx, op, battleID)
    if err != nil { return "", err }
    action := ActionSendMessage
    if typ == MessageAnnouncement { action = ActionAnnounce }
    if err := authorize(b, sender, PhaseOf(CurrentRound(b.Rounds)), action); err != nil { return "", err }

    key, err := m.store.Append(ctx, messagesPath(battleID), Message{Sender: sender, Content: content, SentAt: m.now(), Type: typ})
    if err != nil { return "", fmt.Errorf("%s: %w", op, err) }
    return key, nil
}

// SetPresence updates a participant's presence and last-active time.
func (m *Manager) SetPresence(ctx context.Context, battleID, participantID string, status Presence) error {
    const op = string(ActionUpdatePresence)
    if !status.Valid() { return invalid(op, "unknown presence") }
    b, err := m.load(ctx, op, battleID)
    if err != nil { return err }
    if err := authorize(b, participantID, PhaseOf(CurrentRound(b.Rounds)), ActionUpdatePresence); err != nil { return err }
    err = m.store.Update(ctx, participantPath(battleID, participantID), map[string]any{"status": status, "lastActive": m.now()})
    if err != nil { return fmt.Errorf("%s: %w", op, err) }
    return nil
}

// announce posts a system message. Failures are logged only.
func (m *Manager) announce(ctx context.Context, battleID, key string, data map[string]any) {
    if m.msgs == nil { return }
    text, err := m.msgs.Render(key, data)
    if err != nil {
        obslog.L().Warn("battle_message_render_error", zap.String("key", key), zap.Error(err))
        return
    }
    msg := Message{Sender: systemSender, Content: text, SentAt: m.now(), Type: MessageSystem}
    if _, err := m.store.Append(ctx, messagesPath(battleID), msg); err != nil {
        obslog.L().Warn("battle_message_append_error", zap.String("battle_id", battleID), zap.String("key", key), zap.Error(err))
    }
}

// persistRound saves a completed round to the archive if one is attached.
func (m *Manager) persistRound(ctx context.Context, b *Battle, r *Round) error {
    if m == nil || m.repo == nil || r == nil || r.Status != RoundCompleted { return nil }
    if err := m.repo.SaveRound(ctx, b, r); err != nil {
        obslog.L().Error("battle_round_persist_error", zap.String("battle_id", b.ID), zap.Int("round", r.RoundNumber), zap.Error(err))
        return err
    }
    obslog.L().Info("battle_round_persist", zap.String("battle_id", b.ID), zap.Int("round", r.RoundNumber))
    return nil
}

func (b *Battle) displayName(pid string) string {
    if p := b.Participants[pid]; p != nil && p.DisplayName != "" { return p.DisplayName }
    return pid
}
