package battle

import (
    "context"
    "crypto/rand"
    "fmt"
    "math/big"
    "strconv"
    "strings"

    "github.com/park285/prompt-battle/internal/obslog"
    "go.uber.org/zap"
)

const (
    codeLength   = 6
    codeAttempts = 5
    codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

func battlePath(id string) string           { return "battles/" + id }
func participantPath(id, pid string) string { return battlePath(id) + "/participants/" + pid }
func roundPath(id string, n int) string     { return battlePath(id) + "/rounds/" + strconv.Itoa(n) }
func messagesPath(id string) string         { return battlePath(id) + "/messages" }
func activePath(code string) string         { return "activeBattles/" + code }

func submissionPath(id string, n int, pid string) string { return roundPath(id, n) + "/submissions/" + pid }
func votePath(id string, n int, pid string) string       { return roundPath(id, n) + "/votes/" + pid }

// validID rejects ids that cannot be used as a path segment.
func validID(s string) bool {
    s = strings.TrimSpace(s)
    return s != "" && !strings.ContainsAny(s, "/.#$[]")
}

// NormalizeCode trims and upper-cases a battle code as typed by a user.
func NormalizeCode(code string) string { return strings.ToUpper(strings.TrimSpace(code)) }

// codeGen returns codeLength characters drawn uniformly from codeAlphabet.
func codeGen() (string, error) {
    b := make([]byte, codeLength)
    max := big.NewInt(int64(len(codeAlphabet)))
    for i := range b {
        n, err := rand.Int(rand.Reader, max)
        if err != nil { return "", err }
        b[i] = codeAlphabet[n.Int64()]
    }
    return string(b), nil
}

// CreateRequest describes a new battle. The caller becomes its host.
type CreateRequest struct {
    HostID      string   `json:"hostId"`
    HostName    string   `json:"hostName"`
    Name        string   `json:"name"`
    Description string   `json:"description"`
    Settings    Settings `json:"settings"`
}

type Created struct {
    BattleID   string `json:"battleId"`
    BattleCode string `json:"battleCode"`
}

// CreateBattle stores a new battle with its host and registers its join code.
func (m *Manager) CreateBattle(ctx context.Context, req CreateRequest) (*Created, error) {
    const op = "create_battle"
    if !validID(req.HostID) { return nil, invalid(op, "host id") }
    name := strings.TrimSpace(req.Name)
    if name == "" { return nil, invalid(op, "name required") }
    hostName := strings.TrimSpace(req.HostName)
    if hostName == "" { hostName = req.HostID }
    settings, err := req.Settings.Normalize()
    if err != nil { return nil, invalid(op, err.Error()) }

    code, err := m.allocateCode(ctx)
    if err != nil { return nil, err }

    now := m.now()
    meta := Metadata{
        Name:        name,
        Description: strings.TrimSpace(req.Description),
        HostID:      req.HostID,
        BattleCode:  code,
        CreatedAt:   now,
        Status:      BattleWaiting,
        Settings:    settings,
    }
    host := Participant{DisplayName: hostName, Role: RoleHost, JoinedAt: now, Status: PresenceOnline, LastActive: now}
    doc := map[string]any{
        "metadata":     meta,
        "participants": map[string]any{req.HostID: host},
    }
    id, err := m.store.Append(ctx, "battles", doc)
    if err != nil { return nil, fmt.Errorf("create battle: %w", err) }

    idx := ActiveBattle{BattleID: id, Name: name, HostName: hostName, Status: BattleWaiting, ParticipantCount: 1, CreatedAt: now}
    if err := m.store.Write(ctx, activePath(code), idx); err != nil { return nil, fmt.Errorf("index battle code: %w", err) }

    obslog.L().Info("battle_create",
        zap.String("battle_id", id),
        zap.String("code", code),
        zap.String("host_id", req.HostID),
        zap.Int("num_rounds", settings.NumRounds),
    )
    return &Created{BattleID: id, BattleCode: code}, nil
}

func (m *Manager) allocateCode(ctx context.Context) (string, error) {
    for i := 0; i < codeAttempts; i++ {
        c, err := codeGen()
        if err != nil { return "", err }
        taken, err := m.store.Read(ctx, activePath(c), nil)
        if err != nil { return "", fmt.Errorf("check battle code: %w", err) }
        if !taken { return c, nil }
    }
    return "", fmt.Errorf("failed to allocate battle code")
}

// ResolveCode maps a join code to its battle id.
func (m *Manager) ResolveCode(ctx context.Context, code string) (string, error) {
    idx, err := m.lookupCode(ctx, "resolve_code", code)
    if err != nil { return "", err }
    return idx.BattleID, nil
}

func (m *Manager) lookupCode(ctx context.Context, op, code string) (*ActiveBattle, error) {
    code = NormalizeCode(code)
    if len(code) != codeLength || !validID(code) { return nil, notFound(op, "unknown battle code") }
    var idx ActiveBattle
    ok, err := m.store.Read(ctx, activePath(code), &idx)
    if err != nil { return nil, fmt.Errorf("%s: %w", op, err) }
    if !ok || idx.BattleID == "" { return nil, notFound(op, "unknown battle code") }
    return &idx, nil
}

// JoinBattle adds participantID to the battle behind code. Rejoining keeps the
// original role and only refreshes presence.
func (m *Manager) JoinBattle(ctx context.Context, code, participantID, displayName string, role Role) (string, error) {
    const op = "join_battle"
    if !validID(participantID) { return "", invalid(op, "participant id") }
    idx, err := m.lookupCode(ctx, op, code)
    if err != nil { return "", err }
    if !role.Valid() { return "", invalid(op, "unknown role") }
    if role == RoleHost { return "", unauthorized(op, "host role cannot be claimed") }

    b, err := m.load(ctx, op, idx.BattleID)
    if err != nil { return "", err }
    now := m.now()

    if p := b.Participants[participantID]; p != nil {
        err := m.store.Update(ctx, participantPath(b.ID, participantID), map[string]any{
            "status":     PresenceOnline,
            "lastActive": now,
        })
        if err != nil { return "", fmt.Errorf("%s: %w", op, err) }
        obslog.L().Info("battle_rejoin", zap.String("battle_id", b.ID), zap.String("participant_id", participantID), zap.String("role", string(p.Role)))
        return b.ID, nil
    }

    if role == RoleContestant {
        n := 0
        for _, p := range b.Participants {
            if p != nil && p.Role == RoleContestant { n++ }
        }
        if n >= b.Metadata.Settings.MaxContestants {
            return "", precondition(op, fmt.Sprintf("battle already has %d contestants", n))
        }
    }

    name := strings.TrimSpace(displayName)
    if name == "" { name = participantID }
    p := Participant{DisplayName: name, Role: role, JoinedAt: now, Status: PresenceOnline, LastActive: now}
    if err := m.store.Write(ctx, participantPath(b.ID, participantID), p); err != nil { return "", fmt.Errorf("%s: %w", op, err) }
    // read-then-write; concurrent joins may undercount, the count is display only
    if err := m.store.Update(ctx, activePath(NormalizeCode(code)), map[string]any{"participantCount": len(b.Participants) + 1}); err != nil {
        obslog.L().Warn("battle_join_count_error", zap.String("battle_id", b.ID), zap.Error(err))
    }
    m.announce(ctx, b.ID, "participant.joined", map[string]any{"Name": name, "Role": string(role)})
    obslog.L().Info("battle_join", zap.String("battle_id", b.ID), zap.String("participant_id", participantID), zap.String("role", string(role)))
    return b.ID, nil
}

// load reads the whole battle document.
func (m *Manager) load(ctx context.Context, op, battleID string) (*Battle, error) {
    if !validID(battleID) { return nil, notFound(op, "battle") }
    var b Battle
    ok, err := m.store.Read(ctx, battlePath(battleID), &b)
    if err != nil { return nil, fmt.Errorf("%s: %w", op, err) }
    if !ok || b.Metadata.HostID == "" { return nil, notFound(op, "battle") }
    b.ID = battleID
    b.normalize()
    return &b, nil
}
