// Package archive keeps completed rounds in Postgres after the live store has moved on.
package archive

import (
    "context"
    "database/sql"
    "encoding/json"
    "fmt"
    "sort"
    "strings"
    "time"

    _ "github.com/lib/pq"

    "github.com/park285/prompt-battle/internal/battle"
)

const schema = `CREATE TABLE IF NOT EXISTS battle_rounds (
    battle_id     TEXT        NOT NULL,
    round_number  INTEGER     NOT NULL,
    battle_name   TEXT        NOT NULL,
    topic         TEXT        NOT NULL,
    winner_id     TEXT        NOT NULL,
    winner_name   TEXT        NOT NULL,
    vote_counts   JSONB       NOT NULL,
    submissions   JSONB       NOT NULL,
    transcript    TEXT        NOT NULL,
    started_at    TIMESTAMPTZ NOT NULL,
    ended_at      TIMESTAMPTZ NOT NULL,
    duration_ms   BIGINT      NOT NULL,
    PRIMARY KEY (battle_id, round_number)
)`

type Repository struct {
    db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
    if strings.TrimSpace(databaseURL) == "" {
        return nil, fmt.Errorf("DATABASE_URL is required")
    }
    db, err := sql.Open("postgres", databaseURL)
    if err != nil {
        return nil, err
    }
    db.SetMaxOpenConns(8)
    db.SetMaxIdleConns(4)
    db.SetConnMaxLifetime(30 * time.Minute)
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    if err := db.PingContext(ctx); err != nil {
        _ = db.Close()
        return nil, err
    }
    return &Repository{db: db}, nil
}

// EnsureSchema creates battle_rounds when missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
    if r == nil || r.db == nil { return nil }
    _, err := r.db.ExecContext(ctx, schema)
    return err
}

func (r *Repository) Close() error {
    if r == nil || r.db == nil { return nil }
    return r.db.Close()
}

// archivedSubmission is the JSON shape stored per contestant.
type archivedSubmission struct {
    Name   string `json:"name"`
    Prompt string `json:"prompt"`
    Image  string `json:"imageUrl,omitempty"`
    Votes  int    `json:"votes"`
}

// SaveRound upserts a completed round.
func (r *Repository) SaveRound(ctx context.Context, b *battle.Battle, rd *battle.Round) error {
    if r == nil || r.db == nil || b == nil || rd == nil {
        return nil
    }
    if rd.Results == nil {
        return fmt.Errorf("round %d has no results", rd.RoundNumber)
    }

    counts := rd.Results.VoteCounts
    if counts == nil { counts = battle.TallyVotes(rd) }
    countsRaw, err := json.Marshal(counts)
    if err != nil { return err }

    subs := make(map[string]archivedSubmission, len(rd.Submissions))
    for pid, s := range rd.Submissions {
        if s == nil { continue }
        subs[pid] = archivedSubmission{Name: nameOf(b, pid), Prompt: s.Prompt, Image: s.ImageURL, Votes: counts[pid]}
    }
    subsRaw, err := json.Marshal(subs)
    if err != nil { return err }

    ended := rd.EndedAt
    if ended.IsZero() { ended = rd.Results.DeclaredAt }
    duration := ended.Sub(rd.StartedAt).Milliseconds()
    if duration < 0 { duration = 0 }

    q := `INSERT INTO battle_rounds (
        battle_id, round_number, battle_name, topic,
        winner_id, winner_name, vote_counts, submissions, transcript,
        started_at, ended_at, duration_ms
      ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
      ) ON CONFLICT (battle_id, round_number) DO UPDATE SET
        battle_name=EXCLUDED.battle_name,
        topic=EXCLUDED.topic,
        winner_id=EXCLUDED.winner_id,
        winner_name=EXCLUDED.winner_name,
        vote_counts=EXCLUDED.vote_counts,
        submissions=EXCLUDED.submissions,
        transcript=EXCLUDED.transcript,
        started_at=EXCLUDED.started_at,
        ended_at=EXCLUDED.ended_at,
        duration_ms=EXCLUDED.duration_ms`

    _, err = r.db.ExecContext(ctx, q,
        b.ID, rd.RoundNumber, b.Metadata.Name, rd.Topic,
        rd.Results.Winner, nameOf(b, rd.Results.Winner), string(countsRaw), string(subsRaw),
        buildTranscript(b, rd),
        rd.StartedAt, ended, duration,
    )
    return err
}

// buildTranscript renders a round as a short header block followed by one line per submission,
// highest vote count first.
func buildTranscript(b *battle.Battle, rd *battle.Round) string {
    if b == nil || rd == nil {
        return ""
    }
    var sb strings.Builder
    date := rd.EndedAt
    if date.IsZero() { date = rd.StartedAt }
    sb.WriteString(fmt.Sprintf("[Battle \"%s\"]\n", sanitize(b.Metadata.Name)))
    sb.WriteString(fmt.Sprintf("[Code \"%s\"]\n", sanitize(b.Metadata.BattleCode)))
    sb.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
    sb.WriteString(fmt.Sprintf("[Round \"%d\"]\n", rd.RoundNumber))
    sb.WriteString(fmt.Sprintf("[Topic \"%s\"]\n", sanitize(rd.Topic)))
    winner := ""
    if rd.Results != nil { winner = rd.Results.Winner }
    sb.WriteString(fmt.Sprintf("[Winner \"%s\"]\n\n", sanitize(nameOf(b, winner))))

    counts := battle.TallyVotes(rd)
    ids := make([]string, 0, len(rd.Submissions))
    for pid := range rd.Submissions { ids = append(ids, pid) }
    sort.Slice(ids, func(i, j int) bool {
        if counts[ids[i]] != counts[ids[j]] { return counts[ids[i]] > counts[ids[j]] }
        return ids[i] < ids[j]
    })
    for i, pid := range ids {
        s := rd.Submissions[pid]
        if s == nil { continue }
        mark := ""
        if pid == winner { mark = " *" }
        sb.WriteString(fmt.Sprintf("%d. %s (%d)%s: %s\n", i+1, sanitize(nameOf(b, pid)), counts[pid], mark, strings.TrimSpace(s.Prompt)))
    }
    return sb.String()
}

func nameOf(b *battle.Battle, pid string) string {
    if p := b.Participants[pid]; p != nil && strings.TrimSpace(p.DisplayName) != "" {
        return p.DisplayName
    }
    return pid
}

func sanitize(s string) string {
    s = strings.ReplaceAll(s, "\\", " ")
    s = strings.ReplaceAll(s, "\"", "'")
    return strings.TrimSpace(s)
}
