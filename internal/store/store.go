package store

import (
    "bytes"
    "context"
    "encoding/json"
    "fmt"
    "sort"
    "strings"
    "sync"
    "sync/atomic"

    "github.com/google/uuid"
    "github.com/park285/prompt-battle/internal/obslog"
    "go.uber.org/zap"
)

// Adapter is the shared document store every client talks to.
// Paths are slash separated; the first two segments name a document.
type Adapter interface {
    Read(ctx context.Context, path string, out any) (bool, error)
    Write(ctx context.Context, path string, value any) error
    Update(ctx context.Context, path string, fields map[string]any) error
    Append(ctx context.Context, path string, value any) (string, error)
    Subscribe(ctx context.Context, path string, fn func(Snapshot)) (Unsubscribe, error)
}

// Unsubscribe releases a subscription. Calling it more than once is a no-op.
type Unsubscribe func()

// Snapshot is the value observed at a path at one point in time.
type Snapshot struct {
    path string
    raw  json.RawMessage
}

func (s Snapshot) Path() string         { return s.path }
func (s Snapshot) Exists() bool         { return len(s.raw) > 0 }
func (s Snapshot) Raw() json.RawMessage { return s.raw }

// Key is the last path segment.
func (s Snapshot) Key() string {
    if i := strings.LastIndexByte(s.path, '/'); i >= 0 { return s.path[i+1:] }
    return s.path
}

func (s Snapshot) Decode(out any) error {
    if !s.Exists() { return nil }
    return json.Unmarshal(s.raw, out)
}

// backend stores documents as flat field maps (leaf path -> JSON).
type backend interface {
    load(ctx context.Context, coll, id string) (map[string]string, error)
    list(ctx context.Context, coll string) ([]string, error)
    // mutate atomically replaces a document with fn's result and notifies watchers.
    mutate(ctx context.Context, coll, id string, fn func(cur map[string]string) (map[string]string, error)) error
    // watch signals after any change to the document, or to any document of coll when id is empty.
    watch(ctx context.Context, coll, id string) (<-chan struct{}, func(), error)
    close() error
}

// Store implements Adapter on top of a backend.
type Store struct {
    be     backend
    closed atomic.Bool
}

var _ Adapter = (*Store)(nil)

func (s *Store) Close() error {
    if s == nil || !s.closed.CompareAndSwap(false, true) { return nil }
    return s.be.close()
}

// Read decodes the value at path into out. It reports false when nothing is stored there.
func (s *Store) Read(ctx context.Context, path string, out any) (bool, error) {
    loc, err := s.locate(path)
    if err != nil { return false, err }
    raw, err := s.read(ctx, loc)
    if err != nil { return false, err }
    if raw == nil { return false, nil }
    if out == nil { return true, nil }
    if err := json.Unmarshal(raw, out); err != nil { return true, fmt.Errorf("store: decode %s: %w", loc, err) }
    return true, nil
}

// Write replaces the subtree at path. A nil value deletes it.
func (s *Store) Write(ctx context.Context, path string, value any) error {
    loc, err := s.locate(path)
    if err != nil { return err }
    if loc.isCollection() { return fmt.Errorf("%w: cannot write collection %s", ErrInvalidPath, loc) }
    rel := loc.relKey()
    err = s.be.mutate(ctx, loc.coll, loc.id, func(cur map[string]string) (map[string]string, error) {
        return replace(cur, rel, value)
    })
    if err != nil { return fmt.Errorf("store: write %s: %w", loc, err) }
    return nil
}

// Update replaces the named children of path and leaves the others alone.
// Keys may be nested relative paths such as "votes/p1".
func (s *Store) Update(ctx context.Context, path string, fields map[string]any) error {
    loc, err := s.locate(path)
    if err != nil { return err }
    if loc.isCollection() { return fmt.Errorf("%w: cannot update collection %s", ErrInvalidPath, loc) }
    if len(fields) == 0 { return nil }
    keys := make([]string, 0, len(fields))
    rels := make(map[string]string, len(fields))
    for k := range fields {
        sub, err := parseRelative(k)
        if err != nil { return err }
        rel := sub
        if base := loc.relKey(); base != "" { rel = base + "/" + sub }
        keys = append(keys, k)
        rels[k] = rel
    }
    sort.Strings(keys)
    err = s.be.mutate(ctx, loc.coll, loc.id, func(cur map[string]string) (map[string]string, error) {
        next := cur
        for _, k := range keys {
            var err error
            next, err = replace(next, rels[k], fields[k])
            if err != nil { return nil, err }
        }
        return next, nil
    })
    if err != nil { return fmt.Errorf("store: update %s: %w", loc, err) }
    return nil
}

// Append writes value under a generated, time-ordered key below path and returns the key.
func (s *Store) Append(ctx context.Context, path string, value any) (string, error) {
    loc, err := s.locate(path)
    if err != nil { return "", err }
    key, err := newKey()
    if err != nil { return "", err }
    if err := s.Write(ctx, loc.child(key).String(), value); err != nil { return "", err }
    return key, nil
}

// Subscribe calls fn with the current value at path, then again whenever it changes.
// fn runs on a single goroutine per subscription. The subscription ends when the
// returned Unsubscribe is called or ctx is done.
func (s *Store) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (Unsubscribe, error) {
    loc, err := s.locate(path)
    if err != nil { return nil, err }
    if fn == nil { return nil, fmt.Errorf("store: subscribe %s: nil callback", loc) }
    wctx, cancel := context.WithCancel(ctx)
    kicks, stop, err := s.be.watch(wctx, loc.coll, loc.id)
    if err != nil {
        cancel()
        return nil, fmt.Errorf("store: subscribe %s: %w", loc, err)
    }
    go func() {
        defer stop()
        var last json.RawMessage
        first := true
        deliver := func() {
            raw, err := s.read(wctx, loc)
            if err != nil {
                if wctx.Err() == nil {
                    obslog.L().Warn("store_subscribe_read_error", zap.String("path", loc.String()), zap.Error(err))
                }
                return
            }
            if !first && bytes.Equal(raw, last) { return }
            first, last = false, raw
            if wctx.Err() != nil { return }
            fn(Snapshot{path: loc.String(), raw: raw})
        }
        deliver()
        for {
            select {
            case <-wctx.Done():
                return
            case _, ok := <-kicks:
                if !ok { return }
                deliver()
            }
        }
    }()
    var once sync.Once
    return func() { once.Do(cancel) }, nil
}

func (s *Store) locate(path string) (location, error) {
    if s.closed.Load() { return location{}, ErrClosed }
    return parsePath(path)
}

func (s *Store) read(ctx context.Context, loc location) (json.RawMessage, error) {
    if !loc.isCollection() {
        fields, err := s.be.load(ctx, loc.coll, loc.id)
        if err != nil { return nil, fmt.Errorf("store: read %s: %w", loc, err) }
        return assemble(fields, loc.relKey()), nil
    }
    ids, err := s.be.list(ctx, loc.coll)
    if err != nil { return nil, fmt.Errorf("store: list %s: %w", loc, err) }
    docs := make(map[string]json.RawMessage, len(ids))
    for _, id := range ids {
        fields, err := s.be.load(ctx, loc.coll, id)
        if err != nil { return nil, fmt.Errorf("store: read %s/%s: %w", loc, id, err) }
        if raw := assemble(fields, ""); raw != nil { docs[id] = raw }
    }
    if len(docs) == 0 { return nil, nil }
    return json.Marshal(docs)
}

func parseRelative(k string) (string, error) {
    k = strings.Trim(strings.TrimSpace(k), "/")
    if k == "" { return "", fmt.Errorf("%w: empty update key", ErrInvalidPath) }
    for _, seg := range strings.Split(k, "/") {
        if err := validSegment(seg); err != nil { return "", err }
    }
    return k, nil
}

// newKey returns a UUIDv7 string; lexical order follows creation time.
func newKey() (string, error) {
    id, err := uuid.NewV7()
    if err != nil { return "", fmt.Errorf("store: generate key: %w", err) }
    return id.String(), nil
}
