package store

import (
    "context"
    "sort"
    "sync"
)

// memBackend is a process-local backend for development and tests when no Redis is configured.
type memBackend struct {
    mu sync.RWMutex

    docs     map[string]map[string]map[string]string // coll -> id -> fields
    watchers map[string]map[int]chan struct{}        // channel -> watcher id -> kick
    nextID   int
}

// NewMemory returns a Store that keeps everything in process memory.
func NewMemory() *Store {
    return &Store{be: &memBackend{
        docs:     make(map[string]map[string]map[string]string),
        watchers: make(map[string]map[int]chan struct{}),
    }}
}

func (m *memBackend) load(_ context.Context, coll, id string) (map[string]string, error) {
    m.mu.RLock()
    defer m.mu.RUnlock()
    doc := m.docs[coll][id]
    out := make(map[string]string, len(doc))
    for k, v := range doc { out[k] = v }
    return out, nil
}

func (m *memBackend) list(_ context.Context, coll string) ([]string, error) {
    m.mu.RLock()
    defer m.mu.RUnlock()
    ids := make([]string, 0, len(m.docs[coll]))
    for id := range m.docs[coll] { ids = append(ids, id) }
    sort.Strings(ids)
    return ids, nil
}

func (m *memBackend) mutate(ctx context.Context, coll, id string, fn func(map[string]string) (map[string]string, error)) error {
    if err := ctx.Err(); err != nil { return err }
    m.mu.Lock()
    cur := m.docs[coll][id]
    if cur == nil { cur = map[string]string{} }
    next, err := fn(cur)
    if err != nil {
        m.mu.Unlock()
        return err
    }
    set, del := diff(cur, next)
    if len(set) == 0 && len(del) == 0 {
        m.mu.Unlock()
        return nil
    }
    if m.docs[coll] == nil { m.docs[coll] = make(map[string]map[string]string) }
    if len(next) == 0 {
        delete(m.docs[coll], id)
    } else {
        m.docs[coll][id] = next
    }
    kicks := m.collect(docChannel(coll, id), collChannel(coll))
    m.mu.Unlock()

    for _, ch := range kicks {
        select {
        case ch <- struct{}{}:
        default: // a kick is already pending
        }
    }
    return nil
}

func (m *memBackend) collect(channels ...string) []chan struct{} {
    var out []chan struct{}
    for _, c := range channels {
        for _, ch := range m.watchers[c] { out = append(out, ch) }
    }
    return out
}

func (m *memBackend) watch(_ context.Context, coll, id string) (<-chan struct{}, func(), error) {
    channel := collChannel(coll)
    if id != "" { channel = docChannel(coll, id) }
    ch := make(chan struct{}, 1)
    m.mu.Lock()
    m.nextID++
    wid := m.nextID
    if m.watchers[channel] == nil { m.watchers[channel] = make(map[int]chan struct{}) }
    m.watchers[channel][wid] = ch
    m.mu.Unlock()

    var once sync.Once
    stop := func() {
        once.Do(func() {
            m.mu.Lock()
            delete(m.watchers[channel], wid)
            if len(m.watchers[channel]) == 0 { delete(m.watchers, channel) }
            m.mu.Unlock()
        })
    }
    return ch, stop, nil
}

func (m *memBackend) close() error {
    m.mu.Lock()
    m.watchers = make(map[string]map[int]chan struct{})
    m.mu.Unlock()
    return nil
}

func docChannel(coll, id string) string { return coll + "/" + id }
func collChannel(coll string) string    { return coll }
