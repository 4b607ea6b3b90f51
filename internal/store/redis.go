package store

import (
    "context"
    "errors"
    "fmt"
    "net/url"
    "sort"
    "strconv"
    "strings"
    "time"

    "github.com/redis/go-redis/v9"
)

const (
    defaultPrefix  = "pb:"
    defaultRetries = 16
)

// RedisOptions tunes the Redis backend. Zero values pick defaults.
type RedisOptions struct {
    Prefix  string        // key namespace, default "pb:"
    TTL     time.Duration // refreshed on every write; 0 keeps documents forever
    Retries int           // optimistic transaction attempts per write
}

// redisBackend keeps one hash per document (leaf path -> JSON), a set of document
// ids per collection, and publishes a notification on every change.
type redisBackend struct {
    rdb     *redis.Client
    prefix  string
    ttl     time.Duration
    retries int
    owned   bool
}

// NewRedis wraps an existing client. Closing the Store leaves the client open.
func NewRedis(rdb *redis.Client, opts RedisOptions) *Store {
    return &Store{be: newRedisBackend(rdb, opts, false)}
}

// OpenRedis dials redisURL (redis:// or rediss://) and verifies the connection.
func OpenRedis(ctx context.Context, redisURL string, opts RedisOptions) (*Store, error) {
    if strings.TrimSpace(redisURL) == "" {
        return nil, fmt.Errorf("REDIS_URL required for redis store")
    }
    ro, err := parseRedisURL(redisURL)
    if err != nil { return nil, err }
    rdb := redis.NewClient(ro)
    pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
    defer cancel()
    if err := rdb.Ping(pctx).Err(); err != nil {
        _ = rdb.Close()
        return nil, fmt.Errorf("redis ping: %w", err)
    }
    return &Store{be: newRedisBackend(rdb, opts, true)}, nil
}

func newRedisBackend(rdb *redis.Client, opts RedisOptions, owned bool) *redisBackend {
    b := &redisBackend{rdb: rdb, prefix: opts.Prefix, ttl: opts.TTL, retries: opts.Retries, owned: owned}
    if strings.TrimSpace(b.prefix) == "" { b.prefix = defaultPrefix }
    if b.retries <= 0 { b.retries = defaultRetries }
    return b
}

func (b *redisBackend) keyDoc(coll, id string) string  { return b.prefix + "doc:" + docChannel(coll, id) }
func (b *redisBackend) keyIndex(coll string) string    { return b.prefix + "idx:" + coll }
func (b *redisBackend) chanDoc(coll, id string) string { return b.prefix + "ev:" + docChannel(coll, id) }
func (b *redisBackend) chanColl(coll string) string    { return b.prefix + "ev:" + collChannel(coll) }

func (b *redisBackend) load(ctx context.Context, coll, id string) (map[string]string, error) {
    fields, err := b.rdb.HGetAll(ctx, b.keyDoc(coll, id)).Result()
    if err == redis.Nil { return map[string]string{}, nil }
    if err != nil { return nil, err }
    return fields, nil
}

func (b *redisBackend) list(ctx context.Context, coll string) ([]string, error) {
    ids, err := b.rdb.SMembers(ctx, b.keyIndex(coll)).Result()
    if err == redis.Nil { return nil, nil }
    if err != nil { return nil, err }
    sort.Strings(ids)
    return ids, nil
}

func (b *redisBackend) mutate(ctx context.Context, coll, id string, fn func(map[string]string) (map[string]string, error)) error {
    key := b.keyDoc(coll, id)
    for attempt := 0; attempt < b.retries; attempt++ {
        err := b.rdb.Watch(ctx, func(tx *redis.Tx) error {
            cur, err := tx.HGetAll(ctx, key).Result()
            if err != nil && err != redis.Nil { return err }
            next, err := fn(cur)
            if err != nil { return err }
            set, del := diff(cur, next)
            if len(set) == 0 && len(del) == 0 { return nil }
            _, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
                if len(del) > 0 { pipe.HDel(ctx, key, del...) }
                if len(set) > 0 {
                    args := make([]any, 0, len(set)*2)
                    for k, v := range set { args = append(args, k, v) }
                    pipe.HSet(ctx, key, args...)
                }
                if len(next) == 0 {
                    pipe.SRem(ctx, b.keyIndex(coll), id)
                } else {
                    pipe.SAdd(ctx, b.keyIndex(coll), id)
                    if b.ttl > 0 {
                        pipe.Expire(ctx, key, b.ttl)
                        pipe.Expire(ctx, b.keyIndex(coll), b.ttl)
                    }
                }
                pipe.Publish(ctx, b.chanDoc(coll, id), "1")
                pipe.Publish(ctx, b.chanColl(coll), id)
                return nil
            })
            return err
        }, key)
        if errors.Is(err, redis.TxFailedErr) { continue }
        return err
    }
    return fmt.Errorf("%d attempts: %w", b.retries, redis.TxFailedErr)
}

func (b *redisBackend) watch(ctx context.Context, coll, id string) (<-chan struct{}, func(), error) {
    channel := b.chanColl(coll)
    if id != "" { channel = b.chanDoc(coll, id) }
    ps := b.rdb.Subscribe(ctx, channel)
    // wait for the confirmation so no publish after this point is missed
    if _, err := ps.Receive(ctx); err != nil {
        _ = ps.Close()
        return nil, nil, err
    }
    kicks := make(chan struct{}, 1)
    msgs := ps.Channel()
    go func() {
        defer close(kicks)
        for range msgs {
            select {
            case kicks <- struct{}{}:
            default:
            }
        }
    }()
    stop := func() { _ = ps.Close() }
    return kicks, stop, nil
}

func (b *redisBackend) close() error {
    if !b.owned { return nil }
    return b.rdb.Close()
}

func parseRedisURL(raw string) (*redis.Options, error) {
    u, err := url.Parse(strings.TrimSpace(raw))
    if err != nil { return nil, err }
    if u.Scheme != "redis" && u.Scheme != "rediss" { return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme) }
    db := 0
    if p := strings.TrimPrefix(u.Path, "/"); p != "" { if n, err := strconv.Atoi(p); err == nil { db = n } }
    pass, _ := u.User.Password()
    return &redis.Options{Addr: u.Host, Username: u.User.Username(), Password: pass, DB: db}, nil
}
