package store

import (
    "bytes"
    "encoding/json"
    "fmt"
    "sort"
    "strings"
)

// rootField holds a scalar written directly at document level.
const rootField = "."

type staticErr string
func (e staticErr) Error() string { return string(e) }
func errf(s string) error { return staticErr(s) }

var (
    ErrInvalidPath  = errf("invalid store path")
    ErrInvalidValue = errf("value cannot be stored")
    ErrClosed       = errf("store closed")
)

// location is a parsed path: the top-level document plus the path inside it.
type location struct {
    coll string
    id   string
    rel  []string
}

func (l location) isCollection() bool { return l.id == "" }
func (l location) relKey() string     { return strings.Join(l.rel, "/") }

func (l location) String() string {
    if l.id == "" { return l.coll }
    if len(l.rel) == 0 { return l.coll + "/" + l.id }
    return l.coll + "/" + l.id + "/" + l.relKey()
}

func (l location) child(key string) location {
    if l.id == "" { return location{coll: l.coll, id: key} }
    rel := make([]string, 0, len(l.rel)+1)
    rel = append(rel, l.rel...)
    return location{coll: l.coll, id: l.id, rel: append(rel, key)}
}

func parsePath(p string) (location, error) {
    p = strings.Trim(strings.TrimSpace(p), "/")
    if p == "" { return location{}, fmt.Errorf("%w: empty", ErrInvalidPath) }
    parts := strings.Split(p, "/")
    for _, s := range parts {
        if err := validSegment(s); err != nil { return location{}, err }
    }
    loc := location{coll: parts[0]}
    if len(parts) > 1 { loc.id = parts[1] }
    if len(parts) > 2 { loc.rel = parts[2:] }
    return loc, nil
}

func validSegment(s string) error {
    if s == "" { return fmt.Errorf("%w: empty segment", ErrInvalidPath) }
    if strings.ContainsAny(s, ".#$[]") { return fmt.Errorf("%w: %q", ErrInvalidPath, s) }
    return nil
}

// flatten turns a JSON-encodable value into leaf fields keyed by slash paths
// relative to base. Nil values and empty objects produce no fields; lists are
// kept as a single leaf.
func flatten(base string, v any) (map[string]string, error) {
    raw, err := json.Marshal(v)
    if err != nil { return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err) }
    dec := json.NewDecoder(bytes.NewReader(raw))
    dec.UseNumber()
    var tree any
    if err := dec.Decode(&tree); err != nil { return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err) }
    out := make(map[string]string)
    if err := flattenInto(base, tree, out); err != nil { return nil, err }
    return out, nil
}

func flattenInto(prefix string, v any, out map[string]string) error {
    join := func(k string) string {
        if prefix == "" { return k }
        return prefix + "/" + k
    }
    switch t := v.(type) {
    case nil:
        return nil
    case map[string]any:
        for k, vv := range t {
            if err := validSegment(k); err != nil { return err }
            if err := flattenInto(join(k), vv, out); err != nil { return err }
        }
        return nil
    default:
        // scalars and lists are stored whole
        b, err := json.Marshal(t)
        if err != nil { return fmt.Errorf("%w: %v", ErrInvalidValue, err) }
        key := prefix
        if key == "" { key = rootField }
        out[key] = string(b)
        return nil
    }
}

// inside reports whether field lies at or below rel.
func inside(field, rel string) bool {
    if rel == "" { return true }
    return field == rel || strings.HasPrefix(field, rel+"/")
}

// ancestors lists the fields that would shadow a write at rel.
func ancestors(rel string) []string {
    out := []string{rootField}
    if rel == "" { return out }
    parts := strings.Split(rel, "/")
    for i := 1; i < len(parts); i++ {
        out = append(out, strings.Join(parts[:i], "/"))
    }
    return out
}

// assemble rebuilds the JSON value stored at or below rel. It returns nil when
// nothing is stored there.
func assemble(fields map[string]string, rel string) json.RawMessage {
    if rel == "" {
        if v, ok := fields[rootField]; ok { return json.RawMessage(v) }
    } else if v, ok := fields[rel]; ok {
        return json.RawMessage(v)
    }
    root := map[string]any{}
    found := false
    for f, v := range fields {
        if f == rootField || f == rel || !inside(f, rel) { continue }
        sub := f
        if rel != "" { sub = strings.TrimPrefix(f, rel+"/") }
        parts := strings.Split(sub, "/")
        node := root
        for _, p := range parts[:len(parts)-1] {
            next, ok := node[p].(map[string]any)
            if !ok {
                next = map[string]any{}
                node[p] = next
            }
            node = next
        }
        node[parts[len(parts)-1]] = json.RawMessage(v)
        found = true
    }
    if !found { return nil }
    raw, err := json.Marshal(root)
    if err != nil { return nil }
    return raw
}

// replace returns cur with the subtree at rel replaced by v. cur is not modified.
func replace(cur map[string]string, rel string, v any) (map[string]string, error) {
    set, err := flatten(rel, v)
    if err != nil { return nil, err }
    next := make(map[string]string, len(cur)+len(set))
    for f, val := range cur {
        if inside(f, rel) { continue }
        next[f] = val
    }
    if len(set) > 0 {
        for _, a := range ancestors(rel) { delete(next, a) }
    }
    for f, val := range set { next[f] = val }
    return next, nil
}

// diff lists what has to change to turn cur into next.
func diff(cur, next map[string]string) (set map[string]string, del []string) {
    set = make(map[string]string)
    for k, v := range next {
        if old, ok := cur[k]; !ok || old != v { set[k] = v }
    }
    for k := range cur {
        if _, ok := next[k]; !ok { del = append(del, k) }
    }
    sort.Strings(del)
    return set, del
}
