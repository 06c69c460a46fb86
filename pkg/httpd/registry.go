package httpd

import (
	"fmt"
	"sync"

	"github.com/shapestone/shape-httpd/internal/fastparser"
	"github.com/shapestone/shape-httpd/pkg/mime"
)

// entry is a registered resource plus the lookup metadata derived from
// its path.
type entry struct {
	res     Resource
	seq     uint64
	literal int
}

// registry maps paths to resources. Exact paths are kept in a map;
// wildcard paths are kept in registration order and scanned.
type registry struct {
	mu       sync.RWMutex
	exact    map[string]*entry
	patterns []*entry
	order    []*entry
	seq      uint64
	max      int
	mime     *mime.Resolver
}

func newRegistry(max int, resolver *mime.Resolver) *registry {
	return &registry{
		exact: make(map[string]*entry),
		max:   max,
		mime:  resolver,
	}
}

// validate checks that the payload matches the kind.
func validate(res *Resource) error {
	if res.Path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidResource)
	}
	switch res.Kind {
	case KindStatic:
		if res.Data == nil {
			return fmt.Errorf("%w: static %q has no data", ErrInvalidResource, res.Path)
		}
		if res.Handler != nil {
			return fmt.Errorf("%w: static %q has a handler", ErrInvalidResource, res.Path)
		}
		if res.Raw {
			if _, err := fastparser.ParseResponseHead(res.Data); err != nil {
				return fmt.Errorf("%w: raw static %q is not an HTTP response: %v", ErrInvalidResource, res.Path, err)
			}
		}
	case KindDynamic, KindResource:
		if res.Handler == nil {
			return fmt.Errorf("%w: %s %q has no handler", ErrInvalidResource, res.Kind, res.Path)
		}
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidResource, res.Kind)
	}
	for _, m := range res.Methods {
		if m == MethodUndefined || m > MethodPut {
			return fmt.Errorf("%w: %q allows an undefined method", ErrInvalidResource, res.Path)
		}
	}
	return nil
}

func (r *registry) register(res Resource) error {
	if err := validate(&res); err != nil {
		return err
	}
	if res.MimeType == "" {
		res.MimeType = r.mime.ForPath(res.Path)
	}
	res.Accept = append([]mime.Type(nil), res.Accept...)
	res.Methods = append([]Method(nil), res.Methods...)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findExactLocked(res.Path) != nil {
		return fmt.Errorf("%w: %q", ErrDuplicatePath, res.Path)
	}
	if r.max > 0 && len(r.order) >= r.max {
		return fmt.Errorf("%w: limit %d", ErrRegistryFull, r.max)
	}
	r.seq++
	e := &entry{res: res, seq: r.seq, literal: literalLen(res.Path)}
	if isPattern(res.Path) {
		r.patterns = append(r.patterns, e)
	} else {
		r.exact[res.Path] = e
	}
	r.order = append(r.order, e)
	return nil
}

// findExactLocked finds a resource registered under exactly path, whether
// it is a literal path or a pattern.
func (r *registry) findExactLocked(path string) *entry {
	if e, ok := r.exact[path]; ok {
		return e
	}
	for _, e := range r.patterns {
		if e.res.Path == path {
			return e
		}
	}
	return nil
}

func (r *registry) unregister(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.findExactLocked(path)
	if e == nil {
		return fmt.Errorf("%w: %q", ErrNotFound, path)
	}
	delete(r.exact, path)
	r.patterns = removeEntry(r.patterns, e)
	r.order = removeEntry(r.order, e)
	return nil
}

func removeEntry(list []*entry, e *entry) []*entry {
	for i, x := range list {
		if x == e {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

// lookup resolves path: an exact match wins, then the matching pattern
// with the most literal bytes, then the earliest registration.
func (r *registry) lookup(path string) (*Resource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.exact[path]; ok {
		return &e.res, true
	}
	var best *entry
	for _, e := range r.patterns {
		if !wildcardMatch(e.res.Path, path) {
			continue
		}
		if best == nil || e.literal > best.literal {
			best = e
		}
	}
	if best == nil {
		return nil, false
	}
	return &best.res, true
}

func (r *registry) snapshot() []Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Resource, len(r.order))
	for i, e := range r.order {
		out[i] = e.res
	}
	return out
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
