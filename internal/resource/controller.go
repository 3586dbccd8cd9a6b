// Package resource holds the controller shared by every backend collection: cached list state,
// detail lookups, creation, confirmed removal and one-shot actions.
package resource

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/packageml/packageml/internal/gateway"
	"github.com/packageml/packageml/pkg/logger"
)

const defaultDetailCacheSize = 64

var (
	// ErrNotConfirmed is returned by Remove when the confirmation was declined. No request is
	// sent.
	ErrNotConfirmed = errors.New("not confirmed")
	// ErrInFlight is returned when the same action is submitted again before the first one
	// settled.
	ErrInFlight = errors.New("action already in progress")
)

// API is the subset of the gateway a controller needs.
type API interface {
	Get(ctx context.Context, path string, out interface{}) error
	Post(ctx context.Context, path string, in, out interface{}) error
	Put(ctx context.Context, path string, in, out interface{}) error
	Delete(ctx context.Context, path string) error
}

// Collection describes one collection.
type Collection[K comparable, T any] struct {
	// Noun names one item in prompts and notices, e.g. "dataset".
	Noun string
	// Root is the collection path with its trailing slash, e.g. "/datasets/".
	Root string
	// Key returns an item's identifier.
	Key func(T) K
	// DetailCacheSize bounds the detail cache. Zero means the default.
	DetailCacheSize int
}

// State is a read-only view of the cache.
type State[T any] struct {
	Items []T
	// Loaded is false until the first list has been applied. An empty Items slice with Loaded
	// set is an empty collection, not a failure.
	Loaded     bool
	Loading    bool
	Refreshing bool
	Err        error
}

// Controller owns the cached state of one collection. K is the identifier type, T the list
// entity and D the detail entity.
type Controller[K comparable, T any, D any] struct {
	// System dependencies.
	api      API
	coll     Collection[K, T]
	notifier Notifier
	log      *logrus.Entry

	// Internal state.
	mu         sync.Mutex
	items      []T
	loaded     bool
	loading    bool
	refreshing int
	lastErr    error
	// issued numbers every list request and mutation; applied is the newest one whose result is
	// reflected in items.
	issued  uint64
	applied uint64
	loadSeq uint64
	details *lru.Cache[K, D]

	actions     sync.Mutex
	inFlight    map[string]bool
	subscribers []func([]T)
}

// Option configures a Controller.
type Option func(*options)

type options struct {
	notifier Notifier
}

// WithNotifier sends transient notices to n instead of the log.
func WithNotifier(n Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// New returns a controller for the collection described by coll.
func New[K comparable, T any, D any](api API, coll Collection[K, T], opts ...Option) *Controller[K, T, D] {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	log := logger.Component("resource", logger.Context{"collection": coll.Root})
	if o.notifier == nil {
		o.notifier = LogNotifier{Log: log}
	}
	size := coll.DetailCacheSize
	if size <= 0 {
		size = defaultDetailCacheSize
	}
	details, err := lru.New[K, D](size)
	if err != nil {
		// Only reachable with a non-positive size, which is excluded above.
		panic(err)
	}
	return &Controller[K, T, D]{
		api:      api,
		coll:     coll,
		notifier: o.notifier,
		log:      log,
		details:  details,
		inFlight: map[string]bool{},
	}
}

// Noun names one item of the collection.
func (c *Controller[K, T, D]) Noun() string {
	return c.coll.Noun
}

// Path returns the item path for id with optional trailing segments, e.g. /jobs/5/start.
func (c *Controller[K, T, D]) Path(id K, suffix ...string) string {
	p := fmt.Sprintf("%s%v", c.coll.Root, id)
	for _, s := range suffix {
		p += "/" + s
	}
	return p
}

// API returns the gateway the controller talks through.
func (c *Controller[K, T, D]) API() API {
	return c.api
}

// State returns a copy of the cached state.
func (c *Controller[K, T, D]) State() State[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State[T]{
		Items:      append([]T(nil), c.items...),
		Loaded:     c.loaded,
		Loading:    c.loading,
		Refreshing: c.refreshing > 0,
		Err:        c.lastErr,
	}
}

// Subscribe registers fn to receive the item list after every applied change.
func (c *Controller[K, T, D]) Subscribe(fn func([]T)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, fn)
}

// List is the initial load of the collection. It marks the state as loading until the newest
// list settles.
func (c *Controller[K, T, D]) List(ctx context.Context) ([]T, error) {
	return c.list(ctx, false)
}

// Refresh reloads the collection in the background without marking it as loading.
func (c *Controller[K, T, D]) Refresh(ctx context.Context) ([]T, error) {
	return c.list(ctx, true)
}

func (c *Controller[K, T, D]) list(ctx context.Context, background bool) ([]T, error) {
	c.mu.Lock()
	c.issued++
	seq := c.issued
	if background {
		c.refreshing++
	} else {
		c.loading = true
		c.loadSeq = seq
	}
	c.mu.Unlock()

	var items []T
	err := c.api.Get(ctx, c.coll.Root, &items)

	c.mu.Lock()
	if background {
		c.refreshing--
	} else if seq == c.loadSeq {
		c.loading = false
	}
	switch {
	case seq <= c.applied:
		c.log.WithField("seq", seq).Debug("discarding stale list response")
	case err != nil:
		c.lastErr = err
	default:
		if items == nil {
			items = []T{}
		}
		c.applied = seq
		c.items = items
		c.loaded = true
		c.lastErr = nil
		current, subs := c.snapshotLocked()
		c.mu.Unlock()
		c.publish(subs, current)
		return current, nil
	}
	current := append([]T(nil), c.items...)
	c.mu.Unlock()
	if err != nil {
		return current, errors.Wrapf(err, "listing %ss", c.coll.Noun)
	}
	return current, nil
}

func (c *Controller[K, T, D]) snapshotLocked() ([]T, []func([]T)) {
	return append([]T(nil), c.items...), append(([]func([]T))(nil), c.subscribers...)
}

func (c *Controller[K, T, D]) publish(subs []func([]T), items []T) {
	for _, fn := range subs {
		fn(items)
	}
}

// mutateLocked applies fn to the cache and advances the applied sequence so that a list
// request issued before the mutation cannot revert it.
func (c *Controller[K, T, D]) mutateLocked(fn func()) {
	fn()
	c.issued++
	c.applied = c.issued
	c.lastErr = nil
}

// Upsert inserts item or replaces the cached item with the same key.
func (c *Controller[K, T, D]) Upsert(item T) {
	c.mu.Lock()
	key := c.coll.Key(item)
	c.mutateLocked(func() {
		for i, existing := range c.items {
			if c.coll.Key(existing) == key {
				c.items[i] = item
				return
			}
		}
		c.items = append(c.items, item)
	})
	c.details.Remove(key)
	current, subs := c.snapshotLocked()
	c.mu.Unlock()
	c.publish(subs, current)
}

// Drop removes id from the cache.
func (c *Controller[K, T, D]) Drop(id K) {
	c.mu.Lock()
	c.mutateLocked(func() {
		kept := make([]T, 0, len(c.items))
		for _, item := range c.items {
			if c.coll.Key(item) != id {
				kept = append(kept, item)
			}
		}
		c.items = kept
	})
	c.details.Remove(id)
	current, subs := c.snapshotLocked()
	c.mu.Unlock()
	c.publish(subs, current)
}

// Find returns the cached list entry for id.
func (c *Controller[K, T, D]) Find(id K) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, item := range c.items {
		if c.coll.Key(item) == id {
			return item, true
		}
	}
	var zero T
	return zero, false
}

// Cached returns the last fetched detail of id, if it is still cached.
func (c *Controller[K, T, D]) Cached(id K) (D, bool) {
	return c.details.Get(id)
}

// Get fetches the full detail of id. An id the backend no longer knows is dropped from the
// cache and reported with a notice.
func (c *Controller[K, T, D]) Get(ctx context.Context, id K) (D, error) {
	var detail D
	if err := c.api.Get(ctx, c.Path(id), &detail); err != nil {
		c.Gone(id, err)
		var zero D
		return zero, errors.Wrapf(err, "fetching %s %v", c.coll.Noun, id)
	}
	c.details.Add(id, detail)
	return detail, nil
}

// Gone drops id from the cache and posts a warning when err says the backend no longer knows
// it. Other errors are ignored.
func (c *Controller[K, T, D]) Gone(id K, err error) {
	if !errors.Is(err, gateway.ErrNotFound) {
		return
	}
	c.Drop(id)
	c.notifier.Notify(Warning, fmt.Sprintf("%s %v no longer exists", c.coll.Noun, id))
}

// Create submits payload to the collection root and appends the created item to the cache.
// Backend validation messages are returned verbatim.
func (c *Controller[K, T, D]) Create(ctx context.Context, payload interface{}) (T, error) {
	var created T
	if err := c.api.Post(ctx, c.coll.Root, payload, &created); err != nil {
		var zero T
		return zero, errors.Wrapf(err, "creating %s", c.coll.Noun)
	}
	c.Upsert(created)
	return created, nil
}

// Remove deletes id after confirm agrees. The item leaves the cache only once the backend
// confirmed the deletion; a NotFound answer also drops it, with a notice.
func (c *Controller[K, T, D]) Remove(ctx context.Context, id K, confirm Confirmer) error {
	if confirm == nil || !confirm.Confirm(fmt.Sprintf("Delete %s %v? This cannot be undone.",
		c.coll.Noun, id)) {
		return ErrNotConfirmed
	}
	return c.Action(fmt.Sprintf("remove/%v", id), func() error {
		if err := c.api.Delete(ctx, c.Path(id)); err != nil {
			c.Gone(id, err)
			return errors.Wrapf(err, "deleting %s %v", c.coll.Noun, id)
		}
		c.Drop(id)
		c.notifier.Notify(Info, fmt.Sprintf("%s %v deleted", c.coll.Noun, id))
		return nil
	})
}

// Action runs fn unless an action with the same key is already running, in which case it
// returns ErrInFlight without calling fn.
func (c *Controller[K, T, D]) Action(key string, fn func() error) error {
	c.actions.Lock()
	if c.inFlight[key] {
		c.actions.Unlock()
		return ErrInFlight
	}
	c.inFlight[key] = true
	c.actions.Unlock()

	defer func() {
		c.actions.Lock()
		delete(c.inFlight, key)
		c.actions.Unlock()
	}()
	return fn()
}

// InFlight reports whether the action key is running.
func (c *Controller[K, T, D]) InFlight(key string) bool {
	c.actions.Lock()
	defer c.actions.Unlock()
	return c.inFlight[key]
}
