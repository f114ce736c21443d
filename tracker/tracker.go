// Package tracker keeps the live objects that remote callers refer to by key.
//
// Keys are decimal strings minted from a counter starting at 1. A key is never
// handed out twice, even after its object is released, so a stale key held by
// the remote side can only ever miss, never alias a newer object.
package tracker

import (
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/atomic"

	"mini-bridge/internal/xsync"
)

// ErrNotFound is matched by every lookup or release miss.
var ErrNotFound = errors.New("object not found")

// NotFoundError reports a key with no live object. Released distinguishes a
// key that was minted and later released from one that never existed.
type NotFoundError struct {
	Key      string
	Released bool
}

func (e *NotFoundError) Error() string {
	if e.Released {
		return fmt.Sprintf("object %q was released", e.Key)
	}
	return fmt.Sprintf("object %q was never registered", e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// Tracker maps keys to live objects. It is safe for concurrent use; the only
// critical sections are the map operations themselves.
type Tracker struct {
	seq     *atomic.Int64
	objects *xsync.Map[string, any]
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{
		seq:     atomic.NewInt64(0),
		objects: xsync.NewMap[string, any](),
	}
}

// Register stores obj under a fresh key and returns the key.
// Registering the same object twice yields two keys.
func (t *Tracker) Register(obj any) string {
	key := strconv.FormatInt(t.seq.Inc(), 10)
	t.objects.Set(key, obj)
	return key
}

// Lookup returns the object stored under key.
func (t *Tracker) Lookup(key string) (any, error) {
	if obj, ok := t.objects.Get(key); ok {
		return obj, nil
	}
	return nil, t.miss(key)
}

// Release drops the object stored under key. The key is not reused.
func (t *Tracker) Release(key string) error {
	if _, ok := t.objects.LoadAndDelete(key); ok {
		return nil
	}
	return t.miss(key)
}

// Len returns the number of live objects.
func (t *Tracker) Len() int {
	return t.objects.Len()
}

func (t *Tracker) miss(key string) error {
	n, err := strconv.ParseInt(key, 10, 64)
	released := err == nil && n > 0 && n <= t.seq.Load() && strconv.FormatInt(n, 10) == key
	return &NotFoundError{Key: key, Released: released}
}
