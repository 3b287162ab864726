// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package flight

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Session is the single in-flight execution for a key.
type Session[T any] struct {
	// ID identifies the session in logs.
	ID string

	key    string
	ctx    context.Context
	cancel context.CancelFunc

	// Guarded by the registry lock.
	waiters int
}

// Key returns the key of the session.
func (s *Session[T]) Key() string {
	return s.key
}

// Context returns the session context. It is cancelled when the last waiter leaves or the session completes.
func (s *Session[T]) Context() context.Context {
	return s.ctx
}

// Registry runs at most one session per key and counts the callers waiting on it.
// The group and the session map change together under mx, so a registered session is always the
// one the group's in-flight call for its key is running.
type Registry[T any] struct {
	group singleflight.Group

	mx       sync.Mutex
	sessions map[string]*Session[T]
}

// NewRegistry creates an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{sessions: map[string]*Session[T]{}}
}

// Do runs fn once per key among concurrent callers and returns its outcome to all of them.
// fn runs on a session context detached from the callers' cancellation but keeping ctx's values.
// A caller whose ctx is done stops waiting; when the last caller leaves, the session is cancelled and
// forgotten so that a later Do starts afresh. shared is true for callers that joined an existing session.
func (r *Registry[T]) Do(ctx context.Context, key string, fn func(ctx context.Context, s *Session[T]) (T, error)) (v T, shared bool, err error) {
	r.mx.Lock()
	s, ok := r.sessions[key]
	if ok {
		s.waiters++
	} else {
		sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		s = &Session[T]{ID: uuid.New().String(), key: key, ctx: sctx, cancel: cancel, waiters: 1}
		r.sessions[key] = s
	}

	ch := r.group.DoChan(key, func() (interface{}, error) {
		defer r.finish(s)
		return fn(s.ctx, s)
	})
	r.mx.Unlock()

	select {
	case res := <-ch:
		r.leave(s)
		if res.Val != nil {
			v = res.Val.(T)
		}
		return v, ok, res.Err

	case <-ctx.Done():
		if r.leave(s) {
			s.cancel()
		}
		return v, ok, ctx.Err()
	}
}

// leave drops a waiter from s. It reports whether s was abandoned, in which case it is removed.
func (r *Registry[T]) leave(s *Session[T]) bool {
	r.mx.Lock()
	defer r.mx.Unlock()

	s.waiters--
	if s.waiters > 0 {
		return false
	}
	return r.remove(s)
}

// finish removes s once its run returned and releases its context.
func (r *Registry[T]) finish(s *Session[T]) {
	r.mx.Lock()
	r.remove(s)
	r.mx.Unlock()

	s.cancel()
}

// remove forgets s if it is still the registered session for its key. Caller holds the lock.
func (r *Registry[T]) remove(s *Session[T]) bool {
	if cur, ok := r.sessions[s.key]; !ok || cur != s {
		return false
	}

	delete(r.sessions, s.key)
	r.group.Forget(s.key)
	return true
}

// Active reports whether a session for key is registered.
func (r *Registry[T]) Active(key string) bool {
	r.mx.Lock()
	defer r.mx.Unlock()
	_, ok := r.sessions[key]
	return ok
}

// Waiters returns the number of callers waiting on the session for key.
func (r *Registry[T]) Waiters(key string) int {
	r.mx.Lock()
	defer r.mx.Unlock()
	if s, ok := r.sessions[key]; ok {
		return s.waiters
	}
	return 0
}

// Len returns the number of registered sessions.
func (r *Registry[T]) Len() int {
	r.mx.Lock()
	defer r.mx.Unlock()
	return len(r.sessions)
}
