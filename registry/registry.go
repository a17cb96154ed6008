// Package registry tracks the captures in progress so that at most one
// capture per channel runs at a time and shutdown can interrupt all of them.
package registry

import (
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrAlreadyRecording is returned by TryAcquire when the key is held.
	ErrAlreadyRecording = errors.New("already recording")
	// ErrShuttingDown is returned by TryAcquire after ShutdownAll.
	ErrShuttingDown = errors.New("registry is shutting down")
	// ErrHandleClosed is returned by Attach when the handle was closed first.
	ErrHandleClosed = errors.New("recording handle closed")
)

// Registry maps channel keys to active recording handles.
type Registry struct {
	mu       sync.Mutex
	entries  map[string]*Handle
	shutdown bool
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*Handle)}
}

// TryAcquire atomically inserts a handle for key.
func (r *Registry) TryAcquire(key string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.shutdown {
		return nil, ErrShuttingDown
	}
	if _, ok := r.entries[key]; ok {
		return nil, ErrAlreadyRecording
	}
	h := &Handle{Key: key, ID: uuid.NewString(), Started: time.Now()}
	r.entries[key] = h
	return h, nil
}

// Release removes key. Releasing an absent key is a no-op.
func (r *Registry) Release(key string) {
	r.mu.Lock()
	delete(r.entries, key)
	r.mu.Unlock()
}

// ShutdownAll closes the reader and writer of every handle, clears the map
// and refuses further acquisitions. Handles are closed outside the lock.
func (r *Registry) ShutdownAll() {
	r.mu.Lock()
	r.shutdown = true
	handles := make([]*Handle, 0, len(r.entries))
	for _, h := range r.entries {
		handles = append(handles, h)
	}
	clear(r.entries)
	r.mu.Unlock()

	for _, h := range handles {
		h.Close()
	}
}

// Len returns the number of active recordings.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Keys returns the held keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	r.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Handles returns a snapshot of the active handles ordered by key.
func (r *Registry) Handles() []Info {
	r.mu.Lock()
	out := make([]Info, 0, len(r.entries))
	for _, h := range r.entries {
		out = append(out, Info{Key: h.Key, ID: h.ID, Started: h.Started})
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Info is a read-only view of a handle.
type Info struct {
	Key     string    `json:"key"`
	ID      string    `json:"id"`
	Started time.Time `json:"started"`
}

// Handle is one active recording. Its reader and writer are attached once
// the capture has opened them.
type Handle struct {
	Key     string
	ID      string
	Started time.Time

	mu     sync.Mutex
	r      io.Closer
	w      io.Closer
	closed bool
}

// Attach stores the capture's reader and writer. If the handle was already
// closed both are closed immediately and ErrHandleClosed is returned.
func (h *Handle) Attach(r, w io.Closer) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		closeAll(r, w)
		return ErrHandleClosed
	}
	h.r, h.w = r, w
	h.mu.Unlock()
	return nil
}

// Close closes the attached reader and writer. Safe to call more than once.
func (h *Handle) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	r, w := h.r, h.w
	h.mu.Unlock()

	closeAll(r, w)
}

// Closed reports whether Close has been called.
func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func closeAll(cs ...io.Closer) {
	for _, c := range cs {
		if c != nil {
			_ = c.Close()
		}
	}
}
