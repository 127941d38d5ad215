// Package approvals implements the consent layer between the assistant and
// anything that can change the world.
//
// Every dangerous tool call is parked here as a pending Request until the
// owner replies /confirm or /deny, or the request times out. Requests are
// kept purely in memory: a restart wipes them, which is the safe failure
// mode for a gate like this.
package approvals

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// DefaultTTL is how long a request stays confirmable before it expires.
const DefaultTTL = 5 * time.Minute

// Status describes the lifecycle of an approval request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusExpired  Status = "expired"
)

// Request is a single dangerous action awaiting the owner's decision.
type Request struct {
	ID       string
	BatchID  string // shared by requests raised in the same assistant turn
	ToolName string // owning tool, e.g. "filesystem" or "shell"
	Action   string // concrete action, e.g. "write_file"
	Params   map[string]any
	Summary  string // one-line human description shown to the owner

	// ToolCallID links the request back to the provider tool call that
	// raised it, so the conversation can be resumed after the decision.
	ToolCallID string

	CreatedAt time.Time
	ExpiresAt time.Time
}

// Spec is the caller-supplied part of a Request.
type Spec struct {
	ToolName   string
	Action     string
	Params     map[string]any
	Summary    string
	BatchID    string
	ToolCallID string
}

// Store holds pending approval requests. All methods are safe for concurrent
// use. Expiry is passive: stale requests are swept on every access and placed
// on an expired list the gateway drains to report them.
type Store struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	pending map[string]*Request
	order   []string // insertion order of pending IDs
	expired []*Request
}

// NewStore creates an empty store whose requests expire after ttl.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		ttl:     ttl,
		now:     time.Now,
		pending: make(map[string]*Request),
	}
}

// Create registers a new pending request and returns it.
func (s *Store) Create(spec Spec) *Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	now := s.now()
	req := &Request{
		ID:         generateID(),
		BatchID:    spec.BatchID,
		ToolName:   spec.ToolName,
		Action:     spec.Action,
		Params:     spec.Params,
		Summary:    spec.Summary,
		ToolCallID: spec.ToolCallID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.ttl),
	}
	s.pending[req.ID] = req
	s.order = append(s.order, req.ID)
	return req
}

// Approve resolves a single request. The second return is false when no
// pending request with that ID exists (unknown, already resolved, or swept
// as expired just now).
func (s *Store) Approve(id string) (*Request, bool) {
	return s.resolve(id)
}

// Deny resolves a single request negatively. Same absence semantics as
// Approve; the caller decides what the decision means.
func (s *Store) Deny(id string) (*Request, bool) {
	return s.resolve(id)
}

func (s *Store) resolve(id string) (*Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	req, ok := s.pending[id]
	if !ok {
		return nil, false
	}
	s.removeLocked(id)
	return req, true
}

// ResolveBatch resolves every pending request in the batch, in insertion
// order, and returns them. An empty result means the batch is unknown or
// fully expired.
func (s *Store) ResolveBatch(batchID string) []*Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	var out []*Request
	for _, id := range append([]string(nil), s.order...) {
		req := s.pending[id]
		if req != nil && req.BatchID == batchID && batchID != "" {
			s.removeLocked(id)
			out = append(out, req)
		}
	}
	return out
}

// Get returns a pending request without resolving it.
func (s *Store) Get(id string) (*Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	req, ok := s.pending[id]
	return req, ok
}

// Pending returns all pending requests in insertion order.
func (s *Store) Pending() []*Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	out := make([]*Request, 0, len(s.order))
	for _, id := range s.order {
		if req, ok := s.pending[id]; ok {
			out = append(out, req)
		}
	}
	return out
}

// Single returns the request only when exactly one is pending. A bare
// /confirm with no ID is unambiguous only in that case.
func (s *Store) Single() (*Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	if len(s.pending) != 1 {
		return nil, false
	}
	for _, req := range s.pending {
		return req, true
	}
	return nil, false
}

// Clear drops every pending request and returns them, most recent last.
// Used when the gateway leaves the awake state: nothing may stay
// confirmable across a sleep.
func (s *Store) Clear() []*Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	out := make([]*Request, 0, len(s.order))
	for _, id := range s.order {
		if req, ok := s.pending[id]; ok {
			out = append(out, req)
		}
	}
	s.pending = make(map[string]*Request)
	s.order = nil
	return out
}

// TakeExpired drains the list of requests that lapsed since the last call.
// Expiry counts as a denial; the gateway reports and audits these.
func (s *Store) TakeExpired() []*Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	out := s.expired
	s.expired = nil
	return out
}

// sweepLocked moves lapsed requests from pending to the expired list.
func (s *Store) sweepLocked() {
	now := s.now()
	for _, id := range append([]string(nil), s.order...) {
		req, ok := s.pending[id]
		if !ok {
			continue
		}
		if now.After(req.ExpiresAt) {
			s.removeLocked(id)
			s.expired = append(s.expired, req)
		}
	}
}

func (s *Store) removeLocked(id string) {
	delete(s.pending, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// generateID returns a short random identifier like "a1b2c3d4e5f6".
// 6 random bytes keep IDs easy to retype in chat while leaving collisions
// vanishingly unlikely at this volume.
func generateID() string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return hex.EncodeToString([]byte(time.Now().Format("150405.000")))[:12]
	}
	return hex.EncodeToString(b)
}
