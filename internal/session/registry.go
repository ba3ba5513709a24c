// Package session keeps one in-memory session per user: its FIFO message
// queue, the drain flag, and channel pairing state.
package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/soyeahso/envieii/internal/domain"
	"github.com/soyeahso/envieii/internal/events"
	"github.com/soyeahso/envieii/internal/logging"
)

// Session is the per-user state. All fields are guarded by mu.
type Session struct {
	mu                 sync.Mutex
	userID             string
	channelSessionID   string
	lastActivity       time.Time
	queue              []domain.Message
	processing         bool
	channelInitialized bool
}

func (s *Session) snapshot() domain.SessionSnapshot {
	return domain.SessionSnapshot{
		UserID:             s.userID,
		ChannelSessionID:   s.channelSessionID,
		LastActivity:       s.lastActivity,
		QueueLength:        len(s.queue),
		Processing:         s.processing,
		ChannelInitialized: s.channelInitialized,
	}
}

// Registry maps user IDs to sessions. Lock order is Registry.mu, then
// Session.mu.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
	bus      *events.Bus
	log      *logging.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates an empty registry.
func NewRegistry(bus *events.Bus, log *logging.Logger, opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		now:      time.Now,
		bus:      bus,
		log:      log.Sub("sessions"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// getOrCreate must be called with r.mu held.
func (r *Registry) getOrCreate(userID string) *Session {
	if s, ok := r.sessions[userID]; ok {
		return s
	}
	s := &Session{userID: userID, lastActivity: r.now()}
	r.sessions[userID] = s
	r.log.Debug().Str("userId", userID).Msg("session created")
	return s
}

// Touch creates the user's session if needed and returns its snapshot.
func (r *Registry) Touch(userID string) domain.SessionSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.getOrCreate(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// Enqueue appends msg to its user's queue as pending and refreshes the
// activity time. It returns true when the caller now owns the drain and must
// start it.
func (r *Registry) Enqueue(msg domain.Message) (domain.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.getOrCreate(msg.UserID)
	s.mu.Lock()
	defer s.mu.Unlock()

	msg.Status = domain.StatusPending
	s.queue = append(s.queue, msg)
	s.lastActivity = r.now()

	if s.processing {
		return msg, false
	}
	s.processing = true
	return msg, true
}

// Next pops the oldest queued message. When the queue is empty it clears the
// drain flag in the same critical section and returns false, so a message
// enqueued concurrently either is popped here or starts a new drain.
func (r *Registry) Next(userID string) (domain.Message, bool) {
	r.mu.Lock()
	s, ok := r.sessions[userID]
	r.mu.Unlock()
	if !ok {
		return domain.Message{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		s.processing = false
		return domain.Message{}, false
	}
	msg := s.queue[0]
	s.queue[0] = domain.Message{}
	s.queue = s.queue[1:]
	return msg, true
}

// MarkChannelInitialized records that pairing was requested for userID.
// It returns false if it had already been recorded.
func (r *Registry) MarkChannelInitialized(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.getOrCreate(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channelInitialized {
		return false
	}
	s.channelInitialized = true
	return true
}

// ResetChannel clears the pairing flag so the user can pair again.
func (r *Registry) ResetChannel(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[userID]; ok {
		s.mu.Lock()
		s.channelInitialized = false
		s.channelSessionID = ""
		s.mu.Unlock()
	}
}

// SetChannelSessionID stores the channel-side identifier for userID.
func (r *Registry) SetChannelSessionID(userID, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.getOrCreate(userID)
	s.mu.Lock()
	s.channelSessionID = id
	s.mu.Unlock()
}

// Snapshot returns a copy of the user's session state.
func (r *Registry) Snapshot(userID string) (domain.SessionSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	if !ok {
		return domain.SessionSnapshot{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(), true
}

// Snapshots returns every session, ordered by user ID.
func (r *Registry) Snapshots() []domain.SessionSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.SessionSnapshot, 0, len(r.sessions))
	for _, s := range r.sessions {
		s.mu.Lock()
		out = append(out, s.snapshot())
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CleanupInactive evicts sessions idle for longer than timeout. Sessions
// that are draining are never evicted. A session.cleaned event is published
// for each eviction after the registry lock is released.
func (r *Registry) CleanupInactive(ctx context.Context, timeout time.Duration) []string {
	now := r.now()
	var cleaned []events.SessionCleaned

	r.mu.Lock()
	for id, s := range r.sessions {
		s.mu.Lock()
		idle := now.Sub(s.lastActivity)
		evict := !s.processing && idle > timeout
		s.mu.Unlock()
		if evict {
			delete(r.sessions, id)
			cleaned = append(cleaned, events.SessionCleaned{UserID: id, IdleFor: idle})
		}
	}
	r.mu.Unlock()

	ids := make([]string, 0, len(cleaned))
	for _, ev := range cleaned {
		r.log.Info().Str("userId", ev.UserID).Dur("idle", ev.IdleFor).Msg("session cleaned")
		r.bus.Publish(ctx, ev)
		ids = append(ids, ev.UserID)
	}
	return ids
}
