package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/voiceagent/internal/convstate"
	"github.com/antoniostano/voiceagent/internal/persona"
	"github.com/antoniostano/voiceagent/internal/router"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var ErrNotFound = errors.New("session not found")

const maxOutboundQueue = 256

// Runtime holds the mutable, concurrently-accessed turn state for a session:
// the pipeline and the connection dispatch loop both reach into it, so every
// field is guarded by its own mutex rather than the Manager's registry lock.
type Runtime struct {
	mu sync.Mutex

	AudioBuffer    []byte
	outboundEvents [][]byte

	PipelineCancel context.CancelFunc
	TTSCancel      chan struct{}
	TTSPlaying     bool
	TTSDeafUntil   time.Time

	PartialResponse string
	checkpoint      string

	PersonaManager *persona.Manager
	State          *convstate.State
	Router         *router.Router

	TurnStartedAt      time.Time
	InactivityNotified bool
}

func newRuntime(personas ...string) *Runtime {
	return &Runtime{
		PersonaManager: persona.New(),
		State:          convstate.New(personas...),
		Router:         router.New(),
	}
}

// NewTurn cancels any in-flight pipeline run for the previous turn and
// returns a context scoped to the new one.
func (r *Runtime) NewTurn(parent context.Context) context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.PipelineCancel != nil {
		r.PipelineCancel()
	}
	ctx, cancel := context.WithCancel(parent)
	r.PipelineCancel = cancel
	r.TTSCancel = make(chan struct{})
	r.TurnStartedAt = time.Now().UTC()
	return ctx
}

// CancelAll fires both the pipeline and TTS cancellation signals for the
// turn in flight, used on barge-in and on session end.
func (r *Runtime) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.PipelineCancel != nil {
		r.PipelineCancel()
	}
	if r.TTSCancel != nil {
		select {
		case <-r.TTSCancel:
		default:
			close(r.TTSCancel)
		}
	}
}

// Checkpoint records the partial agent utterance spoken before a barge-in,
// so the next turn can splice it back in per the handoff-continuity rule.
func (r *Runtime) Checkpoint(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkpoint = text
}

// PopCheckpoint returns and clears the pending checkpoint, if any.
func (r *Runtime) PopCheckpoint() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	text := r.checkpoint
	r.checkpoint = ""
	return text
}

// PushOutbound appends a serialized outbound event, dropping the oldest
// entry once the queue is full rather than growing unbounded.
func (r *Runtime) PushOutbound(payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.outboundEvents) >= maxOutboundQueue {
		r.outboundEvents = r.outboundEvents[1:]
	}
	r.outboundEvents = append(r.outboundEvents, payload)
}

// DrainOutbound returns and clears all queued outbound events.
func (r *Runtime) DrainOutbound() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	drained := r.outboundEvents
	r.outboundEvents = nil
	return drained
}

func (r *Runtime) SetTTSPlaying(playing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.TTSPlaying = playing
}

func (r *Runtime) IsTTSPlaying() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.TTSPlaying
}

func (r *Runtime) SetTTSDeafUntil(until time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.TTSDeafUntil = until
}

func (r *Runtime) IsDeaf(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return now.Before(r.TTSDeafUntil)
}

type Session struct {
	ID                string    `json:"session_id"`
	UserID            string    `json:"user_id"`
	Status            Status    `json:"status"`
	PersonaID         string    `json:"persona_id"`
	VoiceID           string    `json:"voice_id"`
	ActiveTurnID      string    `json:"active_turn_id"`
	InterruptionCount int       `json:"interruption_count"`
	StartedAt         time.Time `json:"started_at"`
	LastActivityAt    time.Time `json:"last_activity_at"`

	// Runtime is shared across every clone returned for this session; it is
	// the live mutable turn state the pipeline operates on.
	Runtime *Runtime `json:"-"`
}

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	sessionByUser     map[string]string
	inactivityTimeout time.Duration
	endedRetention    time.Duration
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 2 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		sessionByUser:     make(map[string]string),
		inactivityTimeout: inactivityTimeout,
		endedRetention:    5 * time.Minute,
	}
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// SetEndedRetention controls how long an ended session stays queryable via
// Get before it is pruned from the registry. Zero disables pruning.
func (m *Manager) SetEndedRetention(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endedRetention = d
}

func (m *Manager) Create(userID, personaID, voiceID string) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		PersonaID:      personaID,
		VoiceID:        voiceID,
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
		Runtime:        newRuntime(persona.Bob, persona.Alice),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	if userID != "" {
		m.sessionByUser[userID] = s.ID
	}
	return clone(s)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) StartTurn(sessionID, turnID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.ActiveTurnID = turnID
	s.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) Interrupt(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.InterruptionCount++
	s.ActiveTurnID = ""
	s.LastActivityAt = time.Now().UTC()
	s.Runtime.CancelAll()
	return nil
}

func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	s.Status = StatusEnded
	s.ActiveTurnID = ""
	s.LastActivityAt = time.Now().UTC()
	s.Runtime.CancelAll()
	if s.UserID != "" {
		delete(m.sessionByUser, s.UserID)
	}
	return clone(s), nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	retention := m.endedRetention
	for id, s := range m.sessions {
		if s.Status == StatusEnded {
			if retention > 0 && now.Sub(s.LastActivityAt) >= retention {
				delete(m.sessions, id)
			}
			continue
		}
		if now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		s.Status = StatusEnded
		s.ActiveTurnID = ""
		s.LastActivityAt = now
		s.Runtime.CancelAll()
		expired = append(expired, clone(s))
		if s.UserID != "" {
			delete(m.sessionByUser, s.UserID)
		}
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
