package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrUnknownDevice is returned when a session references a device that
	// never registered.
	ErrUnknownDevice = errors.New("session: device not registered")

	// ErrUnknownSession is returned when a session ID is not in the registry.
	ErrUnknownSession = errors.New("session: session not found")
)

// Registry is the authoritative in-memory map of live-activity sessions.
// All mutations are serialized behind one lock; reads hand out copies so
// callers never iterate live state during network calls. Session state is
// process-lifetime only: a restart loses it and the heartbeat protocol
// rebuilds it.
type Registry struct {
	mu             sync.RWMutex
	clock          Clock
	windows        Windows
	logger         zerolog.Logger
	sessions       map[string]*Session // key: sessionID
	deviceSessions map[string]string   // key: deviceID -> live sessionID
	devices        map[string]*Device  // key: deviceID
}

// NewRegistry creates an empty registry.
func NewRegistry(windows Windows, clock Clock, logger zerolog.Logger) *Registry {
	if clock == nil {
		clock = RealClock{}
	}
	return &Registry{
		clock:          clock,
		windows:        windows,
		logger:         logger.With().Str("component", "registry").Logger(),
		sessions:       make(map[string]*Session),
		deviceSessions: make(map[string]string),
		devices:        make(map[string]*Device),
	}
}

// RegisterDevice upserts a device record. An empty credential on an update
// never clears a previously supplied one; clients may omit tokens they have
// already reported.
func (r *Registry) RegisterDevice(d Device) Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.devices[d.ID]
	if ok {
		existing.UserID = d.UserID
		existing.LeagueID = d.LeagueID
		if d.PushToken != "" {
			existing.PushToken = d.PushToken
		}
		if d.PushToStartToken != "" {
			existing.PushToStartToken = d.PushToStartToken
		}
		return *existing
	}

	d.RegisteredAt = r.clock.Now()
	r.devices[d.ID] = &d

	r.logger.Info().
		Str("device_id", d.ID).
		Str("user_id", d.UserID).
		Str("league_id", d.LeagueID).
		Bool("has_push_token", d.PushToken != "").
		Bool("has_start_token", d.PushToStartToken != "").
		Msg("Device registered")

	return d
}

// Device returns a copy of the device record.
func (r *Registry) Device(id string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	if !ok {
		return Device{}, false
	}
	return *d, true
}

// ListDevices returns a snapshot of all registered devices.
func (r *Registry) ListDevices() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// StartSession creates a session for a registered device. A device owns at
// most one live session: starting a new one retires the previous session
// first. An empty sessionID means the session is server-initiated and gets
// a generated ID; an empty token falls back to the device's push credential,
// and a session without any credential starts Pending.
func (r *Registry) StartSession(deviceID, sessionID, token string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	device, ok := r.devices[deviceID]
	if !ok {
		return Session{}, ErrUnknownDevice
	}

	if prevID, ok := r.deviceSessions[deviceID]; ok && prevID != sessionID {
		r.retireLocked(prevID, RetireReplaced)
	}

	if sessionID == "" {
		sessionID = NewID()
	}
	if token == "" {
		token = device.PushToken
	}

	now := r.clock.Now()
	s := &Session{
		ID:              sessionID,
		DeviceID:        deviceID,
		UserID:          device.UserID,
		LeagueID:        device.LeagueID,
		PushToken:       token,
		State:           StatePending,
		Window:          r.windows.For(now.Weekday()),
		CreatedAt:       now,
		LastHeartbeatAt: now,
	}
	if token != "" {
		s.State = StateActive
	}

	r.sessions[sessionID] = s
	r.deviceSessions[deviceID] = sessionID

	r.logger.Info().
		Str("session_id", sessionID).
		Str("device_id", deviceID).
		Str("state", string(s.State)).
		Dur("window", s.Window).
		Msg("Started session")

	return *s, nil
}

// Get returns a copy of a session.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return r.copyLocked(s), true
}

// ForDevice returns the device's live session, if any.
func (r *Registry) ForDevice(deviceID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.deviceSessions[deviceID]
	if !ok {
		return Session{}, false
	}
	return r.copyLocked(r.sessions[id]), true
}

// ListActive returns a point-in-time snapshot of Active sessions. Callers
// iterate the copies without holding the registry lock.
func (r *Registry) ListActive() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.State == StateActive {
			out = append(out, r.copyLocked(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// List returns a snapshot of every session in the registry.
func (r *Registry) List() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, r.copyLocked(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SupplyToken supplies or rotates the push credential for a session,
// promoting Pending to Active. A session never reverts to Pending.
func (r *Registry) SupplyToken(sessionID, token string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return Session{}, ErrUnknownSession
	}

	s.PushToken = token
	if s.State == StatePending && token != "" {
		s.State = StateActive
		r.logger.Info().
			Str("session_id", sessionID).
			Str("device_id", s.DeviceID).
			Msg("Session promoted to active")
	}

	if d, ok := r.devices[s.DeviceID]; ok && token != "" {
		d.PushToken = token
	}

	return r.copyLocked(s), nil
}

// TouchHeartbeat records a heartbeat for a session.
func (r *Registry) TouchHeartbeat(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	s.LastHeartbeatAt = r.clock.Now()
	return true
}

// MarkRetired retires a session and removes it from the registry. Returns
// a copy of the retired session.
func (r *Registry) MarkRetired(sessionID string, reason RetireReason) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retireLocked(sessionID, reason)
}

// RetireDevice retires the device's live session, if any.
func (r *Registry) RetireDevice(deviceID string, reason RetireReason) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.deviceSessions[deviceID]
	if !ok {
		return Session{}, false
	}
	return r.retireLocked(id, reason)
}

// CompletePush records a view accepted by the push transport. The write is
// dropped when the session was retired while the dispatch was in flight, so
// a dead session never resurfaces through a stale result.
func (r *Registry) CompletePush(sessionID string, view View, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok || s.State != StateActive {
		return false
	}

	v := view
	s.LastPushed = &v
	s.LastPushAt = at
	return true
}

// Sweep retires every session whose heartbeat silence exceeds its window.
// This is the backstop cleanup path; heartbeat-driven retirement is the
// primary one. Pending sessions are swept on the same terms as Active ones.
func (r *Registry) Sweep(now time.Time) []Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []*Session
	for _, s := range r.sessions {
		if now.Sub(s.LastHeartbeatAt) > s.Window {
			s.State = StateExpiring
			expired = append(expired, s)
		}
	}

	retired := make([]Session, 0, len(expired))
	for _, s := range expired {
		if snap, ok := r.retireLocked(s.ID, RetireTTL); ok {
			retired = append(retired, snap)
		}
	}

	sort.Slice(retired, func(i, j int) bool { return retired[i].ID < retired[j].ID })
	return retired
}

// Counts returns the number of active and pending sessions.
func (r *Registry) Counts() (active, pending int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		switch s.State {
		case StateActive:
			active++
		case StatePending:
			pending++
		}
	}
	return active, pending
}

// retireLocked retires a session. Must be called with the lock held.
func (r *Registry) retireLocked(sessionID string, reason RetireReason) (Session, bool) {
	s, ok := r.sessions[sessionID]
	if !ok {
		return Session{}, false
	}

	s.State = StateRetired
	s.RetireReason = reason
	snap := r.copyLocked(s)

	delete(r.sessions, sessionID)
	if r.deviceSessions[s.DeviceID] == sessionID {
		delete(r.deviceSessions, s.DeviceID)
	}

	r.logger.Info().
		Str("session_id", sessionID).
		Str("device_id", s.DeviceID).
		Str("reason", string(reason)).
		Msg("Session retired")

	return snap, true
}

// copyLocked deep-copies a session for handing out of the lock.
func (r *Registry) copyLocked(s *Session) Session {
	out := *s
	if s.LastPushed != nil {
		v := *s.LastPushed
		if s.LastPushed.TopPerformer != nil {
			p := *s.LastPushed.TopPerformer
			v.TopPerformer = &p
		}
		out.LastPushed = &v
	}
	return out
}
