package hostsignal

// Target receives connectivity changes. engine.Monitor satisfies it.
type Target interface {
	SetOnline(online bool)
}

// Manual sets connectivity on request.
type Manual struct {
	target Target
}

// NewManual wraps target.
func NewManual(target Target) *Manual {
	return &Manual{target: target}
}

// Online reports the host as connected.
func (m *Manual) Online() { m.target.SetOnline(true) }

// Offline reports the host as disconnected.
func (m *Manual) Offline() { m.target.SetOnline(false) }
