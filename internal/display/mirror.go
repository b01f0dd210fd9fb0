package display

import (
	"sync"

	"go.uber.org/zap"
)

// MirrorPanel records the last rendered frame and fans it out to
// subscribers such as the websocket display mirror. It is safe for
// concurrent use.
type MirrorPanel struct {
	mu        sync.RWMutex
	frame     Frame
	rendered  bool
	subs      map[int]chan Frame
	nextSubID int
	next      Panel
	logger    *zap.Logger
}

// NewMirrorPanel creates a mirror. next, when not nil, receives every
// call as well, e.g. the hardware panel driver.
func NewMirrorPanel(next Panel, logger *zap.Logger) *MirrorPanel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MirrorPanel{
		subs:   make(map[int]chan Frame),
		next:   next,
		logger: logger,
	}
}

func (m *MirrorPanel) Render(f Frame) {
	m.mu.Lock()
	m.frame = f.Clone()
	m.rendered = true
	for _, ch := range m.subs {
		offer(ch, m.frame.Clone())
	}
	m.mu.Unlock()

	if m.next != nil {
		m.next.Render(f)
	}
}

func (m *MirrorPanel) SetBacklight(percent int) {
	m.logger.Debug("backlight", zap.Int("percent", percent))

	m.mu.Lock()
	m.frame.Backlight = percent
	m.mu.Unlock()

	if m.next != nil {
		m.next.SetBacklight(percent)
	}
}

// Last returns the most recent frame and whether anything was rendered.
func (m *MirrorPanel) Last() (Frame, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.frame.Clone(), m.rendered
}

// Subscribe returns a channel receiving frames as they are rendered,
// starting with the current one. Slow readers only see the newest frame.
// The returned func unsubscribes and closes the channel.
func (m *MirrorPanel) Subscribe() (<-chan Frame, func()) {
	ch := make(chan Frame, 1)

	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subs[id] = ch
	if m.rendered {
		ch <- m.frame.Clone()
	}
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			close(ch)
			m.mu.Unlock()
		})
	}
}

// offer replaces a pending frame so the channel never blocks the renderer.
// Callers hold m.mu, so ch has no other writer.
func offer(ch chan Frame, f Frame) {
	select {
	case ch <- f:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- f
}
