package board

import (
	"sync"

	"github.com/oxplot/pdmux/simsrc"
)

// line is the transport of one port. It forwards to whichever supply is
// plugged in.
type line struct {
	mu  sync.Mutex
	src *simsrc.Source
}

func (l *line) set(s *simsrc.Source) {
	l.mu.Lock()
	l.src = s
	l.mu.Unlock()
}

func (l *line) current() *simsrc.Source {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.src
}

// Transmit implements portctl.Transport.
func (l *line) Transmit(frame []byte) error {
	s := l.current()
	if s == nil {
		return simsrc.ErrNotAttached
	}
	return s.Transmit(frame)
}

// SendHardReset implements portctl.Transport.
func (l *line) SendHardReset() error {
	s := l.current()
	if s == nil {
		return simsrc.ErrNotAttached
	}
	return s.SendHardReset()
}
