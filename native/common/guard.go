package common

import (
	"errors"
	"sync"
)

var ErrReentrant = errors.New("reentrant call")

// LatchView reports whether a transfer-bearing call is in flight.
type LatchView interface {
	Held() bool
}

// Latch marks the window in which a module hands control to an external
// account. Mutating entry points consult it through Guard.
type Latch struct {
	mu   sync.Mutex
	held bool
}

// Acquire takes the latch and returns its release function. Acquiring a held
// latch fails with ErrReentrant.
func (l *Latch) Acquire() (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return nil, ErrReentrant
	}
	l.held = true
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.held = false
			l.mu.Unlock()
		})
	}, nil
}

// Held implements LatchView.
func (l *Latch) Held() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// Guard fails with ErrReentrant while the latch is held.
func Guard(v LatchView) error {
	if v == nil {
		return nil
	}
	if v.Held() {
		return ErrReentrant
	}
	return nil
}
