// Package session implements the teacher and student ends of the broadcast relay.
//
// Sessions never block their callers: connecting happens in the background and
// progress is reported through handler callbacks. Handlers are invoked from the
// session's own goroutine (or from the goroutine calling Stop) and must not call
// back into Stop synchronously.
package session

import (
	"errors"
	"sync"

	"github.com/adwski/classcast/backend/model"
)

var (
	ErrNotConnected       = errors.New("session is not connected")
	ErrInvalidCodeType    = errors.New("invalid code type")
	ErrInvalidAddress     = errors.New("invalid hub address")
	ErrMasterDisconnected = errors.New("master disconnected")
	ErrNoPending          = errors.New("no incoming code")
	ErrLoad               = errors.New("failed to load incoming code")
)

type StatusFunc func(status model.Status, err error)

// state tracks the connection status of a session. A generation number
// lets a restarted session ignore updates from its previous run.
type state struct {
	mx       sync.Mutex
	status   model.Status
	gen      uint64
	onStatus StatusFunc
}

func (s *state) Status() model.Status {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.status
}

// setLocked changes status and returns the notification to run after unlocking.
func (s *state) setLocked(status model.Status, err error) func() {
	if s.status == status && err == nil {
		return func() {}
	}
	s.status = status
	if s.onStatus == nil {
		return func() {}
	}
	return func() { s.onStatus(status, err) }
}

func (s *state) set(gen uint64, status model.Status, err error) {
	s.mx.Lock()
	if gen != s.gen {
		s.mx.Unlock()
		return
	}
	notify := s.setLocked(status, err)
	s.mx.Unlock()
	notify()
}
