package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/adwski/classcast/backend/model"
	"github.com/adwski/classcast/backend/transport"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

type fakeChannel struct {
	sent chan []byte
	in   chan []byte
	out  chan []byte
	done chan struct{}
	once sync.Once
	mx   sync.Mutex
	err  error
}

func newFakeChannel() *fakeChannel {
	c := &fakeChannel{
		sent: make(chan []byte, 64),
		in:   make(chan []byte),
		out:  make(chan []byte),
		done: make(chan struct{}),
	}
	go func() {
		defer close(c.out)
		for {
			select {
			case <-c.done:
				return
			case b := <-c.in:
				select {
				case c.out <- b:
				case <-c.done:
					return
				}
			}
		}
	}()
	return c
}

func (c *fakeChannel) Send(b []byte) error {
	select {
	case <-c.done:
		return transport.ErrChannelClosed
	default:
	}
	c.sent <- b
	return nil
}

func (c *fakeChannel) Incoming() <-chan []byte { return c.out }

func (c *fakeChannel) Err() error {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.err
}

func (c *fakeChannel) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *fakeChannel) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// hangup simulates the hub side going away.
func (c *fakeChannel) hangup(err error) {
	c.mx.Lock()
	c.err = err
	c.mx.Unlock()
	_ = c.Close()
}

func (c *fakeChannel) push(t *testing.T, msg model.Message) {
	t.Helper()
	select {
	case c.in <- model.MustEncode(msg):
	case <-time.After(waitFor):
		t.Fatal("timeout pushing message")
	}
}

func (c *fakeChannel) next(t *testing.T) model.Message {
	t.Helper()
	select {
	case b := <-c.sent:
		msg, err := model.Decode(b)
		require.NoError(t, err)
		return msg
	case <-time.After(waitFor):
		t.Fatal("timeout waiting for sent message")
		return nil
	}
}

type fakeDialer struct {
	mx       sync.Mutex
	failures int
	attempts int
	urls     []string
	dials    chan *fakeChannel
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{dials: make(chan *fakeChannel, 16)}
}

// failNext makes the next n dials fail.
func (d *fakeDialer) failNext(n int) {
	d.mx.Lock()
	d.failures = n
	d.mx.Unlock()
}

func (d *fakeDialer) Dial(_ context.Context, url string) (transport.Channel, error) {
	d.mx.Lock()
	d.attempts++
	d.urls = append(d.urls, url)
	if d.failures > 0 {
		d.failures--
		d.mx.Unlock()
		return nil, errors.Join(transport.ErrConnection, errors.New("connection refused"))
	}
	d.mx.Unlock()

	ch := newFakeChannel()
	d.dials <- ch
	return ch, nil
}

func (d *fakeDialer) attemptCount() int {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.attempts
}

func (d *fakeDialer) dialedURLs() []string {
	d.mx.Lock()
	defer d.mx.Unlock()
	return append([]string(nil), d.urls...)
}

func (d *fakeDialer) next(t *testing.T) *fakeChannel {
	t.Helper()
	select {
	case ch := <-d.dials:
		return ch
	case <-time.After(waitFor):
		t.Fatal("timeout waiting for dial")
		return nil
	}
}

type statusEvent struct {
	status model.Status
	err    error
}

type statusRecorder struct {
	mx     sync.Mutex
	events []statusEvent
	cursor int
}

func (r *statusRecorder) record(status model.Status, err error) {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.events = append(r.events, statusEvent{status: status, err: err})
}

func (r *statusRecorder) first() statusEvent {
	r.mx.Lock()
	defer r.mx.Unlock()
	if len(r.events) == 0 {
		return statusEvent{}
	}
	return r.events[0]
}

func (r *statusRecorder) count(status model.Status) int {
	r.mx.Lock()
	defer r.mx.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.status == status {
			n++
		}
	}
	return n
}

// waitFor returns the first event with status recorded after the previously
// awaited one.
func (r *statusRecorder) waitFor(t *testing.T, status model.Status) statusEvent {
	t.Helper()
	var ev statusEvent
	require.Eventually(t, func() bool {
		r.mx.Lock()
		defer r.mx.Unlock()
		for i := r.cursor; i < len(r.events); i++ {
			if r.events[i].status == status {
				ev = r.events[i]
				r.cursor = i + 1
				return true
			}
		}
		return false
	}, waitFor, 5*time.Millisecond, "expected status %s", status)
	return ev
}
