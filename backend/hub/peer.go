package hub

import (
	"errors"
	"sync"
	"sync/atomic"
)

const defaultSendQueueSize = 64

var (
	ErrChannelClosed = errors.New("channel is closed")
	ErrQueueFull     = errors.New("send queue is full")
)

type role int

const (
	roleUnregistered role = iota
	roleMaster
	roleStudent
)

func (r role) String() string {
	switch r {
	case roleMaster:
		return "master"
	case roleStudent:
		return "student"
	default:
		return "unregistered"
	}
}

var peerSeq atomic.Uint64

// Peer is the hub side of a single transport channel.
// Role fields are owned by the hub event loop.
type Peer struct {
	id     uint64
	remote string
	tx     chan []byte
	done   chan struct{}
	once   sync.Once

	role     role
	clientID string
	name     string
}

func NewPeer(remote string, queueSize int) *Peer {
	if queueSize <= 0 {
		queueSize = defaultSendQueueSize
	}
	return &Peer{
		id:     peerSeq.Add(1),
		remote: remote,
		tx:     make(chan []byte, queueSize),
		done:   make(chan struct{}),
	}
}

func (p *Peer) ID() uint64 { return p.id }

func (p *Peer) Remote() string { return p.remote }

// Outbound yields messages for the transport writer, in send order.
func (p *Peer) Outbound() <-chan []byte { return p.tx }

// Done is closed once the peer stops accepting messages.
func (p *Peer) Done() <-chan struct{} { return p.done }

// Close marks the peer as closed. Safe to call multiple times.
func (p *Peer) Close() {
	p.once.Do(func() { close(p.done) })
}

func (p *Peer) Open() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Send enqueues b without blocking.
func (p *Peer) Send(b []byte) error {
	if !p.Open() {
		return ErrChannelClosed
	}
	select {
	case p.tx <- b:
		return nil
	default:
		return ErrQueueFull
	}
}
