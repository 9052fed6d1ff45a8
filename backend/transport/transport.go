// Package transport defines the message channel used by sessions to talk to a hub.
package transport

import (
	"context"
	"errors"
	"net"
	"strconv"
)

var (
	ErrConnection    = errors.New("connection failed")
	ErrChannelClosed = errors.New("channel is closed")
)

// Channel is an ordered, message framed, full duplex connection to a hub.
type Channel interface {
	// Send enqueues b for delivery without waiting for the peer.
	Send(b []byte) error
	// Incoming yields received messages in order and is closed when
	// the channel terminates.
	Incoming() <-chan []byte
	// Err returns the termination reason once Incoming is closed.
	// A clean close yields nil.
	Err() error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Channel, error)
}

// HubURL returns the websocket address of a hub listening on host:port.
func HubURL(host string, port int) string {
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(port))
}
