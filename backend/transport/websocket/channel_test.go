package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/adwski/classcast/backend/transport"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

// echoServer replies to every text frame with the same payload.
func echoServer(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		for {
			mt, b, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if string(b) == "bye" {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err = conn.WriteMessage(mt, b); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func newTestDialer() *Dialer {
	logger := zerolog.Nop()
	return NewDialer(Config{Logger: &logger, DialTimeout: time.Second})
}

func next(t *testing.T, ch transport.Channel) ([]byte, bool) {
	t.Helper()
	select {
	case b, ok := <-ch.Incoming():
		return b, ok
	case <-time.After(waitFor):
		t.Fatal("timeout waiting for incoming message")
		return nil, false
	}
}

func TestChannelRoundTrip(t *testing.T) {
	url := echoServer(t)

	ch, err := newTestDialer().Dial(context.Background(), url)
	require.NoError(t, err)
	defer func() { _ = ch.Close() }()

	require.NoError(t, ch.Send([]byte(`{"type":"ping"}`)))
	b, ok := next(t, ch)
	require.True(t, ok)
	assert.Equal(t, `{"type":"ping"}`, string(b))
}

func TestChannelRemoteClose(t *testing.T) {
	url := echoServer(t)

	ch, err := newTestDialer().Dial(context.Background(), url)
	require.NoError(t, err)

	require.NoError(t, ch.Send([]byte("bye")))
	_, ok := next(t, ch)
	assert.False(t, ok)
	assert.NoError(t, ch.Err())
	assert.ErrorIs(t, ch.Send([]byte("x")), transport.ErrChannelClosed)
}

func TestChannelClose(t *testing.T) {
	url := echoServer(t)

	ch, err := newTestDialer().Dial(context.Background(), url)
	require.NoError(t, err)

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
	assert.ErrorIs(t, ch.Send([]byte("x")), transport.ErrChannelClosed)

	for {
		if _, ok := next(t, ch); !ok {
			break
		}
	}
}

// silentServer reads frames and never writes or pings on its own.
func silentServer(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		for {
			if _, _, err = conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestChannelStaysOpenWhenIdle(t *testing.T) {
	url := silentServer(t)
	logger := zerolog.Nop()
	d := NewDialer(Config{
		Logger:       &logger,
		DialTimeout:  time.Second,
		PingInterval: 30 * time.Millisecond,
		ReadTimeout:  150 * time.Millisecond,
	})

	ch, err := d.Dial(context.Background(), url)
	require.NoError(t, err)
	defer func() { _ = ch.Close() }()

	select {
	case _, ok := <-ch.Incoming():
		t.Fatalf("channel ended while idle: open=%v err=%v", ok, ch.Err())
	case <-time.After(600 * time.Millisecond):
	}
	assert.NoError(t, ch.Err())
	assert.NoError(t, ch.Send([]byte(`{"type":"ping"}`)))
}

func TestDialerPingIntervalBelowReadTimeout(t *testing.T) {
	logger := zerolog.Nop()
	d := NewDialer(Config{Logger: &logger, PingInterval: time.Minute, ReadTimeout: time.Second})
	assert.Less(t, d.pingInterval, d.readTimeout)

	d = NewDialer(Config{Logger: &logger})
	assert.Equal(t, defaultPingInterval, d.pingInterval)
	assert.Equal(t, defaultReadIdleDeadline, d.readTimeout)
}

func TestDialFailure(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	ts.Close()

	_, err := newTestDialer().Dial(context.Background(), url)
	assert.ErrorIs(t, err, transport.ErrConnection)
}

func TestDialRejectedUpgrade(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(ts.Close)

	_, err := newTestDialer().Dial(context.Background(), "ws"+strings.TrimPrefix(ts.URL, "http"))
	assert.ErrorIs(t, err, transport.ErrConnection)
}
