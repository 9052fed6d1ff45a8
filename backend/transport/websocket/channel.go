package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/adwski/classcast/backend/transport"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultDialTimeout      = 5 * time.Second
	defaultSendQueueSize    = 64
	defaultIncomingQueue    = 16
	defaultMaxMessageSize   = 32 << 20
	defaultWriteDeadline    = 10 * time.Second
	defaultCloseDeadline    = 2 * time.Second
	defaultReadIdleDeadline = 20 * time.Second
	defaultPingInterval     = 8 * time.Second
)

var ErrQueueFull = errors.New("send queue is full")

type (
	Config struct {
		Logger        *zerolog.Logger
		DialTimeout   time.Duration
		SendQueueSize int

		// PingInterval must stay below ReadTimeout, hubs are not required to ping.
		PingInterval time.Duration
		ReadTimeout  time.Duration
	}

	// Dialer opens channels to a hub over gorilla websocket connections.
	Dialer struct {
		logger       zerolog.Logger
		ws           *websocket.Dialer
		timeout      time.Duration
		queueSize    int
		pingInterval time.Duration
		readTimeout  time.Duration
	}

	Channel struct {
		conn         *websocket.Conn
		logger       zerolog.Logger
		pingInterval time.Duration
		readTimeout  time.Duration
		tx           chan []byte
		in           chan []byte
		done         chan struct{}
		once         sync.Once
		mx           sync.Mutex
		err          error
	}
)

func NewDialer(cfg Config) *Dialer {
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	queueSize := cfg.SendQueueSize
	if queueSize <= 0 {
		queueSize = defaultSendQueueSize
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = defaultReadIdleDeadline
	}
	pingInterval := cfg.PingInterval
	if pingInterval <= 0 || pingInterval >= readTimeout {
		pingInterval = min(defaultPingInterval, readTimeout/2)
	}
	return &Dialer{
		logger:       cfg.Logger.With().Str("component", "websocket-dialer").Logger(),
		timeout:      timeout,
		queueSize:    queueSize,
		pingInterval: pingInterval,
		readTimeout:  readTimeout,
		ws: &websocket.Dialer{
			HandshakeTimeout: timeout,
		},
	}
}

func (d *Dialer) Dial(ctx context.Context, url string) (transport.Channel, error) {
	dCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	conn, resp, err := d.ws.DialContext(dCtx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, errors.Join(transport.ErrConnection, err)
	}

	ch := &Channel{
		conn:         conn,
		logger:       d.logger.With().Str("url", url).Logger(),
		pingInterval: d.pingInterval,
		readTimeout:  d.readTimeout,
		tx:           make(chan []byte, d.queueSize),
		in:           make(chan []byte, defaultIncomingQueue),
		done:         make(chan struct{}),
	}
	go ch.readLoop()
	go ch.writeLoop()

	ch.logger.Debug().Msg("channel opened")
	return ch, nil
}

func (c *Channel) Send(b []byte) error {
	select {
	case <-c.done:
		return transport.ErrChannelClosed
	default:
	}
	select {
	case c.tx <- b:
		return nil
	case <-c.done:
		return transport.ErrChannelClosed
	default:
		return ErrQueueFull
	}
}

func (c *Channel) Incoming() <-chan []byte { return c.in }

func (c *Channel) Err() error {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.err
}

// Close sends a close frame and tears the connection down. It is idempotent.
func (c *Channel) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}
	wsErr := c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(defaultCloseDeadline))
	if wsErr != nil && !errors.Is(wsErr, websocket.ErrCloseSent) {
		c.logger.Debug().Err(wsErr).Msg("failed to send close frame")
	}
	c.terminate(nil)
	return nil
}

func (c *Channel) terminate(err error) {
	c.once.Do(func() {
		c.mx.Lock()
		c.err = err
		c.mx.Unlock()
		close(c.done)
		if cErr := c.conn.Close(); cErr != nil {
			c.logger.Trace().Err(cErr).Msg("connection close")
		}
	})
}

func (c *Channel) readLoop() {
	defer close(c.in)

	c.conn.SetReadLimit(defaultMaxMessageSize)
	refresh := func() error {
		return c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
	c.conn.SetPongHandler(func(string) error {
		c.logger.Trace().Msg("got pong")
		return refresh()
	})
	c.conn.SetPingHandler(func(data string) error {
		if err := refresh(); err != nil {
			return err
		}
		err := c.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(defaultWriteDeadline))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	if err := refresh(); err != nil {
		c.terminate(err)
		return
	}

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.terminate(nil)
			} else {
				c.terminate(err)
			}
			return
		}
		if err = refresh(); err != nil {
			c.terminate(err)
			return
		}
		select {
		case c.in <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *Channel) writeLoop() {
	pingTicker := time.NewTicker(c.pingInterval)
	defer pingTicker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-pingTicker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(defaultWriteDeadline)); err != nil {
				c.terminate(err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				c.logger.Debug().Err(err).Msg("failed to send ping")
				c.terminate(err)
				return
			}
		case b := <-c.tx:
			if err := c.conn.SetWriteDeadline(time.Now().Add(defaultWriteDeadline)); err != nil {
				c.terminate(err)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				c.logger.Debug().Err(err).Msg("failed to write message")
				c.terminate(err)
				return
			}
		}
	}
}
