package websocket

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/adwski/classcast/backend/hub"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultShutdownDeadline = 10 * time.Second

	defaultDisconnectTimeout = 2 * time.Second

	defaultWebsocketReadBufferSize     = 16 << 10
	defaultWebsocketWriteBufferSize    = 16 << 10
	defaultWebSocketMaxMessageSize     = 32 << 20 // serialized projects with assets can be large
	defaultWebSocketHandshakeTimeout   = 3 * time.Second
	defaultWebSocketCloseWriteDeadline = 2 * time.Second
	defaultWebSocketWriteDeadline      = 10 * time.Second

	// defaultPongWait - defaultPingInterval == is how long we give client to respond
	defaultPingInterval = 5 * time.Second
	defaultPongWait     = 7 * time.Second
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

type (
	Relay interface {
		Deliver(ctx context.Context, p *hub.Peer, raw []byte) error
		Disconnect(ctx context.Context, p *hub.Peer, reason error) error
	}

	Config struct {
		Logger        *zerolog.Logger
		Relay         Relay
		ListenAddr    string
		SendQueueSize int
	}

	Server struct {
		relay     Relay
		ws        *websocket.Upgrader
		queueSize int
		*http.Server

		logger zerolog.Logger
	}
)

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger:    cfg.Logger.With().Str("component", "websocket-server").Logger(),
		relay:     cfg.Relay,
		queueSize: cfg.SendQueueSize,
		ws: &websocket.Upgrader{
			HandshakeTimeout: defaultWebSocketHandshakeTimeout,
			ReadBufferSize:   defaultWebsocketReadBufferSize,
			WriteBufferSize:  defaultWebsocketWriteBufferSize,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv,
	}
	return srv
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	// hijacked connections outlive Shutdown, so tie them to ctx
	srv.BaseContext = func(net.Listener) context.Context { return ctx }

	errSrv := make(chan error)
	go func() {
		errSrv <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-errSrv:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
}

// ServeHTTP upgrades every request regardless of path, so ws://host:port works as is.
func (srv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := srv.ws.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an error status
		srv.logger.Error().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	peer := hub.NewPeer(r.RemoteAddr, srv.queueSize)
	srv.logger.Debug().
		Str("remote", r.RemoteAddr).
		Uint64("peer", peer.ID()).
		Msg("new connection")

	// the request context is canceled once ServeHTTP returns, so serve in place
	srv.handleWSConn(r.Context(), conn, peer)
}

func (srv *Server) handleWSConn(ctx context.Context, conn *websocket.Conn, peer *hub.Peer) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg     = &sync.WaitGroup{}
		reason error
		logger = srv.logger.With().
			Str("remote", peer.Remote()).
			Uint64("peer", peer.ID()).
			Logger()
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		reason = webSocketReceiver(ctx, conn, peer, srv.relay, &logger)
		cancel()
	}()
	go func() {
		defer wg.Done()
		webSocketSender(ctx, conn, peer, &logger)
		cancel()
	}()
	go func() {
		// unblocks the receiver
		defer wg.Done()
		<-ctx.Done()
		webSocketCloser(conn, &logger)
	}()

	wg.Wait()
	peer.Close()

	dCtx, dCancel := context.WithTimeout(context.Background(), defaultDisconnectTimeout)
	defer dCancel()
	if err := srv.relay.Disconnect(dCtx, peer, reason); err != nil {
		logger.Debug().Err(err).Msg("failed to report disconnect")
	}
	logger.Debug().Msg("connection closed")
}

func webSocketSender(
	ctx context.Context,
	conn *websocket.Conn,
	peer *hub.Peer,
	logger *zerolog.Logger,
) {
	pingTicker := time.NewTicker(defaultPingInterval)
	defer pingTicker.Stop()
SendLoop:
	for {
		select {
		case <-ctx.Done():
			break SendLoop
		case <-peer.Done():
			break SendLoop
		case <-pingTicker.C:
			wsErr := conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline))
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to set websocket write deadline")
				break SendLoop
			}
			wsErr = conn.WriteMessage(websocket.PingMessage, []byte{})
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to send ping")
				break SendLoop
			}
			logger.Trace().Msg("ping sent")

		case b := <-peer.Outbound():
			wsErr := conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline))
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to set websocket write deadline")
				break SendLoop
			}
			if wsErr = conn.WriteMessage(websocket.TextMessage, b); wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to write outgoing message")
				break SendLoop
			}
		}
	}
}

func webSocketReceiver(
	ctx context.Context,
	conn *websocket.Conn,
	peer *hub.Peer,
	relay Relay,
	logger *zerolog.Logger,
) error {
	conn.SetReadLimit(defaultWebSocketMaxMessageSize)
	readDeadLineFunc := func(deadline time.Duration) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	}
	conn.SetPongHandler(func(string) error {
		logger.Trace().Msg("got pong")
		return readDeadLineFunc(defaultPongWait)
	})
	if err := readDeadLineFunc(defaultPongWait); err != nil {
		logger.Error().Err(err).Msg("failed to set websocket read deadline")
		return err
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		_, msg, wsErr := conn.ReadMessage()
		if wsErr != nil {
			if websocket.IsCloseError(wsErr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway) {
				logger.Debug().Err(wsErr).Msg("connection closed by peer")
				return nil
			}
			if ctx.Err() == nil {
				logger.Warn().Err(wsErr).Msg("unexpected error during receive")
			}
			return wsErr
		}
		// any inbound traffic proves liveness
		if err := readDeadLineFunc(defaultPongWait); err != nil {
			return err
		}
		if err := relay.Deliver(ctx, peer, msg); err != nil {
			return err
		}
	}
}

// webSocketCloser only uses WriteControl and Close, which are safe to call
// concurrently with the sender.
func webSocketCloser(conn *websocket.Conn, logger *zerolog.Logger) {
	wsErr := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(defaultWebSocketCloseWriteDeadline))
	if wsErr != nil {
		logger.Debug().Err(wsErr).Msg("failed to send close frame")
	}
	if wsErr = conn.Close(); wsErr != nil {
		logger.Debug().Err(wsErr).Msg("failed to close websocket connection")
	}
}
