package session

import (
	"context"
	"fmt"
	"time"

	"github.com/adwski/classcast/backend/model"
	"github.com/adwski/classcast/backend/transport"
	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"
)

const defaultReconnectDelay = 5 * time.Second

type (
	// IdentityStore provides the per-installation student identity.
	IdentityStore interface {
		Load() (model.Identity, error)
	}

	// Loader applies accepted code to the local editing session.
	Loader interface {
		Load(codeType, data string) error
	}

	StudentHandlers struct {
		OnStatus   StatusFunc
		OnIncoming func(p model.Payload)
	}

	StudentConfig struct {
		Logger         *zerolog.Logger
		Dialer         transport.Dialer
		Identities     IdentityStore
		Loader         Loader
		ReconnectDelay time.Duration
		Handlers       StudentHandlers
	}

	// Student is the receiving side of the relay. After losing the hub or
	// the master it reconnects with a fixed delay until stopped.
	Student struct {
		state

		logger     zerolog.Logger
		dialer     transport.Dialer
		identities IdentityStore
		loader     Loader
		delay      time.Duration
		h          StudentHandlers

		running bool
		ch      transport.Channel
		cancel  context.CancelFunc
		pending *model.Payload
	}
)

func NewStudent(cfg StudentConfig) *Student {
	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = defaultReconnectDelay
	}
	return &Student{
		state:      state{status: model.StatusDisconnected, onStatus: cfg.Handlers.OnStatus},
		logger:     cfg.Logger.With().Str("component", "student").Logger(),
		dialer:     cfg.Dialer,
		identities: cfg.Identities,
		loader:     cfg.Loader,
		delay:      delay,
		h:          cfg.Handlers,
	}
}

// Start joins the hub at address:port in the background.
// It is a no-op while the session is already running.
func (s *Student) Start(ctx context.Context, address string, port int) error {
	if address == "" || port <= 0 || port > 65535 {
		return fmt.Errorf("%w: %q:%d", ErrInvalidAddress, address, port)
	}

	s.mx.Lock()
	if s.running {
		s.mx.Unlock()
		s.logger.Debug().Msg("already running as student")
		return nil
	}
	s.running = true
	s.gen++
	gen := s.gen
	ctx, s.cancel = context.WithCancel(ctx)
	s.mx.Unlock()

	url := transport.HubURL(address, port)

	go s.run(ctx, gen, url)
	return nil
}

func (s *Student) run(ctx context.Context, gen uint64, url string) {
	ch, err := s.open(ctx, gen, url)
	for {
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.logger.Warn().Err(err).Str("url", url).Msg("failed to connect to hub")
			s.set(gen, model.StatusError, err)
		} else {
			reason := s.serve(gen, ch)
			if ctx.Err() != nil {
				return
			}
			s.logger.Info().Err(reason).Msg("disconnected from hub")
			s.set(gen, model.StatusDisconnected, reason)
		}

		if ch, err = s.reconnect(ctx, gen, url); err != nil {
			return
		}
	}
}

// reconnect waits the fixed delay and then redials until it succeeds or ctx is done.
func (s *Student) reconnect(ctx context.Context, gen uint64, url string) (transport.Channel, error) {
	timer := time.NewTimer(s.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	return retry.DoWithData(
		func() (transport.Channel, error) {
			s.logger.Debug().Str("url", url).Msg("attempting to reconnect")
			return s.open(ctx, gen, url)
		},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(s.delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Debug().Err(err).Uint("attempt", n+1).Msg("reconnect failed")
			s.set(gen, model.StatusError, err)
		}),
	)
}

// open dials the hub and registers the student identity.
func (s *Student) open(ctx context.Context, gen uint64, url string) (transport.Channel, error) {
	s.set(gen, model.StatusConnecting, nil)

	id, err := s.identities.Load()
	if err != nil {
		return nil, fmt.Errorf("loading identity: %w", err)
	}

	ch, err := s.dialer.Dial(ctx, url)
	if err != nil {
		return nil, err
	}

	hello := model.ClientHello{ClientID: id.ID, ClientName: id.DisplayName()}
	if err = ch.Send(model.MustEncode(hello)); err != nil {
		_ = ch.Close()
		return nil, err
	}

	s.mx.Lock()
	if gen != s.gen {
		s.mx.Unlock()
		_ = ch.Close()
		return nil, context.Canceled
	}
	s.ch = ch
	notify := s.setLocked(model.StatusConnected, nil)
	s.mx.Unlock()
	notify()

	s.logger.Info().
		Str("url", url).
		Str("clientID", id.ID).
		Str("name", hello.ClientName).
		Msg("connected to hub")
	return ch, nil
}

// serve consumes messages until the channel ends or the master goes away.
func (s *Student) serve(gen uint64, ch transport.Channel) error {
	defer func() {
		s.mx.Lock()
		if s.ch == ch {
			s.ch = nil
		}
		s.mx.Unlock()
	}()

	for b := range ch.Incoming() {
		msg, err := model.Decode(b)
		if err != nil {
			s.logger.Warn().Err(err).Msg("dropping malformed message")
			continue
		}

		switch msg := msg.(type) {
		case model.CodeBroadcast:
			s.receive(gen, msg.Payload())
		case model.MasterDisconnected:
			s.logger.Warn().Msg("master disconnected")
			_ = ch.Close()
			return ErrMasterDisconnected
		case model.Pong:
			s.logger.Trace().Msg("pong")
		default:
			s.logger.Info().Str("type", string(msg.MessageType())).Msg("unknown message type")
		}
	}
	return ch.Err()
}

func (s *Student) receive(gen uint64, p model.Payload) {
	s.mx.Lock()
	if gen != s.gen {
		s.mx.Unlock()
		return
	}
	if s.pending != nil {
		s.logger.Debug().Str("from", s.pending.From).Msg("discarding unconsumed incoming code")
	}
	s.pending = &p
	s.mx.Unlock()

	s.logger.Info().
		Str("codeType", p.CodeType).
		Str("from", p.From).
		Int("size", len(p.Data)).
		Msg("incoming code")
	if s.h.OnIncoming != nil {
		s.h.OnIncoming(p)
	}
}

// Pending returns the incoming code waiting for a decision.
func (s *Student) Pending() (model.Payload, bool) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.pending == nil {
		return model.Payload{}, false
	}
	return *s.pending, true
}

func (s *Student) HasPending() bool {
	_, ok := s.Pending()
	return ok
}

func (s *Student) take() *model.Payload {
	s.mx.Lock()
	defer s.mx.Unlock()
	p := s.pending
	s.pending = nil
	return p
}

// AcceptIncoming clears the pending code and hands it to the loader.
// The slot is cleared even when loading fails.
func (s *Student) AcceptIncoming() error {
	p := s.take()
	if p == nil {
		return ErrNoPending
	}
	if err := s.load(*p); err != nil {
		s.logger.Error().Err(err).Str("codeType", p.CodeType).Msg("failed to load incoming code")
		return err
	}
	s.logger.Info().Str("codeType", p.CodeType).Str("from", p.From).Msg("incoming code accepted")
	return nil
}

func (s *Student) load(p model.Payload) (err error) {
	if s.loader == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrLoad, r)
		}
	}()
	if err = s.loader.Load(p.CodeType, p.Data); err != nil {
		return fmt.Errorf("%w: %w", ErrLoad, err)
	}
	return nil
}

// RejectIncoming discards the pending code and reports whether there was any.
func (s *Student) RejectIncoming() bool {
	p := s.take()
	if p != nil {
		s.logger.Info().Str("codeType", p.CodeType).Str("from", p.From).Msg("incoming code rejected")
	}
	return p != nil
}

// Stop cancels any pending reconnect and closes the channel. It is idempotent.
func (s *Student) Stop() {
	s.mx.Lock()
	s.gen++
	s.running = false
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	ch := s.ch
	s.ch = nil
	notify := s.setLocked(model.StatusDisconnected, nil)
	s.mx.Unlock()

	if ch != nil {
		_ = ch.Close()
	}
	notify()
}
