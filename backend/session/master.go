package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/adwski/classcast/backend/model"
	"github.com/adwski/classcast/backend/transport"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const defaultMasterName = "Teacher"

type (
	MasterHandlers struct {
		OnStatus StatusFunc
		OnRoster func(clients []model.ClientInfo)
		OnAck    func(ack model.BroadcastAck)
	}

	MasterConfig struct {
		Logger   *zerolog.Logger
		Dialer   transport.Dialer
		HubURL   string
		Name     string
		Handlers MasterHandlers

		// Now is used to stamp broadcasts; defaults to time.Now.
		Now func() time.Time
	}

	// Master is the teacher side of the relay. It is not retried after a
	// disconnect: the host has to call Start again.
	Master struct {
		state

		logger zerolog.Logger
		dialer transport.Dialer
		url    string
		name   string
		h      MasterHandlers
		now    func() time.Time

		ch     transport.Channel
		cancel context.CancelFunc
		roster []model.ClientInfo
	}
)

func NewMaster(cfg MasterConfig) *Master {
	name := cfg.Name
	if name == "" {
		name = defaultMasterName
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Master{
		state:  state{status: model.StatusDisconnected, onStatus: cfg.Handlers.OnStatus},
		logger: cfg.Logger.With().Str("component", "master").Logger(),
		dialer: cfg.Dialer,
		url:    cfg.HubURL,
		name:   name,
		h:      cfg.Handlers,
		now:    now,
	}
}

// Start connects to the hub in the background and registers as master.
// It is a no-op while a previous start is connecting or connected.
func (m *Master) Start(ctx context.Context) {
	m.mx.Lock()
	if m.status == model.StatusConnecting || m.status == model.StatusConnected {
		m.mx.Unlock()
		m.logger.Debug().Msg("already running as master")
		return
	}
	m.gen++
	gen := m.gen
	if m.cancel != nil {
		m.cancel()
	}
	ctx, m.cancel = context.WithCancel(ctx)
	notify := m.setLocked(model.StatusConnecting, nil)
	m.mx.Unlock()
	notify()

	go m.run(ctx, gen)
}

func (m *Master) run(ctx context.Context, gen uint64) {
	ch, err := m.dialer.Dial(ctx, m.url)
	if err != nil {
		m.logger.Error().Err(err).Str("url", m.url).Msg("failed to connect to hub")
		m.set(gen, model.StatusError, err)
		return
	}

	m.mx.Lock()
	if gen != m.gen {
		m.mx.Unlock()
		_ = ch.Close()
		return
	}
	m.ch = ch
	m.mx.Unlock()

	hello := model.ClientHello{ClientID: model.MasterID, IsMaster: true}
	if err = ch.Send(model.MustEncode(hello)); err != nil {
		m.logger.Error().Err(err).Msg("failed to register as master")
		_ = ch.Close()
	} else {
		m.logger.Info().Str("url", m.url).Msg("connected to hub as master")
		m.set(gen, model.StatusConnected, nil)
	}

	for b := range ch.Incoming() {
		m.handleMessage(gen, b)
	}
	if err == nil {
		err = ch.Err()
	}
	m.logger.Info().Err(err).Msg("disconnected from hub")

	m.mx.Lock()
	if gen != m.gen {
		m.mx.Unlock()
		return
	}
	m.ch = nil
	m.cancel()
	m.cancel = nil
	hadRoster := len(m.roster) > 0
	m.roster = nil
	notify := m.setLocked(model.StatusDisconnected, err)
	m.mx.Unlock()

	notify()
	if hadRoster {
		m.emitRoster(nil)
	}
}

func (m *Master) handleMessage(gen uint64, b []byte) {
	msg, err := model.Decode(b)
	if err != nil {
		m.logger.Warn().Err(err).Msg("dropping malformed message")
		return
	}

	switch msg := msg.(type) {
	case model.ClientHello:
		if msg.WantsMaster() {
			return
		}
		m.updateRoster(gen, func(roster []model.ClientInfo) []model.ClientInfo {
			return upsertClient(roster, model.ClientInfo{ID: msg.ClientID, Name: msg.ClientName})
		})
		m.logger.Info().Str("clientID", msg.ClientID).Str("name", msg.ClientName).Msg("student joined")
	case model.ClientList:
		m.updateRoster(gen, func(roster []model.ClientInfo) []model.ClientInfo {
			for _, c := range msg.Clients {
				roster = upsertClient(roster, c)
			}
			return roster
		})
	case model.ClientGoodbye:
		m.updateRoster(gen, func(roster []model.ClientInfo) []model.ClientInfo {
			return lo.Filter(roster, func(c model.ClientInfo, _ int) bool {
				return c.ID != msg.ClientID
			})
		})
		m.logger.Info().Str("clientID", msg.ClientID).Str("name", msg.ClientName).Msg("student left")
	case model.BroadcastAck:
		m.logger.Info().
			Int("successCount", msg.SuccessCount).
			Int("totalClients", msg.TotalClients).
			Msg("code broadcast acknowledged")
		if m.h.OnAck != nil {
			m.h.OnAck(msg)
		}
	case model.Pong:
		m.logger.Trace().Msg("pong")
	default:
		m.logger.Info().Str("type", string(msg.MessageType())).Msg("unknown message type")
	}
}

func (m *Master) updateRoster(gen uint64, fn func([]model.ClientInfo) []model.ClientInfo) {
	m.mx.Lock()
	if gen != m.gen {
		m.mx.Unlock()
		return
	}
	m.roster = fn(m.roster)
	roster := slices.Clone(m.roster)
	m.mx.Unlock()

	m.emitRoster(roster)
}

func (m *Master) emitRoster(roster []model.ClientInfo) {
	if m.h.OnRoster != nil {
		m.h.OnRoster(roster)
	}
}

func upsertClient(roster []model.ClientInfo, c model.ClientInfo) []model.ClientInfo {
	if i := slices.IndexFunc(roster, func(e model.ClientInfo) bool { return e.ID == c.ID }); i >= 0 {
		roster[i] = c
		return roster
	}
	return append(roster, c)
}

// Roster returns the students currently known to be connected.
func (m *Master) Roster() []model.ClientInfo {
	m.mx.Lock()
	defer m.mx.Unlock()
	return slices.Clone(m.roster)
}

// Broadcast sends code to every connected student. Delivery is reported
// asynchronously through OnAck; there is no retry and no timeout.
func (m *Master) Broadcast(codeType, data string) error {
	if !model.ValidCodeType(codeType) {
		return fmt.Errorf("%w: %q", ErrInvalidCodeType, codeType)
	}

	m.mx.Lock()
	if m.status != model.StatusConnected || m.ch == nil {
		m.mx.Unlock()
		return ErrNotConnected
	}
	ch, gen := m.ch, m.gen
	m.mx.Unlock()

	msg := model.CodeBroadcast{
		CodeType:  codeType,
		Data:      data,
		From:      m.name,
		Timestamp: m.now().UnixMilli(),
	}
	b, err := model.Encode(msg)
	if err != nil {
		return err
	}
	if err = ch.Send(b); err != nil {
		m.logger.Error().Err(err).Msg("failed to send broadcast")
		m.set(gen, model.StatusError, err)
		return errors.Join(ErrNotConnected, err)
	}
	m.logger.Info().Str("codeType", codeType).Int("size", len(data)).Msg("code broadcast sent")
	return nil
}

// Stop closes the hub connection. It is idempotent.
func (m *Master) Stop() {
	m.mx.Lock()
	m.gen++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	ch := m.ch
	m.ch = nil
	hadRoster := len(m.roster) > 0
	m.roster = nil
	notify := m.setLocked(model.StatusDisconnected, nil)
	m.mx.Unlock()

	if ch != nil {
		_ = ch.Close()
	}
	notify()
	if hadRoster {
		m.emitRoster(nil)
	}
}
