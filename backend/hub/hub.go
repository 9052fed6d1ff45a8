package hub

import (
	"cmp"
	"context"
	"errors"
	"slices"

	"github.com/adwski/classcast/backend/model"
	"github.com/davecgh/go-spew/spew"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const (
	defaultEventQueueSize = 256
)

var (
	ErrRoleViolation = errors.New("code broadcast from non-master channel")
	ErrStopped       = errors.New("hub is stopped")
)

type (
	Config struct {
		Logger         *zerolog.Logger
		EventQueueSize int
	}

	// Hub relays broadcasts from the single master to all registered students.
	// All state is owned by the goroutine running Run.
	Hub struct {
		logger  zerolog.Logger
		events  chan event
		stopped chan struct{}

		master *Peer
		roster map[string]*entry
		seq    uint64
	}

	// Snapshot is a point-in-time view of hub state.
	Snapshot struct {
		MasterConnected bool               `json:"master_connected"`
		Clients         []model.ClientInfo `json:"clients"`
	}

	entry struct {
		peer *Peer
		name string
		seq  uint64
	}

	eventKind int

	event struct {
		kind  eventKind
		peer  *Peer
		raw   []byte
		err   error
		reply chan<- Snapshot
	}
)

const (
	eventMessage eventKind = iota
	eventClose
	eventSnapshot
)

func NewHub(cfg Config) *Hub {
	size := cfg.EventQueueSize
	if size <= 0 {
		size = defaultEventQueueSize
	}
	return &Hub{
		logger:  cfg.Logger.With().Str("component", "hub").Logger(),
		events:  make(chan event, size),
		stopped: make(chan struct{}),
		roster:  make(map[string]*entry),
	}
}

// Run processes hub events one at a time until ctx is canceled.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.stopped)
		h.closeAll()
		h.logger.Debug().Msg("hub stopped")
	}()
	h.logger.Debug().Msg("hub started")

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-h.events:
			h.handle(ev)
		}
	}
}

// Deliver queues a raw message received from p.
func (h *Hub) Deliver(ctx context.Context, p *Peer, raw []byte) error {
	return h.enqueue(ctx, event{kind: eventMessage, peer: p, raw: raw})
}

// Disconnect queues the termination of p's channel.
func (h *Hub) Disconnect(ctx context.Context, p *Peer, reason error) error {
	return h.enqueue(ctx, event{kind: eventClose, peer: p, err: reason})
}

func (h *Hub) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := h.enqueue(ctx, event{kind: eventSnapshot, reply: reply}); err != nil {
		return Snapshot{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-h.stopped:
		return Snapshot{}, ErrStopped
	}
}

func (h *Hub) enqueue(ctx context.Context, ev event) error {
	select {
	case h.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.stopped:
		return ErrStopped
	}
}

func (h *Hub) handle(ev event) {
	switch ev.kind {
	case eventMessage:
		h.handleMessage(ev.peer, ev.raw)
	case eventClose:
		h.handleClose(ev.peer, ev.err)
	case eventSnapshot:
		ev.reply <- h.snapshot()
	}
}

func (h *Hub) peerLogger(p *Peer) zerolog.Logger {
	return h.logger.With().
		Uint64("peer", p.id).
		Str("remote", p.remote).
		Str("role", p.role.String()).
		Str("clientID", p.clientID).
		Logger()
}

func (h *Hub) handleMessage(p *Peer, raw []byte) {
	logger := h.peerLogger(p)

	msg, err := model.Decode(raw)
	if err != nil {
		logger.Warn().Err(err).Msg("dropping malformed message")
		logger.Trace().Func(func(e *zerolog.Event) {
			e.Str("dump", spew.Sdump(raw))
		}).Msg("malformed message content")
		return
	}

	switch m := msg.(type) {
	case model.ClientHello:
		h.register(p, m)
	case model.CodeBroadcast:
		h.broadcast(p, raw, m, &logger)
	case model.Ping:
		h.send(p, model.Pong{})
	case model.Unrecognized:
		logger.Info().Str("type", string(m.Type)).Msg("unknown message type")
		logger.Trace().Func(func(e *zerolog.Event) {
			e.Str("dump", spew.Sdump(m))
		}).Msg("unknown message content")
	default:
		logger.Info().Str("type", string(msg.MessageType())).Msg("ignoring message not meant for hub")
	}
}

func (h *Hub) register(p *Peer, hello model.ClientHello) {
	if hello.WantsMaster() {
		if p.role == roleMaster && h.master == p {
			h.logger.Debug().Uint64("peer", p.id).Msg("master registered again")
			h.sendClientList(p)
			return
		}
		h.release(p)
		if prev := h.master; prev != nil {
			// The displaced master keeps its channel but loses the role.
			prev.role = roleUnregistered
			h.logger.Warn().
				Uint64("peer", p.id).
				Uint64("previous", prev.id).
				Msg("master replaced")
		}
		h.master = p
		p.role = roleMaster
		p.clientID = model.MasterID
		p.name = ""
		h.logger.Info().Uint64("peer", p.id).Str("remote", p.remote).Msg("master registered")
		h.sendClientList(p)
		return
	}

	name := hello.ClientName
	if name == "" {
		name = model.DefaultName(hello.ClientID)
	}
	if p.role != roleStudent || p.clientID != hello.ClientID {
		h.release(p)
	}
	if prev, ok := h.roster[hello.ClientID]; ok && prev.peer != p {
		prev.peer.role = roleUnregistered
		h.logger.Debug().
			Str("clientID", hello.ClientID).
			Uint64("previous", prev.peer.id).
			Msg("student entry replaced by new channel")
	}

	h.seq++
	h.roster[hello.ClientID] = &entry{peer: p, name: name, seq: h.seq}
	p.role = roleStudent
	p.clientID = hello.ClientID
	p.name = name

	h.logger.Info().
		Str("clientID", hello.ClientID).
		Str("name", name).
		Int("students", len(h.roster)).
		Msg("student registered")

	if h.master != nil {
		h.send(h.master, model.ClientHello{ClientID: hello.ClientID, ClientName: name})
	}
}

func (h *Hub) sendClientList(p *Peer) {
	if len(h.roster) == 0 {
		return
	}
	h.send(p, model.ClientList{Clients: h.clientInfos()})
}

func (h *Hub) broadcast(p *Peer, raw []byte, m model.CodeBroadcast, logger *zerolog.Logger) {
	if p != h.master {
		logger.Warn().Err(ErrRoleViolation).Str("codeType", m.CodeType).Msg("broadcast dropped")
		return
	}

	var (
		total   = len(h.roster)
		success int
	)
	for _, e := range h.entries() {
		if err := e.peer.Send(raw); err != nil {
			logger.Debug().Err(err).Str("dst", e.peer.clientID).Msg("broadcast not delivered")
			continue
		}
		success++
	}

	logger.Info().
		Str("codeType", m.CodeType).
		Int("successCount", success).
		Int("totalClients", total).
		Msg("code broadcast forwarded")

	h.send(p, model.BroadcastAck{SuccessCount: success, TotalClients: total})
}

func (h *Hub) handleClose(p *Peer, reason error) {
	logger := h.peerLogger(p)
	p.Close()
	if reason != nil {
		logger.Debug().Err(reason).Msg("channel terminated")
	}
	h.release(p)
	p.role = roleUnregistered
	logger.Info().Msg("peer disconnected")
}

// release drops whatever role p holds and notifies the other side.
func (h *Hub) release(p *Peer) {
	switch p.role {
	case roleMaster:
		if h.master != p {
			return
		}
		h.master = nil
		h.logger.Warn().Msg("master disconnected, broadcasting disabled")

		notice := model.MustEncode(model.MasterDisconnected{})
		for _, e := range h.entries() {
			if err := e.peer.Send(notice); err != nil {
				h.logger.Debug().Err(err).Str("dst", e.peer.clientID).Msg("master_disconnected not delivered")
			}
		}
	case roleStudent:
		e, ok := h.roster[p.clientID]
		if !ok || e.peer != p {
			return
		}
		delete(h.roster, p.clientID)
		h.logger.Info().
			Str("clientID", p.clientID).
			Int("students", len(h.roster)).
			Msg("student left")

		if h.master != nil {
			h.send(h.master, model.ClientGoodbye{ClientID: p.clientID, ClientName: e.name})
		}
	}
}

func (h *Hub) send(p *Peer, msg model.Message) {
	b, err := model.Encode(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", string(msg.MessageType())).Msg("failed to encode message")
		return
	}
	if err = p.Send(b); err != nil {
		h.logger.Debug().
			Err(err).
			Uint64("peer", p.id).
			Str("type", string(msg.MessageType())).
			Msg("message not delivered")
	}
}

// entries returns roster entries in registration order.
func (h *Hub) entries() []*entry {
	entries := lo.Values(h.roster)
	slices.SortFunc(entries, func(a, b *entry) int {
		return cmp.Compare(a.seq, b.seq)
	})
	return entries
}

func (h *Hub) clientInfos() []model.ClientInfo {
	return lo.Map(h.entries(), func(e *entry, _ int) model.ClientInfo {
		return model.ClientInfo{ID: e.peer.clientID, Name: e.name}
	})
}

func (h *Hub) snapshot() Snapshot {
	return Snapshot{
		MasterConnected: h.master != nil,
		Clients:         h.clientInfos(),
	}
}

func (h *Hub) closeAll() {
	if h.master != nil {
		h.master.Close()
	}
	for _, e := range h.roster {
		e.peer.Close()
	}
}
