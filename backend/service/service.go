package service

import (
	"context"
	"errors"

	"github.com/adwski/classcast/backend/hub"
	"github.com/adwski/classcast/backend/model"
	"github.com/adwski/classcast/backend/netif"
	"github.com/adwski/classcast/backend/transport"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

var (
	ErrSnapshot  = errors.New("unable to read hub state")
	ErrAddresses = errors.New("unable to list local addresses")
)

type (
	Hub interface {
		Snapshot(ctx context.Context) (hub.Snapshot, error)
	}

	AddressLister func() ([]netif.Address, error)

	Service struct {
		hub    Hub
		addrs  AddressLister
		port   int
		logger zerolog.Logger
	}

	Config struct {
		Hub       Hub
		Addresses AddressLister
		Port      int
		Logger    *zerolog.Logger
	}

	Status struct {
		Port            int             `json:"port"`
		MasterConnected bool            `json:"master_connected"`
		Students        int             `json:"students"`
		Addresses       []netif.Address `json:"addresses"`
		JoinURLs        []string        `json:"join_urls"`
	}
)

func NewService(cfg Config) *Service {
	addrs := cfg.Addresses
	if addrs == nil {
		addrs = netif.LocalAddresses
	}
	return &Service{
		hub:    cfg.Hub,
		addrs:  addrs,
		port:   cfg.Port,
		logger: cfg.Logger.With().Str("component", "status").Logger(),
	}
}

// JoinURLs returns the hub address for every local interface.
func (svc *Service) JoinURLs() ([]netif.Address, []string, error) {
	addrs, err := svc.addrs()
	if err != nil {
		return nil, nil, errors.Join(ErrAddresses, err)
	}
	urls := lo.Map(addrs, func(a netif.Address, _ int) string {
		return transport.HubURL(a.IP, svc.port)
	})
	return addrs, urls, nil
}

func (svc *Service) Status(ctx context.Context) (*Status, error) {
	snap, err := svc.hub.Snapshot(ctx)
	if err != nil {
		return nil, errors.Join(ErrSnapshot, err)
	}
	addrs, urls, err := svc.JoinURLs()
	if err != nil {
		// still useful without addresses
		svc.logger.Warn().Err(err).Msg("cannot list addresses")
	}
	return &Status{
		Port:            svc.port,
		MasterConnected: snap.MasterConnected,
		Students:        len(snap.Clients),
		Addresses:       addrs,
		JoinURLs:        urls,
	}, nil
}

func (svc *Service) Roster(ctx context.Context) ([]model.ClientInfo, error) {
	snap, err := svc.hub.Snapshot(ctx)
	if err != nil {
		return nil, errors.Join(ErrSnapshot, err)
	}
	return snap.Clients, nil
}
