package service

import (
	"context"
	"errors"
	"testing"

	"github.com/adwski/classcast/backend/hub"
	"github.com/adwski/classcast/backend/model"
	"github.com/adwski/classcast/backend/netif"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHub struct {
	snap hub.Snapshot
	err  error
}

func (s stubHub) Snapshot(context.Context) (hub.Snapshot, error) { return s.snap, s.err }

func newTestService(h Hub, addrs AddressLister) *Service {
	logger := zerolog.Nop()
	return NewService(Config{Hub: h, Addresses: addrs, Port: 8765, Logger: &logger})
}

func TestStatus(t *testing.T) {
	svc := newTestService(stubHub{snap: hub.Snapshot{
		MasterConnected: true,
		Clients:         []model.ClientInfo{{ID: "s1", Name: "Alice"}, {ID: "s2", Name: "Bob"}},
	}}, func() ([]netif.Address, error) {
		return []netif.Address{{Interface: "wlan0", IP: "192.168.0.7"}}, nil
	})

	st, err := svc.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Status{
		Port:            8765,
		MasterConnected: true,
		Students:        2,
		Addresses:       []netif.Address{{Interface: "wlan0", IP: "192.168.0.7"}},
		JoinURLs:        []string{"ws://192.168.0.7:8765"},
	}, st)
}

func TestStatusWithoutAddresses(t *testing.T) {
	svc := newTestService(stubHub{}, func() ([]netif.Address, error) {
		return nil, errors.New("no interfaces")
	})

	st, err := svc.Status(context.Background())
	require.NoError(t, err)
	assert.Empty(t, st.JoinURLs)

	_, _, err = svc.JoinURLs()
	assert.ErrorIs(t, err, ErrAddresses)
}

func TestRosterHubError(t *testing.T) {
	svc := newTestService(stubHub{err: hub.ErrStopped}, nil)

	_, err := svc.Roster(context.Background())
	assert.ErrorIs(t, err, ErrSnapshot)
	assert.ErrorIs(t, err, hub.ErrStopped)
}
