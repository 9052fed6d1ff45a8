package http

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/adwski/classcast/backend/model"
	"github.com/adwski/classcast/backend/service"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubService struct {
	status *service.Status
	roster []model.ClientInfo
	err    error
}

func (s stubService) Status(context.Context) (*service.Status, error) { return s.status, s.err }

func (s stubService) Roster(context.Context) ([]model.ClientInfo, error) { return s.roster, s.err }

func newTestServer(svc StatusService) *Server {
	logger := zerolog.Nop()
	return NewServer(Config{Logger: &logger, StatusService: svc, ListenAddr: ":0"})
}

func TestRosterEndpoint(t *testing.T) {
	srv := newTestServer(stubService{roster: []model.ClientInfo{{ID: "s1", Name: "Alice"}}})

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/roster", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"message":"OK","data":[{"id":"s1","name":"Alice"}]}`, rec.Body.String())
}

func TestStatusEndpoint(t *testing.T) {
	srv := newTestServer(stubService{status: &service.Status{Port: 8765, MasterConnected: true, Students: 1}})

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data service.Status `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 8765, resp.Data.Port)
	assert.True(t, resp.Data.MasterConnected)
	assert.Equal(t, 1, resp.Data.Students)
}

func TestEndpointError(t *testing.T) {
	srv := newTestServer(stubService{err: errors.New("hub is stopped")})

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"error":"hub is stopped"}`, rec.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(stubService{})

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/status", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRunReportsBusyPort(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = busy.Close() }()

	logger := zerolog.Nop()
	srv := NewServer(Config{Logger: &logger, StatusService: stubService{}, ListenAddr: busy.Addr().String()})

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 1)
	)
	wg.Add(1)
	go srv.Run(context.Background(), wg, errc)
	wg.Wait()

	select {
	case err = <-errc:
		assert.ErrorIs(t, err, ErrUnexpected)
	default:
		t.Fatal("expected a listen error")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	logger := zerolog.Nop()
	srv := NewServer(Config{Logger: &logger, StatusService: stubService{}, ListenAddr: "127.0.0.1:0"})

	ctx, cancel := context.WithCancel(context.Background())
	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 1)
		done = make(chan struct{})
	)
	wg.Add(1)
	go srv.Run(ctx, wg, errc)
	go func() {
		wg.Wait()
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.Empty(t, errc)
}
