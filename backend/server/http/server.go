package http

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/adwski/classcast/backend/model"
	"github.com/adwski/classcast/backend/service"
	"github.com/rs/zerolog"
)

const (
	defaultShutdownDeadline = 10 * time.Second
	defaultRequestTimeout   = 3 * time.Second
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

type StatusService interface {
	Status(ctx context.Context) (*service.Status, error)
	Roster(ctx context.Context) ([]model.ClientInfo, error)
}

type GenericResponse struct {
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type Server struct {
	logger zerolog.Logger
	svc    StatusService
	*http.Server
}

type Config struct {
	Logger        *zerolog.Logger
	StatusService StatusService
	ListenAddr    string
}

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger: cfg.Logger.With().Str("component", "api-server").Logger(),
		svc:    cfg.StatusService,
	}

	r := http.NewServeMux()
	r.HandleFunc("GET /api/status", srv.status)
	r.HandleFunc("GET /api/roster", srv.roster)
	r.HandleFunc("OPTIONS /", corsHandler)

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}
	return srv
}

func corsHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")
	w.Header().Set("Access-Control-Max-Age", "86400")
	w.WriteHeader(http.StatusNoContent)
}

func (srv *Server) status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), defaultRequestTimeout)
	defer cancel()

	st, err := srv.svc.Status(ctx)
	srv.respond(w, st, err)
}

func (srv *Server) roster(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), defaultRequestTimeout)
	defer cancel()

	clients, err := srv.svc.Roster(ctx)
	srv.respond(w, clients, err)
}

func (srv *Server) respond(w http.ResponseWriter, data any, err error) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if err != nil {
		srv.logger.Error().Err(err).Msg("request failed")
		b, errJ := json.Marshal(&GenericResponse{Error: err.Error()})
		if errJ != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		srv.writeBytes(w, http.StatusServiceUnavailable, b)
		return
	}

	b, err := json.Marshal(&GenericResponse{Message: "OK", Data: data})
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	srv.writeBytes(w, http.StatusOK, b)
}

func (srv *Server) writeBytes(w http.ResponseWriter, code int, b []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(code)
	if _, err := w.Write(b); err != nil {
		srv.logger.Error().Err(err).Msg("failed to write response")
	}
}

// Run binds the listener up front so a busy port is reported through errc
// before the server is considered started.
func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer wg.Done()

	l, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		errc <- errors.Join(ErrUnexpected, err)
		return
	}
	logger := srv.logger.With().Str("addr", l.Addr().String()).Logger()
	logger.Info().Msg("status api listening")

	served := make(chan error, 1)
	go func() {
		served <- srv.Serve(l)
	}()

	select {
	case err = <-served:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err = srv.Shutdown(shCtx); err != nil {
			logger.Error().Err(err).Msg("status api shutdown failed")
		}
	}
	logger.Debug().Msg("status api stopped")
}
