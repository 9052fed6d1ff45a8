package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/adwski/classcast/backend/config"
	"github.com/adwski/classcast/backend/hub"
	httpServer "github.com/adwski/classcast/backend/server/http"
	websocketServer "github.com/adwski/classcast/backend/server/websocket"
	"github.com/adwski/classcast/backend/service"
	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
)

const (
	hubReadyAttempts = 20
	hubReadyDelay    = 100 * time.Millisecond
)

type app struct {
	cfgFile string
	cfg     *config.Config
	logger  zerolog.Logger
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{logger: zerolog.Nop()}
	root := &cobra.Command{
		Use:          "classcast",
		Short:        "Relay code from a teacher to the students of a classroom",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = newLogger(cfg, os.Stderr)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (toml, yaml or json)")
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		a.hubCmd(),
		a.teachCmd(),
		a.joinCmd(),
	)
	return root
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}

// startHub runs the hub loop, its websocket server and, when configured, the
// status api. Every started component calls wg.Done when ctx is canceled.
func (a *app) startHub(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) *service.Service {
	h := hub.NewHub(hub.Config{Logger: &a.logger})
	svc := service.NewService(service.Config{
		Hub:    h,
		Port:   a.cfg.Port,
		Logger: &a.logger,
	})
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger:        &a.logger,
		Relay:         h,
		ListenAddr:    a.cfg.ListenAddr(),
		SendQueueSize: a.cfg.SendQueueSize,
	})

	wg.Add(2)
	go func() {
		defer wg.Done()
		h.Run(ctx)
	}()
	go wsSrv.Run(ctx, wg, errc)

	if a.cfg.APIAddr != "" {
		apiSrv := httpServer.NewServer(httpServer.Config{
			Logger:        &a.logger,
			StatusService: svc,
			ListenAddr:    a.cfg.APIAddr,
		})
		wg.Add(1)
		go apiSrv.Run(ctx, wg, errc)
	}
	return svc
}

// waitListening blocks until addr accepts tcp connections.
func waitListening(ctx context.Context, addr string) error {
	return retry.Do(
		func() error {
			conn, err := net.DialTimeout("tcp", addr, hubReadyDelay)
			if err != nil {
				return err
			}
			return conn.Close()
		},
		retry.Context(ctx),
		retry.Attempts(hubReadyAttempts),
		retry.Delay(hubReadyDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
}

// printJoinInfo lists the addresses students can join with.
func (a *app) printJoinInfo(out io.Writer, svc *service.Service, showQR bool) {
	addrs, urls, err := svc.JoinURLs()
	if err != nil {
		a.logger.Warn().Err(err).Msg("cannot list local addresses")
		return
	}
	if len(urls) == 0 {
		_, _ = fmt.Fprintf(out, "No network addresses found, students on this machine can join localhost:%d\n", a.cfg.Port)
		return
	}

	_, _ = fmt.Fprintln(out, "Students can join at:")
	for i, addr := range addrs {
		_, _ = fmt.Fprintf(out, "  %-12s %s\n", addr.Interface, urls[i])
	}
	if !showQR {
		return
	}
	qr, err := qrcode.New(urls[0], qrcode.Medium)
	if err != nil {
		a.logger.Warn().Err(err).Msg("cannot render qr code")
		return
	}
	_, _ = fmt.Fprint(out, qr.ToSmallString(false))
}

// localHost maps a wildcard listen host to one that can be dialed.
func localHost(host string) string {
	switch host {
	case "", "0.0.0.0", "::", "[::]":
		return "localhost"
	}
	return host
}

// parseHubAddress accepts host, host:port and ws://host:port forms.
func parseHubAddress(s string, defaultPort int) (string, int, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "ws://")
	s = strings.TrimSuffix(s, "/")
	if s == "" {
		return "", 0, errors.New("empty hub address")
	}

	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		// no port given
		return strings.Trim(s, "[]"), defaultPort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	return host, port, nil
}

// lines forwards stdin lines until EOF.
func lines(r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			out <- strings.TrimSpace(sc.Text())
		}
	}()
	return out
}
