package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/adwski/classcast/backend/model"
	"github.com/adwski/classcast/backend/session"
	"github.com/adwski/classcast/backend/transport"
	wsTransport "github.com/adwski/classcast/backend/transport/websocket"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

const teachUsage = `Commands:
  text <file>     broadcast a source file
  blocks <file>   broadcast a serialized block project
  list            show connected students
  connect         reconnect to the hub
  quit            stop teaching`

var errQuit = errors.New("quit")

func (a *app) teachCmd() *cobra.Command {
	var (
		external bool
		showQR   bool
		name     string
	)
	cmd := &cobra.Command{
		Use:   "teach",
		Short: "Broadcast code to students, hosting the hub unless --external is set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			var (
				wg   = &sync.WaitGroup{}
				errc = make(chan error, 2)
				out  = cmd.OutOrStdout()
			)
			defer func() {
				cancel()
				wg.Wait()
			}()

			if !external {
				svc := a.startHub(ctx, wg, errc)
				if err := waitListening(ctx, a.dialAddr()); err != nil {
					return fmt.Errorf("hub did not start: %w", err)
				}
				a.printJoinInfo(out, svc, showQR)
			}

			master := session.NewMaster(session.MasterConfig{
				Logger: &a.logger,
				Dialer: wsTransport.NewDialer(wsTransport.Config{
					Logger:        &a.logger,
					DialTimeout:   a.cfg.DialTimeout,
					SendQueueSize: a.cfg.SendQueueSize,
				}),
				HubURL: transport.HubURL(localHost(a.cfg.Host), a.cfg.Port),
				Name:   name,
				Handlers: session.MasterHandlers{
					OnStatus: func(status model.Status, err error) {
						printStatus(out, status, err)
					},
					OnRoster: func(clients []model.ClientInfo) {
						_, _ = fmt.Fprintf(out, "%d student(s) connected\n", len(clients))
					},
					OnAck: func(ack model.BroadcastAck) {
						_, _ = fmt.Fprintf(out, "Delivered to %d of %d student(s)\n", ack.SuccessCount, ack.TotalClients)
					},
				},
			})
			master.Start(ctx)
			defer master.Stop()

			_, _ = fmt.Fprintln(out, teachUsage)
			input := lines(cmd.InOrStdin())
			for {
				select {
				case err := <-errc:
					a.logger.Error().Err(err).Msg("unexpected server error, shutting down")
					return err
				case <-ctx.Done():
					a.logger.Warn().Msg("interrupted")
					return nil
				case line, ok := <-input:
					if !ok {
						return nil
					}
					err := teachCommand(ctx, out, master, line)
					if errors.Is(err, errQuit) {
						return nil
					}
					if err != nil {
						_, _ = fmt.Fprintf(out, "Error: %v\n", err)
					}
				}
			}
		},
	}
	cmd.Flags().BoolVar(&external, "external", false, "connect to an already running hub instead of hosting one")
	cmd.Flags().BoolVar(&showQR, "qr", false, "print a qr code of the join address")
	cmd.Flags().StringVar(&name, "teacher", "", "name shown to students as the sender")
	return cmd
}

func (a *app) dialAddr() string {
	return net.JoinHostPort(localHost(a.cfg.Host), strconv.Itoa(a.cfg.Port))
}

// broadcaster is the part of the master session driven by stdin commands.
type broadcaster interface {
	Start(ctx context.Context)
	Broadcast(codeType, data string) error
	Roster() []model.ClientInfo
}

func teachCommand(ctx context.Context, out io.Writer, m broadcaster, line string) error {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "":
		return nil
	case "quit", "exit":
		return errQuit
	case "list":
		roster := m.Roster()
		if len(roster) == 0 {
			_, _ = fmt.Fprintln(out, "No students connected")
			return nil
		}
		_, _ = fmt.Fprintln(out, strings.Join(lo.Map(roster, func(c model.ClientInfo, _ int) string {
			return fmt.Sprintf("  %s (%s)", c.Name, c.ID)
		}), "\n"))
		return nil
	case "connect":
		m.Start(ctx)
		return nil
	case model.CodeTypeText, model.CodeTypeBlocks:
		if arg == "" {
			return fmt.Errorf("usage: %s <file>", cmd)
		}
		data, err := os.ReadFile(arg)
		if err != nil {
			return err
		}
		return m.Broadcast(cmd, string(data))
	default:
		_, _ = fmt.Fprintln(out, teachUsage)
		return nil
	}
}

func printStatus(out io.Writer, status model.Status, err error) {
	if err != nil {
		_, _ = fmt.Fprintf(out, "Status: %s (%v)\n", status, err)
		return
	}
	_, _ = fmt.Fprintf(out, "Status: %s\n", status)
}
