package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/adwski/classcast/backend/model"
	"github.com/adwski/classcast/backend/session"
	"github.com/adwski/classcast/backend/storage/file"
	"github.com/adwski/classcast/backend/storage/memory"
	wsTransport "github.com/adwski/classcast/backend/transport/websocket"
	"github.com/spf13/cobra"
)

type identityStore interface {
	session.IdentityStore
	SetName(name string) error
}

func (a *app) joinCmd() *cobra.Command {
	var (
		autoAccept bool
		outDir     string
	)
	cmd := &cobra.Command{
		Use:   "join <address>",
		Short: "Join a classroom hub as a student",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			host, port, err := parseHubAddress(args[0], a.cfg.Port)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd)
			defer cancel()

			out := cmd.OutOrStdout()
			store := a.identityStore()
			if a.cfg.StudentName != "" {
				if err = store.SetName(a.cfg.StudentName); err != nil {
					return fmt.Errorf("saving name: %w", err)
				}
			}

			incoming := make(chan model.Payload, 1)
			student := session.NewStudent(session.StudentConfig{
				Logger: &a.logger,
				Dialer: wsTransport.NewDialer(wsTransport.Config{
					Logger:        &a.logger,
					DialTimeout:   a.cfg.DialTimeout,
					SendQueueSize: a.cfg.SendQueueSize,
				}),
				Identities:     store,
				Loader:         &fileLoader{dir: outDir},
				ReconnectDelay: a.cfg.ReconnectDelay,
				Handlers: session.StudentHandlers{
					OnStatus: func(status model.Status, err error) {
						printStatus(out, status, err)
					},
					OnIncoming: func(p model.Payload) {
						// only the latest offer matters
						select {
						case <-incoming:
						default:
						}
						incoming <- p
					},
				},
			})
			if err = student.Start(ctx, host, port); err != nil {
				return err
			}
			defer student.Stop()

			input := lines(cmd.InOrStdin())
			for {
				select {
				case <-ctx.Done():
					a.logger.Warn().Msg("interrupted")
					return nil
				case p := <-incoming:
					printOffer(out, p)
					if autoAccept {
						reportAccept(out, student.AcceptIncoming())
						continue
					}
					_, _ = fmt.Fprint(out, "Accept? [y/n] ")
				case line, ok := <-input:
					if !ok {
						return nil
					}
					if quit := studentCommand(out, student, line); quit {
						return nil
					}
				}
			}
		},
	}
	cmd.Flags().BoolVar(&autoAccept, "auto-accept", false, "load incoming code without asking")
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "directory accepted code is written to")
	return cmd
}

// identityStore prefers the persistent file store and falls back to an
// in-memory identity when no config dir is available.
func (a *app) identityStore() identityStore {
	path := a.cfg.IdentityFile
	if path == "" {
		var err error
		if path, err = file.DefaultPath(); err != nil {
			a.logger.Warn().Err(err).Msg("identity will not survive restarts")
			return memory.NewMemStore()
		}
	}
	return file.NewStore(path)
}

// decider is the part of the student session driven by stdin answers.
type decider interface {
	AcceptIncoming() error
	RejectIncoming() bool
}

func studentCommand(out io.Writer, s decider, line string) bool {
	switch strings.ToLower(line) {
	case "":
	case "y", "yes":
		reportAccept(out, s.AcceptIncoming())
	case "n", "no":
		if s.RejectIncoming() {
			_, _ = fmt.Fprintln(out, "Rejected")
		} else {
			_, _ = fmt.Fprintln(out, "Nothing to reject")
		}
	case "quit", "exit":
		return true
	default:
		_, _ = fmt.Fprintln(out, "Answer y or n, or quit")
	}
	return false
}

func printOffer(out io.Writer, p model.Payload) {
	from := p.From
	if from == "" {
		from = "the teacher"
	}
	_, _ = fmt.Fprintf(out, "Incoming %s code from %s (%d bytes)\n", p.CodeType, from, len(p.Data))
}

func reportAccept(out io.Writer, err error) {
	if err != nil {
		_, _ = fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	_, _ = fmt.Fprintln(out, "Loaded")
}
