package main

import (
	"sync"

	"github.com/spf13/cobra"
)

func (a *app) hubCmd() *cobra.Command {
	var showQR bool
	cmd := &cobra.Command{
		Use:   "hub",
		Short: "Run the relay hub",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			var (
				wg   = &sync.WaitGroup{}
				errc = make(chan error, 2)
			)
			svc := a.startHub(ctx, wg, errc)
			a.printJoinInfo(cmd.OutOrStdout(), svc, showQR)

			var err error
			select {
			case err = <-errc:
				a.logger.Error().Err(err).Msg("unexpected server error, shutting down")
			case <-ctx.Done():
				a.logger.Warn().Msg("interrupted")
			}
			cancel()
			wg.Wait()
			return err
		},
	}
	cmd.Flags().BoolVar(&showQR, "qr", false, "print a qr code of the join address")
	return cmd
}
