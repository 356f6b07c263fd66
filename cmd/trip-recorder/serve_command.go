package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"go-trip-recorder/recorder"
	"go-trip-recorder/web"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var listen string
	var readOnly bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored trips and recording control over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := ctx.loggerFor(cmd)
			st, err := ctx.store(cmd)
			if err != nil {
				return err
			}

			var rec *recorder.Recorder
			if !readOnly {
				src, err := buildSource(cfg, logger, nil)
				if err != nil {
					return err
				}
				if rec, err = newRecorder(cfg, src, st, logger); err != nil {
					return err
				}
				defer rec.Close(context.Background())
			}

			addr := listen
			if addr == "" {
				addr = cfg.Web.Listen
			}
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := web.NewServer(rec, st, cfg.Recording.EarthRadiusMeters, logger)
			defer srv.Close()
			return srv.ListenAndServe(runCtx, addr)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (defaults to web.listen)")
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "Serve stored trips without a GPS source")
	return cmd
}
