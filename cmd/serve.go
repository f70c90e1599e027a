package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/KaramelBytes/sheetloom-cli/internal/logging"
	"github.com/KaramelBytes/sheetloom-cli/internal/server"
	"github.com/spf13/cobra"
)

var (
	serveIngest   ingestFlags
	servePipeline pipelineOptions
	serveAddr     string
	serveJSONLogs bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve sessions over a JSON HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opt, err := serveIngest.options()
		if err != nil {
			return err
		}
		c := currentConfig()
		log := logger
		if serveJSONLogs {
			log = logging.JSON(cmd.ErrOrStderr(), debug)
		}
		p, err := newPipeline(c, servePipeline, opt, log)
		if err != nil {
			return err
		}
		defer p.Close()

		addr := c.ServeAddr
		if cmd.Flags().Changed("addr") || addr == "" {
			addr = serveAddr
		}
		srv := server.New(server.Config{
			NewSession:  p.newSession,
			Ingest:      opt,
			Origins:     c.CORSOrigins,
			PreviewRows: c.PreviewRows,
			Logger:      log,
		})
		httpServer := &http.Server{
			Addr:         addr,
			Handler:      srv.Handler(),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		}

		ctx, stop := signal.NotifyContext(runContext(cmd), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		go func() {
			<-ctx.Done()
			log.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("shutdown")
			}
		}()

		log.Info().Str("addr", addr).Msg("sheetloom API listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveIngest.bind(serveCmd)
	servePipeline.bind(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address (default from config)")
	serveCmd.Flags().BoolVar(&serveJSONLogs, "json-logs", false, "emit JSON request logs instead of console output")
}
