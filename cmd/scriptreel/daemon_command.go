package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"scriptreel/internal/config"
	"scriptreel/internal/daemon"
	"scriptreel/internal/logging"
	"scriptreel/internal/media"
	"scriptreel/internal/pipeline"
	"scriptreel/internal/progress"
	"scriptreel/internal/queue"
	"scriptreel/internal/services/elevenlabs"
	"scriptreel/internal/services/gemini"
	"scriptreel/internal/services/r2"
	"scriptreel/internal/services/videogen"
	"scriptreel/internal/workflow"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	var keepStaging bool

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the generation daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return runDaemon(cmd, cfg, keepStaging)
		},
	}
	cmd.Flags().BoolVar(&keepStaging, "keep-staging", false, "Keep per-job staging directories after runs finish")
	return cmd
}

func runDaemon(cmd *cobra.Command, cfg *config.Config, keepStaging bool) error {
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return err
	}
	if missing := cfg.MissingCredentials(); len(missing) > 0 {
		logger.Warn("running without credentials for some stages",
			logging.String("missing", strings.Join(missing, ", ")))
	}

	store, err := queue.Open(cfg)
	if err != nil {
		return err
	}
	bus := progress.NewBus(logger)

	narrator := elevenlabs.NewClient(cfg.ElevenLabs)
	analyst := gemini.NewClient(cfg.Gemini)
	clients := pipeline.Clients{
		Analyzer:  analyst,
		Refiner:   analyst,
		Renderer:  videogen.NewClient(cfg.VideoGen),
		Composer:  media.NewComposer(cfg.Paths.StagingDir),
		Publisher: r2.NewPublisher(cfg.Storage),
	}
	if narrator.Configured() {
		clients.Narrator = narrator
	}

	orchestrator, err := workflow.NewOrchestrator(cfg, store, bus, clients, logger,
		workflow.WithKeepStaging(keepStaging))
	if err != nil {
		store.Close()
		return err
	}
	dispatcher := workflow.NewDispatcher(store, bus, orchestrator, logger)

	d, err := daemon.New(cfg, store, bus, dispatcher, narrator, logger)
	if err != nil {
		store.Close()
		return err
	}

	runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.Start(runCtx); err != nil {
		store.Close()
		return err
	}
	if addr := d.Addr(); addr != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "scriptreel daemon listening on %s\n", addr)
	}

	<-runCtx.Done()
	logger.Info("shutdown signal received")
	return d.Close()
}
