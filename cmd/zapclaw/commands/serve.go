package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jholhewres/zapclaw/pkg/zapclaw/ai"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/channels/whatsapp"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/config"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/history"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/media"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/router"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/scheduler"
	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"
)

// newServeCmd creates the `zapclaw serve` command that starts the bot.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to WhatsApp and start handling messages",
		Long: `Start zapclaw: link or resume the WhatsApp session, record today's
messages of the allow-listed groups, store voice notes and answer
!ler and !resumo.

Examples:
  zapclaw serve
  zapclaw serve --config ./config.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	// ── Load config ──
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := loggerFor(cmd, cfg)

	// ── Resolve secrets ──
	config.AuditSecrets(cfg, logger)
	config.ResolveAPIKey(cfg, logger)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration (run 'zapclaw setup'): %w", err)
	}
	loc, _ := cfg.Location()

	// ── Build components ──
	blobs := media.NewFileSystemStore(media.StoreConfig{
		Dir:         cfg.Media.Dir,
		MaxFileSize: int64(cfg.Media.MaxFileSizeMB) * 1024 * 1024,
	}, logger)
	if err := blobs.EnsureDir(); err != nil {
		return err
	}

	backend := ai.New(ai.Config{
		APIKey:             cfg.OpenAI.APIKey,
		BaseURL:            cfg.OpenAI.BaseURL,
		TranscriptionModel: cfg.OpenAI.TranscriptionModel,
		Language:           cfg.OpenAI.Language,
	}, logger)

	wa := whatsapp.New(cfg.WhatsApp, logger)
	wa.OnStateChange(stateHint(logger))

	rt := router.New(router.Config{
		Groups:      cfg.Groups,
		Operator:    cfg.Operator,
		Prompt:      cfg.Prompt,
		Model:       cfg.OpenAI.Model,
		CallTimeout: cfg.OpenAI.Timeout,
		Location:    loc,
	}, history.NewStore(), blobs, wa, backend, logger)

	if len(cfg.Groups) == 0 {
		logger.Warn("no groups allow-listed, history and !resumo are disabled")
	}
	if cfg.Operator == "" {
		logger.Warn("no operator configured, !ler is disabled")
	}

	// ── Connect ──
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	qrEvents, unsubscribe := wa.SubscribeQR()
	defer unsubscribe()
	go printQRCodes(ctx, qrEvents)

	if err := wa.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to WhatsApp: %w", err)
	}

	// ── Scheduled jobs ──
	sched := scheduler.New(loc, cfg.OpenAI.Timeout+time.Minute, logger)
	if err := registerJobs(sched, cfg, rt, blobs, logger); err != nil {
		return err
	}
	sched.Start()
	for _, e := range sched.Entries() {
		logger.Info("job scheduled", "job", e.Name, "schedule", e.Schedule, "next", e.Next)
	}

	routerDone := make(chan struct{})
	go func() {
		defer close(routerDone)
		rt.Run(ctx, wa.Receive())
	}()

	logger.Info("zapclaw running. Press Ctrl+C to stop.",
		"name", cfg.Name,
		"groups", len(cfg.Groups),
		"media_dir", blobs.Dir(),
		"model", cfg.OpenAI.Model)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")

	// Graceful shutdown with timeout.
	done := make(chan struct{})
	go func() {
		sched.Stop()
		cancel()
		_ = wa.Disconnect()
		<-routerDone
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}
	return nil
}

// printQRCodes renders pairing codes in the terminal until linking ends.
func printQRCodes(ctx context.Context, events <-chan whatsapp.QREvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			switch evt.Type {
			case "code":
				fmt.Println()
				fmt.Println(evt.Message)
				qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, os.Stdout)
			case "success":
				fmt.Println("✓", evt.Message)
			default:
				if evt.Message != "" {
					slog.Warn("whatsapp pairing", "event", evt.Type, "message", evt.Message)
				}
			}
		}
	}
}

// stateHint logs what the operator has to do when the session cannot
// recover on its own.
func stateHint(logger *slog.Logger) func(whatsapp.StateChange) {
	return func(c whatsapp.StateChange) {
		switch c.To {
		case whatsapp.StateLoggedOut:
			logger.Error("WhatsApp session was unlinked, scan the new QR code to link it again")
		case whatsapp.StateBanned:
			logger.Error("WhatsApp account is temporarily banned, the bot stays offline until the ban expires")
		case whatsapp.StateDisconnected:
			if c.Reason == "reconnect_exhausted" || c.Reason == "stream_replaced" {
				logger.Error("WhatsApp connection lost, restart zapclaw", "reason", c.Reason)
			}
		}
	}
}
