package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"TutorChat/internal/backend"
	"TutorChat/internal/chatbot"
	"TutorChat/internal/config"
	"TutorChat/internal/session"
	"TutorChat/internal/telemetry"
	"TutorChat/internal/tui"
	"TutorChat/internal/tutor"
)

func runTutor(ctx context.Context, cfg *config.Config) error {
	logger, closeLog, err := telemetry.InitLogger(cfg.LogDir, cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer closeLog()

	tracer, meter := telemetry.Noop()
	if cfg.Telemetry {
		t, m, shutdown, err := telemetry.InitTelemetry(ctx, cfg.LogDir)
		if err != nil {
			logger.Warn("telemetry disabled", "error", err)
		} else {
			tracer, meter = t, m
			defer shutdown()
		}
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		logger.Error("failed to open session store", "error", err)
		return err
	}
	defer closeStore()

	api, err := backend.NewClient(cfg.BackendURL, &http.Client{Timeout: cfg.RequestTimeout}, logger, tracer, meter)
	if err != nil {
		return fmt.Errorf("failed to create tutor client: %w", err)
	}

	boot := tutor.NewBootstrapper(api, store, logger)
	problems := tutor.NewProblemSubmitter(api, store, logger)
	orch := tutor.NewOrchestrator(api, store, logger, tutor.WithTracer(tracer), tutor.WithMeter(meter))

	logger.Info("starting tutorchat",
		"version", version,
		"backend_url", cfg.BackendURL,
		"plain", cfg.Plain,
		"ephemeral", cfg.Ephemeral,
	)

	tick := cfg.TypingTick
	if !cfg.Typing {
		tick = 0
	}

	if cfg.Plain {
		bot := chatbot.NewChatBot(store, boot, problems, orch, logger, chatbot.Options{
			In:         os.Stdin,
			Out:        os.Stdout,
			Tick:       tick,
			NewSession: cfg.NewSession,
			Problem:    cfg.Problem,
		})
		return runPlain(ctx, bot)
	}

	return tui.Run(ctx, tui.Deps{
		Store:    store,
		Boot:     boot,
		Problems: problems,
		Orch:     orch,
		Logger:   logger,
	}, tui.Options{
		NewSession: cfg.NewSession,
		Problem:    cfg.Problem,
		Typing:     cfg.Typing,
		Tick:       tick,
	})
}

// runPlain runs the line-mode front end until it finishes or ctx ends. A
// pending read of stdin cannot be interrupted, so an interrupt returns
// without waiting for it.
func runPlain(ctx context.Context, bot *chatbot.ChatBot) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- bot.Run(ctx)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		fmt.Println()
		fmt.Println("Interrupted. Your session is kept for next time.")
		return nil
	}
}

func openStore(cfg *config.Config) (session.Store, func(), error) {
	if cfg.Ephemeral {
		return session.NewMemoryStore(), func() {}, nil
	}

	store, err := session.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open session store: %w", err)
	}
	return store, func() {
		if err := store.Close(); err != nil {
			slog.Error("failed to close session store", "error", err)
		}
	}, nil
}
