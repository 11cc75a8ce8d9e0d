package main

import (
	"context"
	"fmt"
	"time"

	"replicli/internal/browser"
	"replicli/internal/config"
	"replicli/internal/domain"
	"replicli/internal/exchange"
	"replicli/internal/session"
	"replicli/internal/transcript"
)

// runtime is an authenticated session plus the resources it holds.
type runtime struct {
	ctrl  *session.Controller
	store *transcript.SQLiteStore
}

// Close releases the browser first, then the transcript index.
func (r *runtime) Close() {
	if err := r.ctrl.Close(); err != nil {
		logger.Warn("session close", "err", err)
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			logger.Warn("transcript index close", "err", err)
		}
	}
}

// startSession wires the browser, transcript and engine for ch and signs
// in. Every error it returns is a fatal startup error; the browser is
// already released when it does.
func startSession(ctx context.Context, cfg *config.Config, ch domain.Channel) (*runtime, error) {
	creds, err := config.LoadCredentials(cfg.General.EnvFile)
	if err != nil {
		return nil, err
	}

	locators, err := browser.ResolveLocators(cfg.Site.SelectorsFile, cfg.Site.Selectors)
	if err != nil {
		return nil, fmt.Errorf("selectors: %w", err)
	}

	fileLog, err := transcript.NewFileLog(cfg.Transcript.Dir, logger)
	if err != nil {
		return nil, fmt.Errorf("transcript: %w", err)
	}

	startedAt := time.Now()
	sessionID := transcript.NewSessionID(startedAt)

	var (
		sink     domain.TranscriptSink = fileLog
		recorder domain.TurnRecorder
		store    *transcript.SQLiteStore
	)
	if cfg.Transcript.Index {
		store, err = transcript.NewSQLiteStore(cfg.Transcript.DBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("transcript index: %w", err)
		}
		if err := store.StartSession(ctx, sessionID, startedAt, ch.Name()); err != nil {
			logger.Warn("register session in index", "session", sessionID, "err", err)
		}
		sink = transcript.NewMulti(logger, fileLog, store)
		recorder = store
	}

	driver, err := browser.NewChromeDriver(browser.DriverConfig{
		ProfileDir: cfg.Browser.ProfileDir,
		Headless:   cfg.Browser.Headless,
		ExecPath:   cfg.Browser.ExecPath,
		UserAgent:  cfg.Browser.UserAgent,
		Logger:     logger,
	})
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, fmt.Errorf("start browser: %w", err)
	}

	t := cfg.Timeouts
	engine := exchange.NewEngine(exchange.EngineConfig{
		Driver:   driver,
		Locators: locators,
		Sink:     sink,
		Prompter: ch,
		Timeouts: exchange.Timeouts{
			Submit:        config.Seconds(t.SubmitSeconds),
			Delivery:      config.Seconds(t.DeliverySeconds),
			Settle:        config.Seconds(t.SettleSeconds),
			Collect:       config.Seconds(t.CollectSeconds),
			ImageProbe:    config.Seconds(t.ImageProbeSeconds),
			ImageContinue: config.Seconds(t.ImageContinueSeconds),
			ImageStop:     config.Seconds(t.ImageStopSeconds),
		},
		CompanionName: cfg.General.CompanionName,
		SessionID:     sessionID,
		Logger:        logger.With("session", sessionID),
	})

	ctrl := session.NewController(session.ControllerConfig{
		Driver:      driver,
		Credentials: creds,
		Locators:    locators,
		SiteURL:     cfg.Site.URL,
		LandingURL:  cfg.Site.LandingURL,
		Timeouts: session.Timeouts{
			LoginField:    config.Seconds(t.LoginFieldSeconds),
			LoginRedirect: config.Seconds(t.LoginRedirectSeconds),
			PostLogin:     config.Seconds(t.PostLoginSeconds),
			OneShotLinger: config.Seconds(t.OneShotLingerSeconds),
		},
		Engine:          engine,
		Channel:         ch,
		Recorder:        recorder,
		MetricsTextfile: cfg.Metrics.Textfile,
		StartedAt:       startedAt,
		Logger:          logger,
	})

	rt := &runtime{ctrl: ctrl, store: store}
	if err := ctrl.Authenticate(ctx); err != nil {
		rt.Close()
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	return rt, nil
}
