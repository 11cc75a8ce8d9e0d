// Package session owns the browser for the lifetime of one chat session:
// it signs in once, feeds user input to the exchange engine one turn at a
// time and releases the browser on every exit path.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"replicli/internal/config"
	"replicli/internal/domain"
	"replicli/internal/exchange"
	"replicli/internal/metrics"
)

// ErrNotAuthenticated is returned when turns are requested before a
// successful Authenticate.
var ErrNotAuthenticated = errors.New("session is not authenticated")

// State describes the running session.
type State struct {
	IsAuthenticated bool
	SessionID       string
	StartedAt       time.Time
}

// Timeouts bounds sign-in and the one-shot linger.
type Timeouts struct {
	LoginField    time.Duration // login link and credential fields
	LoginRedirect time.Duration // return to the landing URL
	PostLogin     time.Duration // pause once signed in
	OneShotLinger time.Duration // pause before releasing after a one-shot turn
}

// Controller drives one session. It is the only owner of the driver.
type Controller struct {
	driver      domain.Driver
	creds       config.Credentials
	locators    domain.Locators
	siteURL     string
	landingURL  string
	timeouts    Timeouts
	engine      *exchange.Engine
	channel     domain.Channel
	recorder    domain.TurnRecorder
	metricsFile string
	logger      *slog.Logger
	sleep       func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	state     State
	closeOnce sync.Once
	closeErr  error
}

type ControllerConfig struct {
	Driver      domain.Driver
	Credentials config.Credentials
	Locators    domain.Locators
	SiteURL     string
	LandingURL  string
	Timeouts    Timeouts
	Engine      *exchange.Engine
	Channel     domain.Channel
	// Recorder is optional; finalized turns are stored there when set.
	Recorder domain.TurnRecorder
	// MetricsTextfile is written on Close when non-empty.
	MetricsTextfile string
	StartedAt       time.Time
	Logger          *slog.Logger
	Sleep           func(ctx context.Context, d time.Duration) error
}

func NewController(cfg ControllerConfig) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := &Controller{
		driver:      cfg.Driver,
		creds:       cfg.Credentials,
		locators:    cfg.Locators,
		siteURL:     cfg.SiteURL,
		landingURL:  cfg.LandingURL,
		timeouts:    cfg.Timeouts,
		engine:      cfg.Engine,
		channel:     cfg.Channel,
		recorder:    cfg.Recorder,
		metricsFile: cfg.MetricsTextfile,
		logger:      cfg.Logger,
		sleep:       cfg.Sleep,
		state: State{
			SessionID: cfg.Engine.SessionID(),
			StartedAt: cfg.StartedAt,
		},
	}
	if c.sleep == nil {
		c.sleep = exchange.Sleep
	}
	if c.state.StartedAt.IsZero() {
		c.state.StartedAt = time.Now()
	}
	return c
}

// State returns a copy of the session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Authenticate opens the site and signs in. A login link or form that
// never shows up means the browser profile already holds a session. Every
// other failure is fatal for the session.
func (c *Controller) Authenticate(ctx context.Context) error {
	if err := c.driver.Navigate(ctx, c.siteURL); err != nil {
		return fmt.Errorf("open %s: %w", c.siteURL, err)
	}

	link, err := c.locators.Get(domain.RoleLoginLink)
	if err != nil {
		return err
	}
	if err := c.driver.WaitAndClick(ctx, link, c.timeouts.LoginField); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Debug("login link not shown", "err", err)
	}

	email, err := c.locators.Get(domain.RoleEmailInput)
	if err != nil {
		return err
	}
	password, err := c.locators.Get(domain.RolePasswordInput)
	if err != nil {
		return err
	}

	switch err := c.driver.WaitAndType(ctx, email, c.creds.Email, false, c.timeouts.LoginField); {
	case err == nil:
		if err := c.driver.WaitAndType(ctx, password, c.creds.Password, true, c.timeouts.LoginField); err != nil {
			return fmt.Errorf("enter password: %w", err)
		}
		c.logger.Info("credentials submitted")
	case errors.Is(err, domain.ErrTimeout) && ctx.Err() == nil:
		c.logger.Info("no login form, reusing stored browser session")
	default:
		return fmt.Errorf("enter email: %w", err)
	}

	if err := c.driver.WaitForURL(ctx, c.landingURL, c.timeouts.LoginRedirect); err != nil {
		return fmt.Errorf("wait for %s: %w", c.landingURL, err)
	}
	if err := c.sleep(ctx, c.timeouts.PostLogin); err != nil {
		return err
	}

	c.mu.Lock()
	c.state.IsAuthenticated = true
	c.mu.Unlock()
	c.logger.Info("authenticated", "session", c.state.SessionID)
	return nil
}

// Run reads input until a termination command, end of input or ctx
// cancellation. Per-turn failures are reported and the loop continues.
func (c *Controller) Run(ctx context.Context) error {
	if !c.State().IsAuthenticated {
		return ErrNotAuthenticated
	}
	c.channel.Notice(ctx, "Type a message and press Enter. Type exit or quit to end the session.")

	for {
		if ctx.Err() != nil {
			c.logger.Info("session interrupted")
			return nil
		}
		line, err := c.channel.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				c.logger.Info("input closed, ending session")
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		if out := c.handle(ctx, line); out.Kind == domain.OutcomeTerminate {
			c.logger.Info("session terminated by user")
			return nil
		}
	}
}

// RunOnce sends a single message, reports it and lingers briefly so the
// page can settle before the caller releases the browser.
func (c *Controller) RunOnce(ctx context.Context, message string) (domain.Outcome, error) {
	if !c.State().IsAuthenticated {
		return domain.Outcome{}, ErrNotAuthenticated
	}
	out := c.handle(ctx, message)
	if out.Kind != domain.OutcomeTerminate {
		_ = c.sleep(ctx, c.timeouts.OneShotLinger)
	}
	return out, nil
}

func (c *Controller) handle(ctx context.Context, line string) domain.Outcome {
	out := c.engine.ExecuteTurn(ctx, line)
	c.channel.Report(ctx, out)

	if out.Turn != nil && c.recorder != nil {
		if err := c.recorder.RecordTurn(context.WithoutCancel(ctx), *out.Turn, out.Reason()); err != nil {
			c.logger.Warn("record turn failed", "turn", out.Turn.ID, "err", err)
		}
	}
	return out
}

// Close releases the driver and flushes metrics. It is safe to call more
// than once; only the first call does any work.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		var errs []error
		if err := c.driver.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release browser: %w", err))
		}
		if c.metricsFile != "" {
			if err := metrics.Collector.WriteTextfile(c.metricsFile); err != nil {
				errs = append(errs, fmt.Errorf("write metrics: %w", err))
			}
		}
		c.mu.Lock()
		c.state.IsAuthenticated = false
		c.mu.Unlock()
		c.closeErr = errors.Join(errs...)
		c.logger.Info("session closed", "session", c.state.SessionID)
	})
	return c.closeErr
}
