package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replicli/internal/browser/browsertest"
	"replicli/internal/config"
	"replicli/internal/domain"
	"replicli/internal/exchange"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

const (
	siteURL    = "https://chat.example/"
	landingURL = "https://chat.example/"
)

var (
	locLogin    = domain.XPath(`//a[contains(text(), "Log in")]`)
	locEmail    = domain.CSS("#email")
	locPassword = domain.CSS("#password")
	locInput    = domain.CSS("textarea.input")
	locBubble   = domain.XPath(`//div[@class="out" and contains(., {text})]`)
	locRow      = domain.CSS("div.row")
	locMarker   = domain.CSS("span.companion")
	locText     = domain.CSS("span.text")
)

func testLocators() domain.Locators {
	return domain.Locators{
		domain.RoleLoginLink:         locLogin,
		domain.RoleEmailInput:        locEmail,
		domain.RolePasswordInput:     locPassword,
		domain.RoleMessageInput:      locInput,
		domain.RoleOutboundBubble:    locBubble,
		domain.RoleReplyRow:          locRow,
		domain.RoleCompanionMarker:   locMarker,
		domain.RoleReplyText:         locText,
		domain.RoleImageAttachment:   domain.CSS("img.attachment"),
		domain.RoleSendAnotherButton: domain.XPath(`//button[text()="Send another one"]`),
		domain.RoleStopButton:        domain.XPath(`//button[text()="Stop"]`),
	}
}

// scriptedChannel replays fixed input lines and records what it is asked
// to show.
type scriptedChannel struct {
	mu       sync.Mutex
	inputs   []string
	err      error
	outcomes []domain.Outcome
	notices  []string
}

func (s *scriptedChannel) Name() string { return "test" }

func (s *scriptedChannel) Next(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.inputs) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	line := s.inputs[0]
	s.inputs = s.inputs[1:]
	return line, nil
}

func (s *scriptedChannel) Choose(ctx context.Context, question string, options []string) (string, error) {
	return "2", nil
}

func (s *scriptedChannel) Report(ctx context.Context, out domain.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, out)
}

func (s *scriptedChannel) Notice(ctx context.Context, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, text)
}

type memoryRecorder struct {
	turns    []domain.Turn
	outcomes []string
}

func (m *memoryRecorder) RecordTurn(ctx context.Context, turn domain.Turn, outcome string) error {
	m.turns = append(m.turns, turn)
	m.outcomes = append(m.outcomes, outcome)
	return nil
}

type fixture struct {
	driver   *browsertest.Driver
	sink     *browsertest.Sink
	channel  *scriptedChannel
	recorder *memoryRecorder
	sleeps   []time.Duration
	ctrl     *Controller
}

func newFixture(t *testing.T, inputs ...string) *fixture {
	t.Helper()
	f := &fixture{
		driver:   browsertest.NewDriver(),
		sink:     &browsertest.Sink{},
		channel:  &scriptedChannel{inputs: inputs},
		recorder: &memoryRecorder{},
	}
	sleep := func(ctx context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return ctx.Err()
	}

	// The page echoes whatever is typed into the message box and answers
	// with a fixed reply.
	f.driver.Set(locInput, &browsertest.Element{})
	f.driver.OnType = func(d *browsertest.Driver, typed browsertest.Typing) {
		if typed.Loc != locInput {
			return
		}
		d.Set(locBubble.WithText(typed.Text), &browsertest.Element{Content: typed.Text})
		d.Set(locRow, &browsertest.Element{Children: map[domain.Locator][]domain.Element{
			locMarker: {&browsertest.Element{}},
			locText:   {&browsertest.Element{Content: "hi there!"}},
		}})
	}

	engine := exchange.NewEngine(exchange.EngineConfig{
		Driver:        f.driver,
		Locators:      testLocators(),
		Sink:          f.sink,
		Prompter:      f.channel,
		Timeouts:      exchange.Timeouts{Settle: 5 * time.Second},
		CompanionName: "Replika",
		SessionID:     "05-01-2024_21-14-03",
		Logger:        testLogger(),
		Sleep:         sleep,
	})
	f.ctrl = NewController(ControllerConfig{
		Driver:      f.driver,
		Credentials: config.Credentials{Email: "me@example.com", Password: "secret"},
		Locators:    testLocators(),
		SiteURL:     siteURL,
		LandingURL:  landingURL,
		Timeouts: Timeouts{
			LoginField:    10 * time.Second,
			LoginRedirect: 20 * time.Second,
			PostLogin:     3 * time.Second,
			OneShotLinger: 2 * time.Second,
		},
		Engine:   engine,
		Channel:  f.channel,
		Recorder: f.recorder,
		Logger:   testLogger(),
		Sleep:    sleep,
	})
	return f
}

func (f *fixture) showLoginForm() {
	f.driver.Set(locLogin, &browsertest.Element{})
	f.driver.Set(locEmail, &browsertest.Element{})
	f.driver.Set(locPassword, &browsertest.Element{})
}

func TestAuthenticate_SubmitsCredentials(t *testing.T) {
	f := newFixture(t)
	f.showLoginForm()

	require.NoError(t, f.ctrl.Authenticate(context.Background()))

	assert.True(t, f.ctrl.State().IsAuthenticated)
	assert.Equal(t, []string{siteURL}, f.driver.Navigated())
	assert.Equal(t, []domain.Locator{locLogin}, f.driver.Clicked())
	assert.Equal(t, []browsertest.Typing{
		{Loc: locEmail, Text: "me@example.com"},
		{Loc: locPassword, Text: "secret", Submit: true},
	}, f.driver.Typings())
	assert.Equal(t, []time.Duration{3 * time.Second}, f.sleeps)
}

func TestAuthenticate_ReusesStoredSession(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.ctrl.Authenticate(context.Background()))

	assert.True(t, f.ctrl.State().IsAuthenticated)
	assert.Empty(t, f.driver.Typings())
}

func TestAuthenticate_NavigationFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.driver.FailNavigate(errors.New("net::ERR_NAME_NOT_RESOLVED"))

	err := f.ctrl.Authenticate(context.Background())

	require.Error(t, err)
	assert.False(t, f.ctrl.State().IsAuthenticated)
}

func TestAuthenticate_MissingPasswordFieldIsFatal(t *testing.T) {
	f := newFixture(t)
	f.driver.Set(locEmail, &browsertest.Element{})

	err := f.ctrl.Authenticate(context.Background())

	require.ErrorIs(t, err, domain.ErrTimeout)
	assert.False(t, f.ctrl.State().IsAuthenticated)
}

func TestAuthenticate_NoRedirectIsFatal(t *testing.T) {
	f := newFixture(t)
	f.showLoginForm()
	f.driver.OnType = func(d *browsertest.Driver, typed browsertest.Typing) {
		if typed.Submit {
			d.SetURL("https://chat.example.other/login?error=1")
		}
	}
	f.ctrl.landingURL = "https://chat.example/home"

	err := f.ctrl.Authenticate(context.Background())

	require.ErrorIs(t, err, domain.ErrTimeout)
	assert.False(t, f.ctrl.State().IsAuthenticated)
}

func TestRun_RequiresAuthentication(t *testing.T) {
	f := newFixture(t, "hello")
	assert.ErrorIs(t, f.ctrl.Run(context.Background()), ErrNotAuthenticated)
	_, err := f.ctrl.RunOnce(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestRun_HandlesTurnsUntilQuit(t *testing.T) {
	f := newFixture(t, "hello", "", "   ", "how are you", "QUIT", "never sent")
	require.NoError(t, f.ctrl.Authenticate(context.Background()))

	require.NoError(t, f.ctrl.Run(context.Background()))

	assert.Equal(t, []string{"hello", "how are you"}, f.driver.Typed())
	assert.Equal(t, []string{
		"You: hello", "Replika: hi there!",
		"You: how are you", "Replika: hi there!",
	}, f.sink.Lines())

	require.Len(t, f.channel.outcomes, 3)
	assert.Equal(t, domain.OutcomeReplied, f.channel.outcomes[0].Kind)
	assert.Equal(t, domain.OutcomeTerminate, f.channel.outcomes[2].Kind)

	require.Len(t, f.recorder.turns, 2)
	assert.Equal(t, []string{"replied", "replied"}, f.recorder.outcomes)
	assert.Equal(t, []string{"never sent"}, f.channel.inputs)
}

func TestRun_ContinuesAfterTurnFailure(t *testing.T) {
	f := newFixture(t, "hello", "again")
	require.NoError(t, f.ctrl.Authenticate(context.Background()))
	f.driver.OnType = nil

	require.NoError(t, f.ctrl.Run(context.Background()))

	require.Len(t, f.channel.outcomes, 2)
	for _, out := range f.channel.outcomes {
		assert.ErrorIs(t, out.Err, domain.ErrDeliveryUnconfirmed)
	}
	assert.Equal(t, []string{"delivery_unconfirmed", "delivery_unconfirmed"}, f.recorder.outcomes)
	assert.Equal(t, []string{"You: hello", "You: again"}, f.sink.Lines())
}

func TestRun_InputErrorEndsSession(t *testing.T) {
	f := newFixture(t)
	f.channel.err = errors.New("stdin closed badly")
	require.NoError(t, f.ctrl.Authenticate(context.Background()))

	assert.Error(t, f.ctrl.Run(context.Background()))
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t, "hello")
	require.NoError(t, f.ctrl.Authenticate(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, f.ctrl.Run(ctx))
	assert.Empty(t, f.driver.Typed())
}

func TestRunOnce_LingersAfterTurn(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.Authenticate(context.Background()))
	f.sleeps = nil

	out, err := f.ctrl.RunOnce(context.Background(), "hello")

	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeReplied, out.Kind)
	assert.Equal(t, []time.Duration{5 * time.Second, 2 * time.Second}, f.sleeps)
	require.Len(t, f.channel.outcomes, 1)
}

func TestClose_ReleasesOnceAndWritesMetrics(t *testing.T) {
	f := newFixture(t)
	f.ctrl.metricsFile = filepath.Join(t.TempDir(), "replicli.prom")
	require.NoError(t, f.ctrl.Authenticate(context.Background()))

	require.NoError(t, f.ctrl.Close())
	require.NoError(t, f.ctrl.Close())

	assert.Equal(t, 1, f.driver.Released())
	assert.False(t, f.ctrl.State().IsAuthenticated)
	assert.FileExists(t, f.ctrl.metricsFile)
}
