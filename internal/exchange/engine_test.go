package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replicli/internal/browser/browsertest"
	"replicli/internal/domain"
)

var testTimeouts = Timeouts{
	Submit:        15 * time.Second,
	Delivery:      10 * time.Second,
	Settle:        5 * time.Second,
	Collect:       30 * time.Second,
	ImageProbe:    10 * time.Second,
	ImageContinue: 6 * time.Second,
	ImageStop:     3 * time.Second,
}

type harness struct {
	driver   *browsertest.Driver
	sink     *browsertest.Sink
	prompter *scriptedPrompter
	sleeps   *recordedSleeps
	engine   *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		driver:   newFakeDriver(),
		sink:     &browsertest.Sink{},
		prompter: &scriptedPrompter{answer: "2"},
		sleeps:   &recordedSleeps{},
	}
	h.engine = NewEngine(EngineConfig{
		Driver:        h.driver,
		Locators:      testLocators(),
		Sink:          h.sink,
		Prompter:      h.prompter,
		Timeouts:      testTimeouts,
		CompanionName: "Replika",
		SessionID:     "05-01-2024_21-14-03",
		Logger:        testLogger(),
		Sleep:         h.sleeps.sleep,
	})
	return h
}

func TestExecuteTurn_TextReply(t *testing.T) {
	h := newHarness(t)
	echo(h.driver, "hello")
	h.driver.Set(locRow, companionRow("hi there!"))

	out := h.engine.ExecuteTurn(context.Background(), "hello")

	require.Equal(t, domain.OutcomeReplied, out.Kind)
	require.NoError(t, out.Err)
	assert.Equal(t, []string{"You: hello", "Replika: hi there!"}, h.sink.Lines())
	require.NotNil(t, out.Turn)
	assert.True(t, out.Turn.Delivered)
	assert.Equal(t, domain.ReplyText, out.Turn.ReplyKind)
	assert.Equal(t, "hi there!", out.Turn.ReplyContent)
	assert.NotNil(t, out.Turn.ReplyAt)
	assert.NotEmpty(t, out.Turn.ID)
	assert.Equal(t, "05-01-2024_21-14-03", out.Turn.SessionID)
	assert.Equal(t, []string{"hello"}, h.driver.Typed())
	assert.Equal(t, []time.Duration{testTimeouts.Settle}, h.sleeps.delays)
	assert.Empty(t, h.prompter.questions)
}

func TestExecuteTurn_ImageReplyStops(t *testing.T) {
	h := newHarness(t)
	echo(h.driver, "show me")
	h.driver.Set(locRow, companionRow(""))
	h.driver.Set(locImage, image("https://img/old.png"), image("https://img/x.png"))
	h.driver.Set(locStop, button())

	out := h.engine.ExecuteTurn(context.Background(), "show me")

	require.Equal(t, domain.OutcomeReplied, out.Kind)
	assert.Equal(t, []string{"You: show me", "Replika (image): https://img/x.png"}, h.sink.Lines())
	assert.Equal(t, domain.ReplyImage, out.Turn.ReplyKind)
	assert.Equal(t, "https://img/x.png", out.Turn.ReplyContent)

	require.Len(t, h.prompter.questions, 1)
	assert.Contains(t, h.prompter.questions[0], "https://img/x.png")
	assert.Equal(t, FollowUpOptions, h.prompter.options[0])
	assert.Equal(t, []domain.Locator{locStop}, h.driver.Clicked())
	assert.Equal(t, []time.Duration{testTimeouts.Settle, testTimeouts.ImageStop}, h.sleeps.delays)
}

func TestExecuteTurn_ImageReplyContinues(t *testing.T) {
	h := newHarness(t)
	h.prompter.answer = "1"
	echo(h.driver, "show me")
	h.driver.Set(locRow, companionRow(""))
	h.driver.Set(locImage, image("https://img/x.png"))
	h.driver.Set(locAnother, button())

	out := h.engine.ExecuteTurn(context.Background(), "show me")

	require.Equal(t, domain.OutcomeReplied, out.Kind)
	assert.Equal(t, []domain.Locator{locAnother}, h.driver.Clicked())
	assert.Equal(t, []time.Duration{testTimeouts.Settle, testTimeouts.ImageContinue}, h.sleeps.delays)
}

func TestExecuteTurn_UnrecognizedChoiceStops(t *testing.T) {
	h := newHarness(t)
	h.prompter.answer = "maybe"
	echo(h.driver, "show me")
	h.driver.Set(locImage, image("https://img/x.png"))
	h.driver.Set(locRow, companionRow(""))
	h.driver.Set(locStop, button())
	h.driver.Set(locAnother, button())

	h.engine.ExecuteTurn(context.Background(), "show me")

	assert.Equal(t, []domain.Locator{locStop}, h.driver.Clicked())
}

func TestExecuteTurn_PrompterErrorStops(t *testing.T) {
	h := newHarness(t)
	h.prompter.err = errBoom
	echo(h.driver, "show me")
	h.driver.Set(locImage, image("https://img/x.png"))
	h.driver.Set(locRow, companionRow(""))
	h.driver.Set(locStop, button())

	out := h.engine.ExecuteTurn(context.Background(), "show me")

	assert.Equal(t, domain.OutcomeReplied, out.Kind)
	assert.Equal(t, []domain.Locator{locStop}, h.driver.Clicked())
}

func TestExecuteTurn_ImageFollowUpControlMissing(t *testing.T) {
	h := newHarness(t)
	echo(h.driver, "show me")
	h.driver.Set(locRow, companionRow(""))
	h.driver.Set(locImage, image("https://img/x.png"))

	out := h.engine.ExecuteTurn(context.Background(), "show me")

	require.Equal(t, domain.OutcomeError, out.Kind)
	assert.ErrorIs(t, out.Err, domain.ErrImageFollowUpFailed)
	assert.Equal(t, "image_follow_up_failed", out.Reason())
	// The turn itself is finalized and both lines are written.
	require.NotNil(t, out.Turn)
	assert.Equal(t, domain.ReplyImage, out.Turn.ReplyKind)
	assert.Len(t, h.sink.Lines(), 2)
}

func TestExecuteTurn_NoReply(t *testing.T) {
	h := newHarness(t)
	echo(h.driver, "hello")

	out := h.engine.ExecuteTurn(context.Background(), "hello")

	require.Equal(t, domain.OutcomeError, out.Kind)
	assert.ErrorIs(t, out.Err, domain.ErrNoReply)
	assert.Equal(t, []string{"You: hello"}, h.sink.Lines())
	require.NotNil(t, out.Turn)
	assert.True(t, out.Turn.Delivered)
	assert.Equal(t, domain.ReplyNone, out.Turn.ReplyKind)
	assert.Nil(t, out.Turn.ReplyAt)
	// No rows rendered at all, so no image probe either.
	assert.False(t, h.driver.WaitedFor(locImage))
}

func TestExecuteTurn_BrokenRowLookupKeepsCause(t *testing.T) {
	h := newHarness(t)
	echo(h.driver, "hello")
	h.driver.Set(locRow, &browsertest.Element{FindErr: errBoom})

	out := h.engine.ExecuteTurn(context.Background(), "hello")

	require.Equal(t, domain.OutcomeError, out.Kind)
	assert.ErrorIs(t, out.Err, domain.ErrNoReply)
	assert.ErrorIs(t, out.Err, errBoom)
}

func TestExecuteTurn_NilLoggerFallsBackToDefault(t *testing.T) {
	d := newFakeDriver()
	e := NewEngine(EngineConfig{Driver: d, Locators: testLocators(), Timeouts: testTimeouts})

	out := e.ExecuteTurn(context.Background(), "hello")

	assert.ErrorIs(t, out.Err, domain.ErrDeliveryUnconfirmed)
}

func TestExecuteTurn_SubmitNotFound(t *testing.T) {
	h := newHarness(t)
	h.driver.Set(locInput)

	out := h.engine.ExecuteTurn(context.Background(), "hello")

	require.Equal(t, domain.OutcomeError, out.Kind)
	assert.ErrorIs(t, out.Err, domain.ErrSubmitNotFound)
	assert.ErrorIs(t, out.Err, domain.ErrTimeout)
	assert.Nil(t, out.Turn)
	assert.Empty(t, h.sink.Lines())
	assert.Empty(t, h.sleeps.delays)
}

func TestExecuteTurn_DeliveryUnconfirmed(t *testing.T) {
	h := newHarness(t)
	h.driver.Set(locRow, companionRow("hi there!"))

	out := h.engine.ExecuteTurn(context.Background(), "hello")

	require.Equal(t, domain.OutcomeError, out.Kind)
	assert.ErrorIs(t, out.Err, domain.ErrDeliveryUnconfirmed)
	// The outbound line is still logged exactly once.
	assert.Equal(t, []string{"You: hello"}, h.sink.Lines())
	require.NotNil(t, out.Turn)
	assert.False(t, out.Turn.Delivered)
	assert.False(t, h.driver.WaitedFor(locRow), "reply collection must not run")
}

func TestExecuteTurn_TerminateCommands(t *testing.T) {
	for _, in := range []string{"exit", "quit", " EXIT ", "Quit\n"} {
		h := newHarness(t)
		out := h.engine.ExecuteTurn(context.Background(), in)

		assert.Equal(t, domain.OutcomeTerminate, out.Kind, in)
		assert.NoError(t, out.Err)
		assert.Empty(t, h.sink.Lines(), in)
		assert.Empty(t, h.driver.Typed(), in)
	}
}

func TestExecuteTurn_EmptyInput(t *testing.T) {
	h := newHarness(t)
	out := h.engine.ExecuteTurn(context.Background(), "   ")

	assert.ErrorIs(t, out.Err, domain.ErrEmptyMessage)
	assert.Empty(t, h.driver.Typed())
	assert.Empty(t, h.sink.Lines())
}

func TestExecuteTurn_RejectsOverlappingTurn(t *testing.T) {
	h := newHarness(t)
	h.engine.mu.Lock()
	defer h.engine.mu.Unlock()

	out := h.engine.ExecuteTurn(context.Background(), "hello")

	assert.ErrorIs(t, out.Err, domain.ErrTurnInProgress)
	assert.Empty(t, h.driver.Typed())
}

func TestExecuteTurn_SinkFailureKeepsOutcome(t *testing.T) {
	h := newHarness(t)
	h.sink.Err = errBoom
	echo(h.driver, "hello")
	h.driver.Set(locRow, companionRow("hi there!"))

	out := h.engine.ExecuteTurn(context.Background(), "hello")

	assert.Equal(t, domain.OutcomeReplied, out.Kind)
}

func TestExecuteTurn_CancelledDuringSettle(t *testing.T) {
	h := newHarness(t)
	echo(h.driver, "hello")
	h.driver.Set(locRow, companionRow("hi there!"))

	ctx, cancel := context.WithCancel(context.Background())
	h.engine.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	out := h.engine.ExecuteTurn(ctx, "hello")

	assert.Equal(t, domain.OutcomeError, out.Kind)
	assert.True(t, errors.Is(out.Err, context.Canceled))
	assert.Equal(t, []string{"You: hello"}, h.sink.Lines())
}

func TestIsContinue(t *testing.T) {
	assert.True(t, IsContinue("1"))
	assert.True(t, IsContinue(" Continue "))
	assert.True(t, IsContinue("send another one"))
	assert.False(t, IsContinue("2"))
	assert.False(t, IsContinue("stop"))
	assert.False(t, IsContinue(""))
}

func TestSleep_HonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))
}
