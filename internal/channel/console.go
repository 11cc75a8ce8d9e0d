package channel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"replicli/internal/domain"
)

// Console implements domain.Channel on a terminal.
type Console struct {
	in            io.Reader
	out           io.Writer
	companionName string
	logger        *slog.Logger

	readOnce sync.Once
	lines    chan string
	readErr  error

	mu          sync.Mutex
	promptStyle lipgloss.Style
	inputStyle  lipgloss.Style
	replyStyle  lipgloss.Style
	warnStyle   lipgloss.Style
	errorStyle  lipgloss.Style
	infoStyle   lipgloss.Style
}

type ConsoleConfig struct {
	In            io.Reader
	Out           io.Writer
	CompanionName string
	Logger        *slog.Logger
}

func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.CompanionName == "" {
		cfg.CompanionName = "Replika"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	r := lipgloss.NewRenderer(cfg.Out)
	return &Console{
		in:            cfg.In,
		out:           cfg.Out,
		companionName: cfg.CompanionName,
		logger:        cfg.Logger,

		promptStyle: r.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#B8860B", Dark: "#FFAA00"}),
		inputStyle: r.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#008B8B", Dark: "#55FFFF"}),
		replyStyle: r.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#008000", Dark: "#55FF55"}),
		warnStyle: r.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#B8860B", Dark: "#FFAA00"}),
		errorStyle: r.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#D00000", Dark: "#FF5555"}).
			Bold(true),
		infoStyle: r.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#0066CC", Dark: "#5599FF"}),
	}
}

func (c *Console) Name() string { return "cli" }

// Banner prints the greeting shown before the first prompt.
func (c *Console) Banner() {
	c.println(c.infoStyle.Render(c.companionName + " CLI Client - Type 'exit' or 'quit' to end"))
}

// Next prompts for one line of input. It returns io.EOF once the input is
// exhausted and ctx.Err() when ctx ends first.
func (c *Console) Next(ctx context.Context) (string, error) {
	c.print(c.promptStyle.Render("You:") + " ")
	return c.readLine(ctx)
}

// Choose shows the question and numbered options and returns the raw
// answer.
func (c *Console) Choose(ctx context.Context, question string, options []string) (string, error) {
	c.println(c.replyStyle.Render(question))

	labels := make([]string, len(options))
	keys := make([]string, len(options))
	for i, opt := range options {
		labels[i] = fmt.Sprintf("[%d] %s", i+1, opt)
		keys[i] = fmt.Sprint(i + 1)
	}
	c.println("")
	c.println(c.promptStyle.Render("Options: " + strings.Join(labels, " ")))
	c.print(c.inputStyle.Render(fmt.Sprintf("Your choice (%s):", strings.Join(keys, "/"))) + " ")

	answer, err := c.readLine(ctx)
	if err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(answer)), nil
}

// Report prints the result of a turn. Image replies were already shown by
// the follow-up prompt.
func (c *Console) Report(ctx context.Context, out domain.Outcome) {
	switch out.Kind {
	case domain.OutcomeTerminate:
		c.println(c.warnStyle.Render("Closing..."))
		return
	case domain.OutcomeReplied:
		if out.Turn != nil && out.Turn.ReplyKind == domain.ReplyText {
			c.println(c.replyStyle.Render(fmt.Sprintf("%s: %s", c.companionName, out.Turn.ReplyContent)))
		}
		return
	}

	switch {
	case errors.Is(out.Err, domain.ErrNoReply):
		c.println(c.errorStyle.Render(fmt.Sprintf("No response received from %s", c.companionName)))
	case errors.Is(out.Err, domain.ErrDeliveryUnconfirmed):
		c.println(c.warnStyle.Render("Message sent but not confirmed on the page"))
	case errors.Is(out.Err, domain.ErrSubmitNotFound):
		c.println(c.errorStyle.Render(fmt.Sprintf("ERROR sending message: %v", out.Err)))
	case errors.Is(out.Err, domain.ErrImageFollowUpFailed):
		c.println(c.errorStyle.Render(fmt.Sprintf("ERROR handling image options: %v", out.Err)))
	case errors.Is(out.Err, domain.ErrEmptyMessage):
		return
	case errors.Is(out.Err, context.Canceled):
		c.println("")
		c.println(c.warnStyle.Render("Closing..."))
	default:
		c.println(c.errorStyle.Render(fmt.Sprintf("ERROR: %v", out.Err)))
	}
}

func (c *Console) Notice(ctx context.Context, text string) {
	c.println(c.infoStyle.Render(text))
}

// Warn prints a warning line.
func (c *Console) Warn(text string) {
	c.println(c.warnStyle.Render("WARNING: " + text))
}

// Error prints an error line.
func (c *Console) Error(text string) {
	c.println(c.errorStyle.Render("ERROR: " + text))
}

// readLine waits for the next input line. Lines are read on a separate
// goroutine so a blocked terminal read never holds up cancellation.
func (c *Console) readLine(ctx context.Context) (string, error) {
	c.readOnce.Do(func() {
		c.lines = make(chan string)
		go c.readLoop()
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-c.lines:
		if !ok {
			if c.readErr != nil {
				return "", c.readErr
			}
			return "", io.EOF
		}
		return line, nil
	}
}

func (c *Console) readLoop() {
	defer close(c.lines)
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		c.lines <- scanner.Text()
	}
	if err := scanner.Err(); err != nil {
		c.logger.Error("console read failed", "err", err)
		c.readErr = err
	}
}

func (c *Console) print(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprint(c.out, s)
}

func (c *Console) println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintln(c.out, s)
}
