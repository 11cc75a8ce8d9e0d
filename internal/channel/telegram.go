package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"replicli/internal/domain"
)

const (
	telegramMaxMsgLen      = 4000
	telegramChoiceTimeout  = 120 * time.Second
	telegramMaxSendRetries = 3
	telegramInboxSize      = 16

	choiceCallbackPrefix = "choice_"
)

// botAPI is the part of tgbotapi.BotAPI the relay uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type inbound struct {
	chatID int64
	text   string
}

// Telegram implements domain.Channel over a Telegram bot. Messages from
// allow-listed users become turn input; replies go back to the chat that
// sent the last message.
type Telegram struct {
	token         string
	allowFrom     []int64 // Allowed user IDs (empty = allow all)
	companionName string
	logger        *slog.Logger

	bot      botAPI
	username string
	inbox    chan inbound
	choices  chan string
	stopOnce sync.Once

	mu       sync.Mutex
	chatID   int64
	choosing bool
}

type TelegramConfig struct {
	Token         string
	AllowFrom     []string // User IDs as strings
	CompanionName string
	Logger        *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		} else {
			cfg.Logger.Warn("ignoring invalid telegram user id", "value", s)
		}
	}
	if cfg.CompanionName == "" {
		cfg.CompanionName = "Replika"
	}
	return &Telegram{
		token:         cfg.Token,
		allowFrom:     allowed,
		companionName: cfg.CompanionName,
		logger:        cfg.Logger,
		inbox:         make(chan inbound, telegramInboxSize),
		choices:       make(chan string, 1),
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and polls for updates until ctx ends.
func (t *Telegram) Start(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)
	t.username = bot.Self.UserName
	t.bot = bot

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	go t.poll(ctx, updates)
	return nil
}

func (t *Telegram) poll(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	t.logger.Info("telegram polling started")
	defer close(t.inbox)
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			t.Stop()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			t.handleUpdate(ctx, update)
		}
	}
}

// Stop ends update polling. Calling StopReceivingUpdates twice panics,
// so only the first call reaches the bot.
func (t *Telegram) Stop() {
	t.stopOnce.Do(func() {
		if t.bot != nil {
			t.bot.StopReceivingUpdates()
		}
	})
}

// Next returns the next message from an allowed user.
func (t *Telegram) Next(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case msg, ok := <-t.inbox:
		if !ok {
			return "", io.EOF
		}
		t.mu.Lock()
		t.chatID = msg.chatID
		t.mu.Unlock()
		return msg.text, nil
	}
}

// Choose sends the question with one inline button per option and waits
// for a button press or a typed answer. No answer in time means "".
func (t *Telegram) Choose(ctx context.Context, question string, options []string) (string, error) {
	chatID := t.currentChat()
	if chatID == 0 {
		return "", errors.New("no telegram chat to ask")
	}

	buttons := make([]tgbotapi.InlineKeyboardButton, len(options))
	for i, opt := range options {
		buttons[i] = tgbotapi.NewInlineKeyboardButtonData(opt, choiceCallbackPrefix+strconv.Itoa(i+1))
	}
	msg := tgbotapi.NewMessage(chatID, question)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(buttons...))

	// A late answer to an earlier choice (a double-tapped button) may still
	// sit in the buffer.
	t.mu.Lock()
	select {
	case <-t.choices:
	default:
	}
	t.choosing = true
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.choosing = false
		t.mu.Unlock()
	}()

	if _, err := t.bot.Send(msg); err != nil {
		return "", fmt.Errorf("send choice: %w", err)
	}

	timer := time.NewTimer(telegramChoiceTimeout)
	defer timer.Stop()
	select {
	case answer := <-t.choices:
		return answer, nil
	case <-timer.C:
		t.sendMessage(chatID, "No choice made, stopping.")
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Report sends the turn result back to the chat.
func (t *Telegram) Report(ctx context.Context, out domain.Outcome) {
	chatID := t.currentChat()
	if chatID == 0 {
		return
	}
	switch out.Kind {
	case domain.OutcomeTerminate:
		t.sendMessage(chatID, "Session closed.")
		return
	case domain.OutcomeReplied:
		if out.Turn != nil && out.Turn.ReplyKind == domain.ReplyText {
			t.sendMessage(chatID, out.Turn.ReplyContent)
		}
		return
	}

	switch {
	case errors.Is(out.Err, domain.ErrNoReply):
		t.sendMessage(chatID, fmt.Sprintf("No response received from %s.", t.companionName))
	case errors.Is(out.Err, domain.ErrDeliveryUnconfirmed):
		t.sendMessage(chatID, "Message sent but not confirmed on the page.")
	case errors.Is(out.Err, domain.ErrEmptyMessage):
	default:
		t.sendMessage(chatID, fmt.Sprintf("Error: %v", out.Err))
	}
}

func (t *Telegram) Notice(ctx context.Context, text string) {
	if chatID := t.currentChat(); chatID != 0 {
		t.sendMessage(chatID, text)
		return
	}
	t.logger.Info("telegram notice", "text", text)
}

func (t *Telegram) currentChat() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.chatID
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		t.handleCallback(update.CallbackQuery)
		return
	}

	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}

	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", userID,
			"username", update.Message.From.UserName,
		)
		t.sendMessage(chatID, "Unauthorized. Your user ID is not in the allow list.")
		return
	}

	text := strings.TrimSpace(update.Message.Text)
	if text == "" {
		return
	}

	if update.Message.IsCommand() {
		t.handleCommand(ctx, chatID, update.Message)
		return
	}

	// While a choice is pending a typed message answers it.
	if t.offerChoice(text) {
		return
	}

	t.logger.Info("telegram message received",
		"user_id", userID,
		"chat_id", chatID,
		"text_len", len(text),
	)

	typing := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	_, _ = t.bot.Send(typing)

	t.enqueue(ctx, inbound{chatID: chatID, text: text})
}

func (t *Telegram) handleCallback(cq *tgbotapi.CallbackQuery) {
	if cq.Message == nil || cq.Message.Chat == nil {
		return
	}
	if cq.From != nil && !t.isAllowed(cq.From.ID) {
		return
	}
	callback := tgbotapi.NewCallback(cq.ID, "")
	_, _ = t.bot.Request(callback)

	answer, ok := strings.CutPrefix(cq.Data, choiceCallbackPrefix)
	if !ok || !t.offerChoice(answer) {
		return
	}
	edit := tgbotapi.NewEditMessageReplyMarkup(cq.Message.Chat.ID, cq.Message.MessageID,
		tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}})
	_, _ = t.bot.Send(edit)
}

// offerChoice hands answer to a waiting Choose. It reports false when no
// choice is pending.
func (t *Telegram) offerChoice(answer string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.choosing {
		return false
	}
	select {
	case t.choices <- answer:
	default:
	}
	return true
}

func (t *Telegram) enqueue(ctx context.Context, msg inbound) {
	select {
	case t.inbox <- msg:
	case <-ctx.Done():
	}
}

func (t *Telegram) handleCommand(ctx context.Context, chatID int64, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start", "help":
		t.sendMessage(chatID, fmt.Sprintf("Messages you send here are relayed to %s one at a time.\n\nCommands:\n/status - Relay status\n/quit - End the session", t.companionName))
	case "status":
		t.sendMessage(chatID, fmt.Sprintf("Relay bot: @%s\nYour ID: %d\nChat ID: %d", t.username, msg.From.ID, chatID))
	case "quit", "exit":
		t.enqueue(ctx, inbound{chatID: chatID, text: "quit"})
	default:
		t.sendMessage(chatID, "Unknown command. Type /help for available commands.")
	}
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true // Empty list = allow all
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

func (t *Telegram) sendMessage(chatID int64, text string) {
	// Telegram has a 4096 char limit per message
	const maxLen = telegramMaxMsgLen
	for len(text) > 0 {
		chunk := text
		if len(chunk) > maxLen {
			cutAt := strings.LastIndex(chunk[:maxLen], "\n")
			if cutAt < maxLen/2 {
				cutAt = maxLen
			}
			chunk = text[:cutAt]
			text = text[cutAt:]
		} else {
			text = ""
		}

		t.sendChunk(chatID, chunk)
	}
}

// sendChunk sends one chunk, backing off on rate limits and transient
// errors.
func (t *Telegram) sendChunk(chatID int64, text string) {
	const maxRetries = telegramMaxSendRetries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		_, err := t.bot.Send(tgbotapi.NewMessage(chatID, text))
		if err == nil {
			return
		}

		errStr := err.Error()
		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			time.Sleep(retryAfter)
			continue
		}

		if attempt < maxRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}

		t.logger.Error("telegram send failed after retries", "err", err, "attempts", maxRetries+1)
	}
}
