package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// TelegramOptions 描述 Telegram 通道参数。
type TelegramOptions struct {
	BotToken string
	ChatID   int64
	// BaseURL 为空时使用官方 API。
	BaseURL string
	Timeout time.Duration
}

// TelegramSurface 通过 Telegram Bot API 推送告警，并在可见窗口结束后删除消息。
type TelegramSurface struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger zerolog.Logger

	mu       sync.Mutex
	messages map[string]int
}

// NewTelegramSurface 构造 Telegram 通道，会调用一次 getMe 校验 token。
func NewTelegramSurface(opts TelegramOptions, logger zerolog.Logger) (*TelegramSurface, error) {
	if strings.TrimSpace(opts.BotToken) == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	if opts.ChatID == 0 {
		return nil, fmt.Errorf("telegram chat id is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	endpoint := tgbotapi.APIEndpoint
	if opts.BaseURL != "" {
		endpoint = strings.TrimRight(opts.BaseURL, "/") + "/bot%s/%s"
	}

	bot, err := tgbotapi.NewBotAPIWithClient(opts.BotToken, endpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot: %w", err)
	}

	return &TelegramSurface{
		bot:      bot,
		chatID:   opts.ChatID,
		logger:   logger.With().Str("component", "notify_telegram").Logger(),
		messages: make(map[string]int),
	}, nil
}

// Create 调用 sendMessage 推送文本，并记录 message_id 以便之后删除。
func (s *TelegramSurface) Create(ctx context.Context, req Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(s.chatID, renderText(req))
	sent, err := s.bot.Send(msg)
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}

	s.mu.Lock()
	s.messages[req.ID] = sent.MessageID
	s.mu.Unlock()

	s.logger.Info().Str("id", req.ID).Int("message_id", sent.MessageID).Msg("告警已发送 (Telegram)")
	return nil
}

// Clear 调用 deleteMessage 删除之前发送的消息，未知 id 直接忽略。
func (s *TelegramSurface) Clear(ctx context.Context, id string) error {
	s.mu.Lock()
	messageID, ok := s.messages[id]
	delete(s.messages, id)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := s.bot.Request(tgbotapi.NewDeleteMessage(s.chatID, messageID)); err != nil {
		return fmt.Errorf("delete telegram message %d: %w", messageID, err)
	}
	return nil
}

func renderText(req Request) string {
	var b strings.Builder
	b.WriteString(req.Title)
	b.WriteString("\n")
	b.WriteString(req.Message)
	return b.String()
}

var _ Surface = (*TelegramSurface)(nil)
