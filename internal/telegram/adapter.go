package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/user/conserje/internal/catalog"
	"github.com/user/conserje/internal/gateway"
	"github.com/user/conserje/internal/intake"
	"github.com/user/conserje/internal/types"
)

const (
	maxTelegramMessage = 4096
	maxPhotoBytes      = 10 << 20
	source             = "telegram"
)

// Bot is the subset of the Bot API the adapter talks to.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Adapter bridges Telegram chats to the gateway.
type Adapter struct {
	api      *tgbotapi.BotAPI
	bot      Bot
	gateway  *gateway.Gateway
	sessions types.SessionStore
	areas    *catalog.Areas
	http     *http.Client
	logger   *zap.Logger
}

// New creates a Telegram adapter.
func New(token string, gw *gateway.Gateway, sessions types.SessionStore, areas *catalog.Areas, logger *zap.Logger) (*Adapter, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	a := newAdapter(api, gw, sessions, areas, logger)
	a.api = api
	return a, nil
}

func newAdapter(bot Bot, gw *gateway.Gateway, sessions types.SessionStore, areas *catalog.Areas, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		bot:      bot,
		gateway:  gw,
		sessions: sessions,
		areas:    areas,
		http:     &http.Client{Timeout: 30 * time.Second},
		logger:   logger.Named("telegram"),
	}
}

// Bot returns the client used for sending, for destination handlers.
func (a *Adapter) Bot() Bot { return a.bot }

// Start begins long-polling for Telegram updates.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.api.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if update.Message == nil {
				continue
			}
			a.handleMessage(ctx, update.Message)
		case <-ctx.Done():
			a.api.StopReceivingUpdates()
			return
		}
	}
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	if msg.IsCommand() {
		a.handleCommand(ctx, msg)
		return
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	images := a.collectImages(ctx, msg)
	if text == "" && len(images) == 0 {
		return
	}

	chatID := msg.Chat.ID
	event := &types.InboundEvent{
		Source:     source,
		SessionKey: buildSessionKey(msg.From.ID, chatID),
		UserID:     strconv.FormatInt(msg.From.ID, 10),
		Text:       text,
		Images:     images,
	}
	if err := a.gateway.HandleInbound(ctx, event, gateway.WithReply(a.replier(chatID))); err != nil {
		a.logger.Error("handle inbound", zap.Int64("chat_id", chatID), zap.Error(err))
		a.sendResponse(chatID, "Lo siento, no pude procesar tu mensaje. Intenta de nuevo en un momento.")
	}
}

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	key := buildSessionKey(msg.From.ID, chatID)

	switch msg.Command() {
	case "start", "ayuda", "help":
		a.sendResponse(chatID, "¡Hola! Cuéntame qué sucedió y dónde (puedes enviar fotos) y lo envío al equipo correcto.\nComandos: /nuevo para empezar de nuevo, /estado para ver el reporte en curso.")

	case "nuevo", "reset", "new":
		if err := a.gateway.Reset(ctx, key, source, gateway.WithReply(a.replier(chatID))); err != nil {
			a.logger.Error("reset", zap.String("session_key", string(key)), zap.Error(err))
			a.sendResponse(chatID, "No pude reiniciar la conversación.")
		}

	case "estado", "status":
		sess, err := a.sessions.Load(ctx, key)
		if err != nil {
			a.logger.Error("load session", zap.String("session_key", string(key)), zap.Error(err))
			a.sendResponse(chatID, "No pude consultar el estado.")
			return
		}
		a.sendResponse(chatID, intake.RenderStatus(sess, a.areas))

	default:
		a.sendResponse(chatID, "Comando desconocido. Disponibles: /start, /nuevo, /estado")
	}
}

// collectImages downloads the largest rendition of an attached photo, or an
// image sent as a document. Failed downloads are logged and skipped.
func (a *Adapter) collectImages(ctx context.Context, msg *tgbotapi.Message) []types.Image {
	var fileID string
	switch {
	case len(msg.Photo) > 0:
		fileID = largestPhoto(msg.Photo).FileID
	case msg.Document != nil && isImageMime(msg.Document.MimeType):
		fileID = msg.Document.FileID
	default:
		return nil
	}
	img, err := a.download(ctx, fileID)
	if err != nil {
		a.logger.Warn("download photo", zap.String("file_id", fileID), zap.Error(err))
		return nil
	}
	return []types.Image{img}
}

func (a *Adapter) download(ctx context.Context, fileID string) (types.Image, error) {
	url, err := a.bot.GetFileDirectURL(fileID)
	if err != nil {
		return types.Image{}, fmt.Errorf("resolve file: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return types.Image{}, err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return types.Image{}, fmt.Errorf("fetch file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return types.Image{}, fmt.Errorf("fetch file: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes+1))
	if err != nil {
		return types.Image{}, fmt.Errorf("read file: %w", err)
	}
	if len(data) > maxPhotoBytes {
		return types.Image{}, fmt.Errorf("file exceeds %d bytes", maxPhotoBytes)
	}
	mime := resp.Header.Get("Content-Type")
	if !isImageMime(mime) {
		mime = http.DetectContentType(data)
	}
	return types.Image{Data: data, MimeType: mime}, nil
}

// ReplyTo returns the reply channel of a Telegram conversation key, for
// events that do not originate from a message (idle expiry, API resets).
func (a *Adapter) ReplyTo(key types.SessionKey) (gateway.ReplyFunc, bool) {
	parts := strings.Split(string(key), ":")
	if len(parts) != 3 || parts[0] != source {
		return nil, false
	}
	chatID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil, false
	}
	return a.replier(chatID), true
}

func (a *Adapter) replier(chatID int64) gateway.ReplyFunc {
	return func(_ context.Context, text string) error {
		return a.send(chatID, text)
	}
}

func (a *Adapter) sendResponse(chatID int64, text string) {
	if err := a.send(chatID, text); err != nil {
		a.logger.Error("send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (a *Adapter) send(chatID int64, text string) error {
	return sendText(a.bot, chatID, text)
}

func sendText(bot Bot, chatID int64, text string) error {
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := bot.Send(msg); err != nil {
			// Retry without markdown if it fails
			msg.ParseMode = ""
			if _, err := bot.Send(msg); err != nil {
				return err
			}
		}
	}
	return nil
}

func largestPhoto(sizes []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	best := sizes[0]
	for _, p := range sizes[1:] {
		if p.Width*p.Height > best.Width*best.Height {
			best = p
		}
	}
	return best
}

func isImageMime(mime string) bool {
	return len(mime) > 6 && mime[:6] == "image/"
}

func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end > len(text) {
			end = len(text)
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}

func buildSessionKey(userID, chatID int64) types.SessionKey {
	return types.NewSessionKey(source,
		strconv.FormatInt(userID, 10),
		strconv.FormatInt(chatID, 10),
	)
}
