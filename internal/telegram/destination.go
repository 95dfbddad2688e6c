package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/conserje/internal/delivery"
	"github.com/user/conserje/internal/types"
)

// Prefix marks destinations such as "telegram:-1001234567" (a group chat).
const Prefix = "telegram:"

// DestinationHandler delivers dispatch messages to Telegram chats: the text
// first, then each photo.
func DestinationHandler(bot Bot) delivery.Handler {
	return func(ctx context.Context, destination string, msg types.OutboundMessage) error {
		chatID, err := strconv.ParseInt(strings.TrimPrefix(destination, Prefix), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: telegram %q", delivery.ErrInvalidDestination, destination)
		}
		if err := sendText(bot, chatID, msg.Text); err != nil {
			return classify(fmt.Errorf("send text: %w", err))
		}
		for i, m := range msg.Media {
			if err := ctx.Err(); err != nil {
				return err
			}
			photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{
				Name:  fmt.Sprintf("foto-%d%s", i+1, extension(m.MimeType)),
				Bytes: m.Data,
			})
			if _, err := bot.Send(photo); err != nil {
				return classify(fmt.Errorf("send photo %d: %w", i+1, err))
			}
		}
		return nil
	}
}

// classify marks Bot API refusals (bad request, bot blocked or kicked) as
// permanent; rate limits and network errors stay retryable.
func classify(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == 400 || apiErr.Code == 403) {
		return delivery.Permanent(err)
	}
	return err
}

func extension(mime string) string {
	switch mime {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".jpg"
	}
}
