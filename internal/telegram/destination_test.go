package telegram

import (
	"context"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/conserje/internal/delivery"
	"github.com/user/conserje/internal/types"
)

func TestDestinationHandlerSendsTextThenPhotos(t *testing.T) {
	bot := &fakeBot{}
	handler := DestinationHandler(bot)

	err := handler(context.Background(), "telegram:-100123", types.OutboundMessage{
		Text: "🛎️ Nuevo reporte MAN-00001",
		Media: []types.PendingMedia{
			{ID: "m1", MimeType: "image/png", Data: []byte("a")},
			{ID: "m2", MimeType: "image/jpeg", Data: []byte("b")},
		},
	})
	require.NoError(t, err)

	require.Len(t, bot.sent, 3)
	text, ok := bot.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(-100123), text.ChatID)

	photo, ok := bot.sent[1].(tgbotapi.PhotoConfig)
	require.True(t, ok)
	assert.Equal(t, int64(-100123), photo.ChatID)
	file, ok := photo.File.(tgbotapi.FileBytes)
	require.True(t, ok)
	assert.Equal(t, "foto-1.png", file.Name)

	photo2 := bot.sent[2].(tgbotapi.PhotoConfig)
	assert.Equal(t, "foto-2.jpg", photo2.File.(tgbotapi.FileBytes).Name)
}

func TestDestinationHandlerRejectsBadChat(t *testing.T) {
	err := DestinationHandler(&fakeBot{})(context.Background(), "telegram:recepcion", types.OutboundMessage{Text: "x"})
	assert.ErrorIs(t, err, delivery.ErrInvalidDestination)
}

func TestDestinationHandlerClassifiesBotErrors(t *testing.T) {
	blocked := &fakeBot{sendErr: &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}}
	err := DestinationHandler(blocked)(context.Background(), "telegram:-100123", types.OutboundMessage{Text: "x"})
	require.Error(t, err)
	assert.True(t, delivery.IsPermanent(err))

	limited := &fakeBot{sendErr: &tgbotapi.Error{Code: 429, Message: "Too Many Requests: retry after 3"}}
	err = DestinationHandler(limited)(context.Background(), "telegram:-100123", types.OutboundMessage{Text: "x"})
	require.Error(t, err)
	assert.False(t, delivery.IsPermanent(err))
}
