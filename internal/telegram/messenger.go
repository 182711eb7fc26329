package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// The methods below make Bot a service.Messenger.

func (b *Bot) SendText(ctx context.Context, chatID int64, text string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	sent, err := b.api.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (b *Bot) SendVideoURL(ctx context.Context, chatID int64, url, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	video := tgbotapi.NewVideo(chatID, tgbotapi.FileURL(url))
	video.Caption = caption
	video.SupportsStreaming = true
	_, err := b.api.Send(video)
	return err
}

func (b *Bot) SendVideoBytes(ctx context.Context, chatID int64, name string, data []byte, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	video := tgbotapi.NewVideo(chatID, tgbotapi.FileBytes{Name: name, Bytes: data})
	video.Caption = caption
	video.SupportsStreaming = true
	_, err := b.api.Send(video)
	return err
}

func (b *Bot) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := b.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
	return err
}
