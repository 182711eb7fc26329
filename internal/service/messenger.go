package service

import "context"

// Messenger delivers bot output to a chat. Chat ids equal user ids.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string) (int, error)
	SendVideoURL(ctx context.Context, chatID int64, url, caption string) error
	SendVideoBytes(ctx context.Context, chatID int64, name string, data []byte, caption string) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
}

// Archiver stores a finished video and returns a public link to it.
type Archiver interface {
	UploadVideo(ctx context.Context, userID int64, data []byte) (string, error)
}
