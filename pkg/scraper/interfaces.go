package scraper

import (
	"context"

	"tgpipeline/pkg/telegram"
)

// MessageSource defines the operations the scraper needs from the messaging API
type MessageSource interface {
	ResolveChannel(ctx context.Context, name string) (*telegram.Channel, error)
	IterMessages(ctx context.Context, name string, limit int, fn func(telegram.Message) error) error
	DownloadPhoto(ctx context.Context, photoURL string) ([]byte, error)
}
