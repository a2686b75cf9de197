// Package partition maps a calendar day to the directories that hold its
// raw messages, raw images and enriched detections.
package partition

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"
)

// DateLayout is the on-disk form of a partition key.
const DateLayout = "2006-01-02"

const (
	messagesSubdir   = "raw/telegram_messages"
	imagesSubdir     = "raw/telegram_images"
	enrichedSubdir   = "enriched"
	detectionsFile   = "image_detections.json"
	imageExtension   = ".jpg"
	messageExtension = ".json"
)

// Partition is one day's namespace under a data root
type Partition struct {
	root string
	date string
}

// New returns the partition for the calendar day of t, in t's location
func New(root string, t time.Time) Partition {
	return Partition{root: root, date: t.Format(DateLayout)}
}

// Parse validates a YYYY-MM-DD key and returns its partition
func Parse(root, date string) (Partition, error) {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return Partition{}, fmt.Errorf("invalid partition date %q: %w", date, err)
	}
	return Partition{root: root, date: date}, nil
}

// Today returns the partition for the current day in loc
func Today(root string, loc *time.Location) Partition {
	if loc == nil {
		loc = time.Local
	}
	return New(root, time.Now().In(loc))
}

func (p Partition) Date() string   { return p.date }
func (p Partition) Root() string   { return p.root }
func (p Partition) String() string { return p.date }

// MessagesDir is raw/telegram_messages/<date>
func (p Partition) MessagesDir() string {
	return filepath.Join(p.root, messagesSubdir, p.date)
}

// ImagesDir is raw/telegram_images/<date>
func (p Partition) ImagesDir() string {
	return filepath.Join(p.root, imagesSubdir, p.date)
}

// EnrichedDir is enriched/<date>
func (p Partition) EnrichedDir() string {
	return filepath.Join(p.root, enrichedSubdir, p.date)
}

// MessageBatchPath is the batch file for one channel
func (p Partition) MessageBatchPath(channel string) string {
	return filepath.Join(p.MessagesDir(), channel+messageExtension)
}

// ImagePath is the image file for one message
func (p Partition) ImagePath(messageID int64) string {
	return filepath.Join(p.ImagesDir(), strconv.FormatInt(messageID, 10)+imageExtension)
}

// DetectionsPath is the enriched detections batch
func (p Partition) DetectionsPath() string {
	return filepath.Join(p.EnrichedDir(), detectionsFile)
}
