// Package records defines the two record kinds the pipeline produces and the
// opaque row form the warehouse stores them in.
package records

import (
	"bytes"
	"encoding/json"
	"time"
)

// Kind identifies which warehouse table a record lands in
type Kind string

const (
	KindMessage   Kind = "message"
	KindDetection Kind = "detection"
)

// Record is implemented only by RawMessage and Detection.
type Record interface {
	Kind() Kind
	record()
}

// RawMessage is one channel post as persisted in a message batch
type RawMessage struct {
	ID           int64     `json:"id"`
	Channel      string    `json:"channel"`
	ChannelTitle string    `json:"channel_title,omitempty"`
	Date         time.Time `json:"date"`
	Message      string    `json:"message"`
	Views        int64     `json:"views"`
	PhotoURL     string    `json:"photo_url,omitempty"`
	// ImagePath is null when the post has no photo or the download failed.
	ImagePath *string   `json:"image_path"`
	ScrapedAt time.Time `json:"scraped_at"`
}

func (RawMessage) Kind() Kind { return KindMessage }
func (RawMessage) record()    {}

// Detection is one labelled object found in a message image
type Detection struct {
	MessageID int64   `json:"message_id"`
	ClassID   int     `json:"detected_object_class_id"`
	ClassName string  `json:"detected_object_class_name"`
	Score     float64 `json:"confidence_score"`
	Timestamp string  `json:"timestamp"`
}

func (Detection) Kind() Kind { return KindDetection }
func (Detection) record()    {}

// TimestampLayout matches the capture timestamp written with each detection.
const TimestampLayout = "2006-01-02T15:04:05.000000"

// Row is a warehouse row: an opaque payload plus provenance
type Row struct {
	Kind       Kind
	Payload    json.RawMessage
	SourceFile string
}

// NewRow compacts one batch element into a row of the given kind
func NewRow(kind Kind, payload json.RawMessage, sourceFile string) (Row, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, payload); err != nil {
		return Row{}, err
	}
	return Row{Kind: kind, Payload: buf.Bytes(), SourceFile: sourceFile}, nil
}
