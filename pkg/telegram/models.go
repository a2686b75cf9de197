package telegram

import "time"

// Channel is the metadata shown in a channel's web preview header
type Channel struct {
	Username    string
	Title       string
	Description string
}

// Message is one post parsed from the web preview
type Message struct {
	ID      int64
	Channel string
	Date    time.Time
	Text    string
	Views   int64
	// PhotoURL is empty when the post carries no photo.
	PhotoURL string
}

// HasPhoto reports whether the post carries a photo
func (m Message) HasPhoto() bool {
	return m.PhotoURL != ""
}

// page is one fetched preview page; messages are oldest first, as served
type page struct {
	channel  *Channel
	messages []Message
}

// minID returns the smallest message id on the page, or 0 if empty
func (p *page) minID() int64 {
	var min int64
	for _, m := range p.messages {
		if min == 0 || m.ID < min {
			min = m.ID
		}
	}
	return min
}
