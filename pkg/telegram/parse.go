package telegram

import (
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	errs "tgpipeline/pkg/errors"
)

var backgroundURL = regexp.MustCompile(`background-image:\s*url\(['"]?([^'")]+)['"]?\)`)

// parsePage extracts channel metadata and posts from a preview page
func parsePage(r io.Reader, channel string) (*page, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeParsing, 0, "failed to parse preview html: "+err.Error())
	}

	info := doc.Find(".tgme_channel_info").First()
	if info.Length() == 0 {
		return nil, errs.New(errs.ErrorTypeNotFound, 404, "channel "+channel+" not found")
	}

	p := &page{
		channel: &Channel{
			Username:    channel,
			Title:       strings.TrimSpace(info.Find(".tgme_channel_info_header_title").Text()),
			Description: strings.TrimSpace(info.Find(".tgme_channel_info_description").Text()),
		},
	}

	doc.Find(".tgme_widget_message[data-post]").Each(func(_ int, s *goquery.Selection) {
		msg, ok := parseMessage(s, channel)
		if ok {
			p.messages = append(p.messages, msg)
		}
	})
	return p, nil
}

func parseMessage(s *goquery.Selection, channel string) (Message, bool) {
	post, _ := s.Attr("data-post")
	idx := strings.LastIndex(post, "/")
	if idx < 0 {
		return Message{}, false
	}
	id, err := strconv.ParseInt(post[idx+1:], 10, 64)
	if err != nil {
		return Message{}, false
	}

	msg := Message{ID: id, Channel: channel}

	if dt, ok := s.Find(".tgme_widget_message_date time[datetime]").First().Attr("datetime"); ok {
		if t, err := time.Parse(time.RFC3339, dt); err == nil {
			msg.Date = t.UTC()
		}
	}
	// A reply quote carries its own text block ahead of the post's.
	msg.Text = messageText(s.Find(".tgme_widget_message_text").Last())
	msg.Views = parseViews(s.Find(".tgme_widget_message_views").First().Text())

	if style, ok := s.Find(".tgme_widget_message_photo_wrap").First().Attr("style"); ok {
		if m := backgroundURL.FindStringSubmatch(style); m != nil {
			msg.PhotoURL = m[1]
		}
	}
	return msg, true
}

// parseViews turns "850", "1.2K" or "3M" into a count
func parseViews(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	mult := 1.0
	switch strings.ToUpper(s[len(s)-1:]) {
	case "K":
		mult = 1e3
		s = s[:len(s)-1]
	case "M":
		mult = 1e6
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int64(n*mult + 0.5)
}

// messageText keeps line breaks, which the preview renders as <br> tags
func messageText(sel *goquery.Selection) string {
	sel.Find("br").ReplaceWithHtml("\n")
	return strings.TrimSpace(sel.Text())
}
