package telegram

import (
	"fmt"
	"strings"
)

type fixturePost struct {
	id    int64
	date  string
	text  string
	views string
	photo string
}

// previewHTML renders a minimal web preview page with posts oldest first
func previewHTML(channel, title string, posts []fixturePost) string {
	var b strings.Builder
	b.WriteString(`<html><body>`)
	fmt.Fprintf(&b, `<div class="tgme_channel_info"><div class="tgme_channel_info_header_title"><span>%s</span></div>`+
		`<div class="tgme_channel_info_description">Pharmacy news</div></div>`, title)
	b.WriteString(`<section class="tgme_channel_history">`)
	for _, p := range posts {
		fmt.Fprintf(&b, `<div class="tgme_widget_message_wrap"><div class="tgme_widget_message" data-post="%s/%d">`, channel, p.id)
		b.WriteString(`<div class="tgme_widget_message_bubble">`)
		if p.photo != "" {
			fmt.Fprintf(&b, `<a class="tgme_widget_message_photo_wrap" style="width:800px;background-image:url('%s')"></a>`, p.photo)
		}
		fmt.Fprintf(&b, `<div class="tgme_widget_message_text">%s</div>`, p.text)
		fmt.Fprintf(&b, `<div class="tgme_widget_message_footer"><span class="tgme_widget_message_views">%s</span>`, p.views)
		fmt.Fprintf(&b, `<a class="tgme_widget_message_date"><time datetime="%s">08:00</time></a></div>`, p.date)
		b.WriteString(`</div></div></div>`)
	}
	b.WriteString(`</section></body></html>`)
	return b.String()
}

const notFoundHTML = `<html><body><div class="tgme_page"><div class="tgme_page_title">Telegram</div></div></body></html>`
