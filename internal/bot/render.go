package bot

import (
	"html"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"steamnewsbot/internal/feeds"
	"steamnewsbot/pkg/tgui"
)

// blurbLimit caps how much of an announcement body is quoted in the message.
const blurbLimit = 400

// blurbify strips the HTML markup feed bodies arrive with and returns a short
// plain-text excerpt. Malformed HTML degrades to whatever text can be pulled
// out, never an error.
func blurbify(htmlBody string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlBody))
	if err != nil {
		return tgui.TruncRunes(collapseSpace(htmlBody), blurbLimit)
	}
	// Block elements render without separators in .Text(); add breathing room.
	doc.Find("br, p, div, li").Each(func(_ int, sel *goquery.Selection) {
		sel.AppendHtml(" ")
	})
	return tgui.TruncRunes(collapseSpace(doc.Text()), blurbLimit)
}

func collapseSpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

// renderItem builds the HTML announcement message for one feed item. iconURL
// (already resolved for the app, may be empty) rides along as a zero-width
// link so the chat client renders the app's artwork as the preview.
func renderItem(appName string, app feeds.AppID, it feeds.Item, iconURL string) string {
	var b strings.Builder

	// Prefer the item's own artwork, fall back to the app header image.
	img := strings.TrimSpace(it.Image)
	if img == "" {
		img = iconURL
	}
	if img != "" {
		b.WriteString(`<a href="` + html.EscapeString(img) + `">&#8205;</a>`)
	}
	b.WriteString(tgui.B(appName).String())
	b.WriteString(" (#" + app.String() + ")")
	b.WriteString("\n")

	if title := strings.TrimSpace(it.Title); title != "" {
		b.WriteString(tgui.B(title).String())
		b.WriteString("\n")
	}
	if date := it.FormatDate(); date != "" {
		b.WriteString(tgui.I(date).String())
		b.WriteString("\n")
	}

	if blurb := blurbify(it.Description); blurb != "" {
		b.WriteString("\n")
		b.WriteString(tgui.Esc(blurb).String())
		b.WriteString("\n")
	}

	if link := strings.TrimSpace(it.Link); link != "" {
		b.WriteString("\n")
		b.WriteString(html.EscapeString(link))
	}
	return strings.TrimRight(b.String(), "\n")
}

// iconFor resolves the app artwork URL from the configured template.
func iconFor(template string, id feeds.AppID) string {
	if strings.TrimSpace(template) == "" {
		return ""
	}
	return strings.ReplaceAll(template, "{id}", id.String())
}
