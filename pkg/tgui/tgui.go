// Package tgui provides small Telegram UI helpers: inline keyboard building,
// callback data formatting, and HTML-safe text composition for
// ParseMode="HTML" messages.
package tgui

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"
)

// MaxCallbackDataLen is Telegram's callback_data size limit in bytes.
const MaxCallbackDataLen = 64

// Data formats inline callback data as "action:payload". The result is
// clamped to MaxCallbackDataLen bytes; Telegram rejects longer callback_data.
func Data(action, payload string) string {
	action = strings.TrimSpace(action)
	s := action
	if payload != "" {
		s = action + ":" + payload
	}
	if len(s) > MaxCallbackDataLen {
		s = s[:MaxCallbackDataLen]
	}
	return s
}

// SplitData is the inverse of Data. payload is empty when absent.
func SplitData(data string) (action, payload string) {
	action, payload, _ = strings.Cut(data, ":")
	return action, payload
}

// Inline is a small builder for inline keyboards.
type Inline struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewInline() *Inline {
	return &Inline{rm: &tele.ReplyMarkup{}}
}

// Row appends a row of buttons.
func (i *Inline) Row(btn ...tele.Btn) *Inline {
	i.rows = append(i.rows, i.rm.Row(btn...))
	i.rm.Inline(i.rows...)
	return i
}

// Markup returns the underlying reply markup.
func (i *Inline) Markup() *tele.ReplyMarkup { return i.rm }

// Btn creates a callback button with raw callback_data.
func Btn(text, data string) tele.Btn {
	return tele.Btn{Text: text, Data: data}
}

// H represents HTML that is safe to pass to Telegram when ParseMode="HTML".
type H string

func (h H) String() string { return string(h) }

// Esc escapes text for Telegram HTML parse mode.
func Esc(s string) H { return H(html.EscapeString(s)) }

func wrap(tag string, inner H) H { return H("<" + tag + ">" + inner.String() + "</" + tag + ">") }

func B(s string) H    { return wrap("b", Esc(s)) }
func I(s string) H    { return wrap("i", Esc(s)) }
func Code(s string) H { return wrap("code", Esc(s)) }

// Link builds an HTML link.
func Link(text, url string) H {
	return H(fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(url), html.EscapeString(text)))
}

// TruncRunes returns s truncated to at most n runes, with an ellipsis when
// anything was cut.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	cut := 0
	for i, r := range s {
		count++
		if count == n {
			cut = i + utf8.RuneLen(r)
			continue
		}
		if count > n {
			if cut <= 0 {
				cut = i
			}
			return s[:cut] + "…"
		}
	}
	return s
}
