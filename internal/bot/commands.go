package bot

import (
	"context"
	"fmt"
	"strings"

	"steamnewsbot/internal/feeds"
	"steamnewsbot/internal/state"
	kit "steamnewsbot/internal/transport"
	logx "steamnewsbot/pkg/logx"
	"steamnewsbot/pkg/tgui"
)

// searchLimit caps how many candidates the /add disambiguation keyboard shows.
const searchLimit = 8

const helpText = `<b>Steam news bot</b>
/add &lt;name or id&gt; — subscribe this chat to a game's news
/addid &lt;id&gt; — subscribe by app id
/removeid &lt;id&gt; — unsubscribe by app id
/list — show this chat's subscriptions
/posthere — post announcements in this chat (and thread)
/mute — stop posting here (subscriptions are kept)
/purge — remove every subscription
/help — this message`

func (a *App) handleUpdate(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message != nil {
			a.handleMessage(ctx, up.Message)
		}
	case kit.UpdateCallback:
		if up.Callback != nil {
			a.handleCallback(ctx, up.Callback)
		}
	}
}

// parseCommand splits "/cmd@botname rest of args". Returns "" when the text
// is not a command.
func parseCommand(text string) (cmd, args string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	head, _, _ = strings.Cut(head, "@")
	return strings.ToLower(head), strings.TrimSpace(rest)
}

// mayManage gates subscription management: private chats are always allowed,
// group chats require a chat admin or a configured owner.
func (a *App) mayManage(ctx context.Context, chatID, userID int64, isGroup bool) bool {
	if !isGroup || a.isOwner(userID) {
		return true
	}
	ok, err := a.adapter.IsChatAdmin(ctx, chatID, userID)
	if err != nil {
		a.log.Warn("admin check failed",
			logx.Int64("chat", chatID),
			logx.Int64("user", userID),
			logx.Err(err))
		return false
	}
	return ok
}

func (a *App) reply(ctx context.Context, m *kit.Message, text string) {
	to := kit.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}
	if _, err := a.adapter.SendText(ctx, to, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}); err != nil {
		a.log.Warn("reply failed", logx.Int64("chat", m.ChatID), logx.Err(err))
	}
}

func (a *App) handleMessage(ctx context.Context, m *kit.Message) {
	cmd, args := parseCommand(m.Text)
	if cmd == "" {
		return
	}

	switch cmd {
	case "help", "start":
		a.reply(ctx, m, helpText)
		return
	case "posthere", "mute", "add", "addid", "list", "removeid", "purge":
	default:
		return
	}

	if !a.mayManage(ctx, m.ChatID, m.FromID, m.IsGroup) {
		a.reply(ctx, m, "Only chat admins can manage subscriptions.")
		return
	}

	switch cmd {
	case "posthere":
		a.cmdPostHere(ctx, m)
	case "mute":
		a.cmdMute(ctx, m)
	case "add":
		a.cmdAdd(ctx, m, args)
	case "addid":
		a.cmdAddID(ctx, m, args)
	case "list":
		a.cmdList(ctx, m)
	case "removeid":
		a.cmdRemoveID(ctx, m, args)
	case "purge":
		a.cmdPurge(ctx, m)
	}
}

func (a *App) cmdPostHere(ctx context.Context, m *kit.Message) {
	a.st.GetOrCreateGroup(m.ChatID, m.ChatTitle)
	a.st.SetDestination(m.ChatID, &state.Destination{ChatID: m.ChatID, ThreadID: m.ThreadID})
	a.reply(ctx, m, "News will be posted in this chat.")
}

func (a *App) cmdMute(ctx context.Context, m *kit.Message) {
	g := a.st.GetOrCreateGroup(m.ChatID, m.ChatTitle)
	if a.st.SetDestination(m.ChatID, nil) {
		a.notifyDestination(ctx, g.Dest, m, "News announcements for this chat are muted.")
		a.reply(ctx, m, "Muted. Subscriptions are kept; use /posthere to resume.")
		return
	}
	a.reply(ctx, m, "Already muted.")
}

// notifyDestination posts a notice to the group's delivery destination when it
// differs from the chat/thread the command came from, so the place that was
// receiving announcements learns that posting changed.
func (a *App) notifyDestination(ctx context.Context, dest *state.Destination, m *kit.Message, text string) {
	if dest == nil {
		return
	}
	if dest.ChatID == m.ChatID && dest.ThreadID == m.ThreadID {
		return
	}
	to := kit.ChatTarget{ChatID: dest.ChatID, ThreadID: dest.ThreadID}
	if _, err := a.adapter.SendText(ctx, to, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}); err != nil {
		a.log.Warn("destination notice failed", logx.Int64("chat", dest.ChatID), logx.Err(err))
	}
}

func (a *App) cmdAddID(ctx context.Context, m *kit.Message, args string) {
	if args == "" {
		a.reply(ctx, m, "Usage: /addid &lt;app id&gt;")
		return
	}
	app, err := feeds.ParseAppID(args)
	if err != nil {
		a.reply(ctx, m, "That doesn't look like an app id.")
		return
	}
	a.reply(ctx, m, a.subscribe(ctx, m.ChatID, m.ChatTitle, m.ThreadID, app))
}

func (a *App) cmdAdd(ctx context.Context, m *kit.Message, args string) {
	if args == "" {
		a.reply(ctx, m, "Usage: /add &lt;game name or app id&gt;")
		return
	}
	// A numeric argument is treated as a direct id.
	if app, err := feeds.ParseAppID(args); err == nil {
		a.reply(ctx, m, a.subscribe(ctx, m.ChatID, m.ChatTitle, m.ThreadID, app))
		return
	}

	matches, err := a.ix.Search(ctx, args, searchLimit)
	if err != nil {
		a.log.Warn("app search failed", logx.String("query", args), logx.Err(err))
		a.reply(ctx, m, "Search failed, try again later.")
		return
	}
	switch len(matches) {
	case 0:
		a.reply(ctx, m, fmt.Sprintf("No games matching %s found.", tgui.B(args)))
	case 1:
		a.reply(ctx, m, a.subscribe(ctx, m.ChatID, m.ChatTitle, m.ThreadID, matches[0].AppID))
	default:
		kb := tgui.NewInline()
		for _, e := range matches {
			label := fmt.Sprintf("%s (%d)", tgui.TruncRunes(e.Name, 40), e.AppID)
			kb.Row(tgui.Btn(label, tgui.Data("sub", e.AppID.String())))
		}
		to := kit.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}
		_, err := a.adapter.SendText(ctx, to, "Which one?", &kit.SendOptions{
			ParseMode:          "HTML",
			DisablePreview:     true,
			ReplyMarkupAdapter: kb.Markup(),
		})
		if err != nil {
			a.log.Warn("keyboard send failed", logx.Int64("chat", m.ChatID), logx.Err(err))
		}
	}
}

// subscribe performs the shared subscription path for /add, /addid and the
// disambiguation callback, returning the reply text.
func (a *App) subscribe(ctx context.Context, chatID int64, chatTitle string, threadID int, app feeds.AppID) string {
	a.st.GetOrCreateGroup(chatID, chatTitle)
	added, destSet := a.st.AddFeed(chatID, app, &state.Destination{ChatID: chatID, ThreadID: threadID})

	name := a.displayName(ctx, app)
	if !added {
		return fmt.Sprintf("Already subscribed to %s.", name)
	}

	// Never-polled topics get an immediate cycle so the latest announcement
	// shows up right away instead of waiting for the next tick.
	if _, seen := a.st.Watermark(app); !seen {
		a.kickCycle()
	}

	msg := fmt.Sprintf("Subscribed to %s.", name)
	if destSet {
		msg += " Announcements will be posted in this chat."
	}
	return msg
}

func (a *App) displayName(ctx context.Context, app feeds.AppID) string {
	if name, ok, err := a.ix.NameByID(ctx, app); err == nil && ok {
		return tgui.B(name).String()
	}
	return "app " + tgui.Code(app.String()).String()
}

func (a *App) cmdList(ctx context.Context, m *kit.Message) {
	g, ok := a.st.Group(m.ChatID)
	if !ok || len(g.Subscribed) == 0 {
		a.reply(ctx, m, "No subscriptions in this chat. Use /add to create one.")
		return
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("Subscriptions (%d):\n", len(g.Subscribed)))
	for _, app := range g.Subscribed {
		name := state.UnknownAppName
		if n, ok, err := a.ix.NameByID(ctx, app); err == nil && ok {
			name = n
		}
		b.WriteString(fmt.Sprintf("• %s — %s\n", tgui.Esc(name), tgui.Code(app.String())))
	}
	if g.Dest == nil {
		b.WriteString("\nPosting is muted. Use /posthere to resume.")
	}
	a.reply(ctx, m, strings.TrimRight(b.String(), "\n"))
}

func (a *App) cmdRemoveID(ctx context.Context, m *kit.Message, args string) {
	if args == "" {
		a.reply(ctx, m, "Usage: /removeid &lt;app id&gt;")
		return
	}
	app, err := feeds.ParseAppID(args)
	if err != nil {
		a.reply(ctx, m, "That doesn't look like an app id.")
		return
	}
	if a.st.RemoveFeed(m.ChatID, app) {
		name := a.displayName(ctx, app)
		if g, ok := a.st.Group(m.ChatID); ok {
			a.notifyDestination(ctx, g.Dest, m, fmt.Sprintf("No longer posting news about %s here.", name))
		}
		a.reply(ctx, m, fmt.Sprintf("Unsubscribed from %s.", name))
		return
	}
	a.reply(ctx, m, "This chat isn't subscribed to that app.")
}

func (a *App) cmdPurge(ctx context.Context, m *kit.Message) {
	n := a.st.PurgeFeeds(m.ChatID)
	if n == 0 {
		a.reply(ctx, m, "Nothing to remove.")
		return
	}
	if g, ok := a.st.Group(m.ChatID); ok {
		a.notifyDestination(ctx, g.Dest, m, "No longer posting game news here.")
	}
	a.reply(ctx, m, fmt.Sprintf("Removed %d subscription(s).", n))
}

func (a *App) handleCallback(ctx context.Context, cb *kit.Callback) {
	action, payload := tgui.SplitData(cb.Data)
	if action != "sub" {
		_ = a.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}

	if !a.mayManage(ctx, cb.ChatID, cb.FromID, cb.IsGroup) {
		_ = a.adapter.AnswerCallback(ctx, cb.ID, "Admins only.")
		return
	}

	app, err := feeds.ParseAppID(payload)
	if err != nil {
		_ = a.adapter.AnswerCallback(ctx, cb.ID, "Bad selection.")
		return
	}

	msg := a.subscribe(ctx, cb.ChatID, cb.ChatTitle, cb.ThreadID, app)
	_ = a.adapter.AnswerCallback(ctx, cb.ID, "Done.")
	to := kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}
	if _, err := a.adapter.SendText(ctx, to, msg, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}); err != nil {
		a.log.Warn("callback reply failed", logx.Int64("chat", cb.ChatID), logx.Err(err))
	}
}
