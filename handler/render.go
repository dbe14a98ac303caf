package handler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot/models"

	"tomorrowbot/model"
)

// Telegram HTML mode only requires these three to be escaped.
var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeHTML(text string) string {
	return htmlEscaper.Replace(text)
}

// renderOptions controls the optional lines of an event card.
type renderOptions struct {
	ViewerStatus model.Status // "" renders as "Not set"
	Counts       *model.Counts
	InviteLink   string // non-empty appends the invite line
	ShowStatus   bool
}

// eventText renders the event card. Deterministic for the same inputs.
func eventText(ev model.Event, opts renderOptions) string {
	lines := []string{
		fmt.Sprintf("📌 <b>%s</b>", escapeHTML(ev.Title)),
		"Type: " + escapeHTML(ev.Type),
		"Time: " + escapeHTML(ev.Time),
		"Location: " + escapeHTML(ev.Location),
	}
	if opts.Counts != nil {
		lines = append(lines, fmt.Sprintf("RSVPs — Yes: %d | No: %d | Maybe: %d",
			opts.Counts.Yes, opts.Counts.No, opts.Counts.Maybe))
	}
	if opts.ShowStatus {
		statusText := "Not set"
		if opts.ViewerStatus != "" {
			statusText = opts.ViewerStatus.Label()
		}
		lines = append(lines, "Your RSVP: "+statusText)
	}
	if opts.InviteLink != "" {
		lines = append(lines, "Invite friends ➜ "+escapeHTML(opts.InviteLink))
	}
	return strings.Join(lines, "\n")
}

// eventSummary renders the one-line listing used by /my.
func eventSummary(ev model.Event) string {
	return fmt.Sprintf("<b>%s</b> — %s (%s)",
		escapeHTML(ev.Title), escapeHTML(ev.Time), escapeHTML(ev.Type))
}

// rsvpKeyboard offers the three mutually exclusive RSVP actions.
func rsvpKeyboard(eventID int64) *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{{
			{Text: "✅ Yes", CallbackData: fmt.Sprintf("rsvp:%d:%s", eventID, model.StatusYes)},
			{Text: "❌ No", CallbackData: fmt.Sprintf("rsvp:%d:%s", eventID, model.StatusNo)},
			{Text: "❔ Maybe", CallbackData: fmt.Sprintf("rsvp:%d:%s", eventID, model.StatusMaybe)},
		}},
	}
}

// manageKeyboard offers the organizer view/delete actions for one event.
func manageKeyboard(eventID int64) *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{{Text: "View", CallbackData: fmt.Sprintf("view:%d", eventID)}},
			{{Text: "Delete", CallbackData: fmt.Sprintf("delete:%d", eventID)}},
		},
	}
}

const inviteTokenPrefix = "join_"

// inviteLink builds the deep link invitees open to join an event.
func inviteLink(botUsername string, eventID int64) string {
	return fmt.Sprintf("https://t.me/%s?start=%s%d", botUsername, inviteTokenPrefix, eventID)
}

// extractEventID parses the "join_<id>" payload of a /start deep link. It
// round-trips with inviteLink.
func extractEventID(token string) (int64, bool) {
	raw, ok := strings.CutPrefix(token, inviteTokenPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
