// Package handler routes incoming Telegram updates to the conversation
// state machine and the event store.
package handler

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog/log"

	"tomorrowbot/dialog"
	"tomorrowbot/model"
	"tomorrowbot/session"
)

// EventStore is the persistence surface the controller needs.
type EventStore interface {
	CreateEvent(ctx context.Context, organizerID int64, title, eventType, eventTime, location string) (int64, error)
	GetEvent(ctx context.Context, eventID int64) (model.Event, error)
	DeleteEvent(ctx context.Context, eventID, requesterID int64) (bool, error)
	ListEventsByUser(ctx context.Context, organizerID int64) ([]model.Event, error)
	UpsertRSVP(ctx context.Context, eventID, responderID int64, status model.Status) error
	GetRSVP(ctx context.Context, eventID, responderID int64) (model.RSVP, error)
	RSVPCounts(ctx context.Context, eventID int64) (model.Counts, error)
}

// Gateway is the slice of the Telegram API the controller uses. *bot.Bot
// satisfies it.
type Gateway interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*models.Message, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
	GetMe(ctx context.Context) (*models.User, error)
}

type Handler struct {
	store    EventStore
	sessions *session.Store
	username atomic.Value // cached bot username, fetched once per process
}

func New(store EventStore, sessions *session.Store) *Handler {
	return &Handler{store: store, sessions: sessions}
}

// Handle is the bot's default update handler.
func (h *Handler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	h.dispatch(ctx, b, update)
}

func (h *Handler) dispatch(ctx context.Context, gw Gateway, update *models.Update) {
	switch {
	case update.CallbackQuery != nil:
		h.handleCallback(ctx, gw, update.CallbackQuery)
	case update.Message != nil:
		h.handleMessage(ctx, gw, update.Message)
	}
}

func (h *Handler) handleMessage(ctx context.Context, gw Gateway, msg *models.Message) {
	if msg.From == nil {
		return
	}

	if strings.HasPrefix(msg.Text, "/") {
		fields := strings.Fields(msg.Text)
		// Strip the @botname suffix commands carry in group chats.
		command := strings.SplitN(fields[0], "@", 2)[0]
		switch command {
		case "/start":
			if len(fields) > 1 && strings.HasPrefix(fields[1], inviteTokenPrefix) {
				h.handleJoin(ctx, gw, msg, fields[1])
				return
			}
			h.send(ctx, gw, msg.Chat.ID, "Hi! I'm Tomorrow Planner. Use /new to create an event for tomorrow or /help for all commands.", nil)
		case "/help":
			h.send(ctx, gw, msg.Chat.ID, "Commands:\n/new – create an event for tomorrow\n/my – manage events you created\n/help – show this help message", nil)
		case "/new":
			h.handleNew(ctx, gw, msg)
		case "/cancel":
			h.handleCancel(ctx, gw, msg)
		case "/my":
			h.handleMy(ctx, gw, msg)
		default:
			// Unrecognized commands are ordinary text to an active
			// dialogue (a title may start with "/").
			if state, ok := h.sessions.Get(msg.From.ID); ok {
				h.handleDialogueReply(ctx, gw, msg, state)
				return
			}
			if msg.Chat.Type == models.ChatTypePrivate {
				h.send(ctx, gw, msg.Chat.ID, "I didn't understand that command. Use /start or /help.", nil)
			}
		}
		return
	}

	state, ok := h.sessions.Get(msg.From.ID)
	if !ok {
		if msg.Chat.Type == models.ChatTypePrivate && strings.TrimSpace(msg.Text) != "" {
			h.send(ctx, gw, msg.Chat.ID, "Use /new to create an event for tomorrow or /help for all commands.", nil)
		}
		return
	}
	h.handleDialogueReply(ctx, gw, msg, state)
}

func (h *Handler) handleNew(ctx context.Context, gw Gateway, msg *models.Message) {
	if msg.Chat.Type != models.ChatTypePrivate {
		h.send(ctx, gw, msg.Chat.ID, "Please start a private chat with me to create events.", nil)
		return
	}
	// An unfinished dialogue is overwritten silently.
	h.sessions.Put(msg.From.ID, dialog.New())
	h.send(ctx, gw, msg.Chat.ID, dialog.Prompt(dialog.StepTitle), nil)
}

func (h *Handler) handleCancel(ctx context.Context, gw Gateway, msg *models.Message) {
	if h.sessions.Clear(msg.From.ID) {
		h.send(ctx, gw, msg.Chat.ID, "Event creation cancelled.", nil)
		return
	}
	h.send(ctx, gw, msg.Chat.ID, "Nothing to cancel.", nil)
}

func (h *Handler) handleMy(ctx context.Context, gw Gateway, msg *models.Message) {
	if msg.Chat.Type != models.ChatTypePrivate {
		h.send(ctx, gw, msg.Chat.ID, "Please open a private chat to view your events.", nil)
		return
	}
	events, err := h.store.ListEventsByUser(ctx, msg.From.ID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", msg.From.ID).Msg("list events")
		h.send(ctx, gw, msg.Chat.ID, "Something went wrong. Please try again.", nil)
		return
	}
	if len(events) == 0 {
		h.send(ctx, gw, msg.Chat.ID, "You haven't created any events yet. Use /new to start.", nil)
		return
	}
	for _, ev := range events {
		h.send(ctx, gw, msg.Chat.ID, eventSummary(ev), manageKeyboard(ev.ID))
	}
}

func (h *Handler) handleJoin(ctx context.Context, gw Gateway, msg *models.Message, token string) {
	if msg.Chat.Type != models.ChatTypePrivate {
		h.send(ctx, gw, msg.Chat.ID, "Please message me privately to join this event.", nil)
		return
	}
	eventID, ok := extractEventID(token)
	if !ok {
		h.send(ctx, gw, msg.Chat.ID, "Invalid invitation link.", nil)
		return
	}
	ev, err := h.store.GetEvent(ctx, eventID)
	if errors.Is(err, model.ErrEventNotFound) {
		h.send(ctx, gw, msg.Chat.ID, "Event not found or already deleted.", nil)
		return
	}
	if err != nil {
		log.Error().Err(err).Int64("event_id", eventID).Msg("get event")
		h.send(ctx, gw, msg.Chat.ID, "Something went wrong. Please try again.", nil)
		return
	}

	// Opening the invite counts as joining: a missing RSVP becomes "maybe".
	status := model.StatusMaybe
	rsvp, err := h.store.GetRSVP(ctx, eventID, msg.From.ID)
	switch {
	case err == nil:
		status = rsvp.Status
	case errors.Is(err, model.ErrRSVPNotFound):
		if err := h.store.UpsertRSVP(ctx, eventID, msg.From.ID, status); err != nil {
			log.Error().Err(err).Int64("event_id", eventID).Msg("upsert rsvp")
			h.send(ctx, gw, msg.Chat.ID, "Something went wrong. Please try again.", nil)
			return
		}
	default:
		log.Error().Err(err).Int64("event_id", eventID).Msg("get rsvp")
		h.send(ctx, gw, msg.Chat.ID, "Something went wrong. Please try again.", nil)
		return
	}

	counts, err := h.store.RSVPCounts(ctx, eventID)
	if err != nil {
		log.Error().Err(err).Int64("event_id", eventID).Msg("rsvp counts")
		h.send(ctx, gw, msg.Chat.ID, "Something went wrong. Please try again.", nil)
		return
	}
	text := "You're invited to an event for tomorrow!\n\n" + eventText(ev, renderOptions{
		ViewerStatus: status,
		Counts:       &counts,
		ShowStatus:   true,
	})
	h.send(ctx, gw, msg.Chat.ID, text, rsvpKeyboard(eventID))
}

func (h *Handler) handleDialogueReply(ctx context.Context, gw Gateway, msg *models.Message, state dialog.State) {
	input := dialog.Input{Text: msg.Text}
	if msg.Location != nil {
		input.Pin = &dialog.Point{Latitude: msg.Location.Latitude, Longitude: msg.Location.Longitude}
	}

	next, err := state.Next(input)
	var verr *dialog.ValidationError
	if errors.As(err, &verr) {
		// Re-prompt for the same step; the session is unchanged.
		h.send(ctx, gw, msg.Chat.ID, verr.Message, nil)
		return
	}
	if err != nil {
		log.Error().Err(err).Int64("user_id", msg.From.ID).Msg("advance dialogue")
		h.sessions.Clear(msg.From.ID)
		h.send(ctx, gw, msg.Chat.ID, "Something went wrong. Please start over with /new.", nil)
		return
	}

	// Compare-and-swap against the state this reply was computed from, so
	// two concurrently handled replies for the same step cannot both win.
	// The losing reply is dropped; no session lock is held across store I/O.
	if next.Done() {
		if !h.sessions.TakeIf(msg.From.ID, state) {
			return
		}
		h.finishCreation(ctx, gw, msg.Chat.ID, msg.From.ID, state, next)
		return
	}
	if !h.sessions.Replace(msg.From.ID, state, next) {
		return
	}
	h.send(ctx, gw, msg.Chat.ID, dialog.Prompt(next.Step), nil)
}

func (h *Handler) finishCreation(ctx context.Context, gw Gateway, chatID, userID int64, prev, state dialog.State) {
	eventID, err := h.store.CreateEvent(ctx, userID, state.Title, state.Type, state.Time, state.Location)
	if err != nil {
		// Restore the claimed session so the user can resend the last answer.
		log.Error().Err(err).Int64("user_id", userID).Msg("create event")
		h.sessions.Put(userID, prev)
		h.send(ctx, gw, chatID, "Error saving the event. Please try again.", nil)
		return
	}

	ev, err := h.store.GetEvent(ctx, eventID)
	if err != nil {
		log.Error().Err(err).Int64("event_id", eventID).Msg("get event")
		h.send(ctx, gw, chatID, "Event saved, but it could not be displayed. Use /my to manage it.", nil)
		return
	}
	counts, err := h.store.RSVPCounts(ctx, eventID)
	if err != nil {
		log.Error().Err(err).Int64("event_id", eventID).Msg("rsvp counts")
		counts = model.Counts{}
	}
	text := "Event saved! Share it with friends.\n\n" + eventText(ev, renderOptions{
		Counts:     &counts,
		ShowStatus: true,
		InviteLink: h.inviteFor(ctx, gw, eventID),
	})
	h.send(ctx, gw, chatID, text, rsvpKeyboard(eventID))
}

func (h *Handler) handleCallback(ctx context.Context, gw Gateway, cb *models.CallbackQuery) {
	parts := strings.Split(cb.Data, ":")
	switch parts[0] {
	case "view":
		eventID, ok := parseCallbackID(parts)
		if !ok {
			h.answer(ctx, gw, cb.ID, "Invalid event id.", true)
			return
		}
		h.handleViewCallback(ctx, gw, cb, eventID)
	case "delete":
		eventID, ok := parseCallbackID(parts)
		if !ok {
			h.answer(ctx, gw, cb.ID, "Invalid event id.", true)
			return
		}
		h.handleDeleteCallback(ctx, gw, cb, eventID)
	case "rsvp":
		if len(parts) != 3 {
			h.answer(ctx, gw, cb.ID, "Invalid RSVP data.", true)
			return
		}
		eventID, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			h.answer(ctx, gw, cb.ID, "Invalid RSVP data.", true)
			return
		}
		h.handleRSVPCallback(ctx, gw, cb, eventID, parts[2])
	default:
		h.answer(ctx, gw, cb.ID, "Invalid event data.", true)
	}
}

func parseCallbackID(parts []string) (int64, bool) {
	if len(parts) != 2 {
		return 0, false
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (h *Handler) handleViewCallback(ctx context.Context, gw Gateway, cb *models.CallbackQuery, eventID int64) {
	ev, err := h.store.GetEvent(ctx, eventID)
	if errors.Is(err, model.ErrEventNotFound) {
		h.answer(ctx, gw, cb.ID, "Event not found.", true)
		return
	}
	if err != nil {
		log.Error().Err(err).Int64("event_id", eventID).Msg("get event")
		h.answer(ctx, gw, cb.ID, "Something went wrong. Please try again.", true)
		return
	}
	allowed, err := h.hasAccess(ctx, ev, cb.From.ID)
	if err != nil {
		log.Error().Err(err).Int64("event_id", eventID).Msg("check access")
		h.answer(ctx, gw, cb.ID, "Something went wrong. Please try again.", true)
		return
	}
	if !allowed {
		h.answer(ctx, gw, cb.ID, "You do not have access to this event.", true)
		return
	}

	counts, err := h.store.RSVPCounts(ctx, eventID)
	if err != nil {
		log.Error().Err(err).Int64("event_id", eventID).Msg("rsvp counts")
		h.answer(ctx, gw, cb.ID, "Something went wrong. Please try again.", true)
		return
	}
	var status model.Status
	if rsvp, err := h.store.GetRSVP(ctx, eventID, cb.From.ID); err == nil {
		status = rsvp.Status
	}

	opts := renderOptions{ViewerStatus: status, Counts: &counts, ShowStatus: true}
	if ev.OrganizerID == cb.From.ID {
		opts.InviteLink = h.inviteFor(ctx, gw, eventID)
	}
	h.answer(ctx, gw, cb.ID, "", false)
	chatID, _ := callbackOrigin(cb)
	if chatID == 0 {
		return
	}
	h.send(ctx, gw, chatID, eventText(ev, opts), rsvpKeyboard(eventID))
}

func (h *Handler) handleDeleteCallback(ctx context.Context, gw Gateway, cb *models.CallbackQuery, eventID int64) {
	ev, err := h.store.GetEvent(ctx, eventID)
	if errors.Is(err, model.ErrEventNotFound) || (err == nil && ev.OrganizerID != cb.From.ID) {
		h.answer(ctx, gw, cb.ID, "You can only delete your own events.", true)
		return
	}
	if err != nil {
		log.Error().Err(err).Int64("event_id", eventID).Msg("get event")
		h.answer(ctx, gw, cb.ID, "Something went wrong. Please try again.", true)
		return
	}

	deleted, err := h.store.DeleteEvent(ctx, eventID, cb.From.ID)
	if err != nil {
		log.Error().Err(err).Int64("event_id", eventID).Msg("delete event")
		h.answer(ctx, gw, cb.ID, "Something went wrong. Please try again.", true)
		return
	}
	if !deleted {
		h.answer(ctx, gw, cb.ID, "Event not found.", true)
		return
	}
	h.answer(ctx, gw, cb.ID, "Event deleted.", false)
	chatID, messageID := callbackOrigin(cb)
	h.editOrSend(ctx, gw, chatID, messageID, "Event deleted.", nil)
}

func (h *Handler) handleRSVPCallback(ctx context.Context, gw Gateway, cb *models.CallbackQuery, eventID int64, rawStatus string) {
	status, ok := model.ParseStatus(rawStatus)
	if !ok {
		h.answer(ctx, gw, cb.ID, "Unknown option.", true)
		return
	}
	ev, err := h.store.GetEvent(ctx, eventID)
	if errors.Is(err, model.ErrEventNotFound) {
		h.answer(ctx, gw, cb.ID, "Event not found.", true)
		return
	}
	if err != nil {
		log.Error().Err(err).Int64("event_id", eventID).Msg("get event")
		h.answer(ctx, gw, cb.ID, "Something went wrong. Please try again.", true)
		return
	}
	allowed, err := h.hasAccess(ctx, ev, cb.From.ID)
	if err != nil {
		log.Error().Err(err).Int64("event_id", eventID).Msg("check access")
		h.answer(ctx, gw, cb.ID, "Something went wrong. Please try again.", true)
		return
	}
	if !allowed {
		h.answer(ctx, gw, cb.ID, "Join via the invite link first.", true)
		return
	}

	if err := h.store.UpsertRSVP(ctx, eventID, cb.From.ID, status); err != nil {
		log.Error().Err(err).Int64("event_id", eventID).Msg("upsert rsvp")
		h.answer(ctx, gw, cb.ID, "Something went wrong. Please try again.", true)
		return
	}
	counts, err := h.store.RSVPCounts(ctx, eventID)
	if err != nil {
		log.Error().Err(err).Int64("event_id", eventID).Msg("rsvp counts")
		h.answer(ctx, gw, cb.ID, "Something went wrong. Please try again.", true)
		return
	}

	opts := renderOptions{ViewerStatus: status, Counts: &counts, ShowStatus: true}
	if ev.OrganizerID == cb.From.ID {
		opts.InviteLink = h.inviteFor(ctx, gw, eventID)
	}
	chatID, messageID := callbackOrigin(cb)
	h.editOrSend(ctx, gw, chatID, messageID, eventText(ev, opts), rsvpKeyboard(eventID))
	h.answer(ctx, gw, cb.ID, "RSVP set to "+status.Label()+".", false)
}

// hasAccess implements the join-gate: the organizer or anyone with an RSVP
// row (including the implicit "maybe" created by opening the invite).
func (h *Handler) hasAccess(ctx context.Context, ev model.Event, userID int64) (bool, error) {
	if ev.OrganizerID == userID {
		return true, nil
	}
	_, err := h.store.GetRSVP(ctx, ev.ID, userID)
	if errors.Is(err, model.ErrRSVPNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// inviteFor builds the invite link, or "" when the bot identity is unknown.
func (h *Handler) inviteFor(ctx context.Context, gw Gateway, eventID int64) string {
	username := h.botUsername(ctx, gw)
	if username == "" {
		return ""
	}
	return inviteLink(username, eventID)
}

// botUsername caches the bot identity for the process lifetime. Concurrent
// first-callers may both fetch; the result is idempotent. A failed fetch is
// not cached.
func (h *Handler) botUsername(ctx context.Context, gw Gateway) string {
	if v, ok := h.username.Load().(string); ok && v != "" {
		return v
	}
	me, err := gw.GetMe(ctx)
	if err != nil || me == nil || me.Username == "" {
		log.Warn().Err(err).Msg("fetch bot identity")
		return ""
	}
	h.username.Store(me.Username)
	return me.Username
}

func (h *Handler) send(ctx context.Context, gw Gateway, chatID int64, text string, markup models.ReplyMarkup) {
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}
	if markup != nil {
		params.ReplyMarkup = markup
	}
	if _, err := gw.SendMessage(ctx, params); err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Msg("send message")
	}
}

// editOrSend updates the originating message in place and falls back to a
// fresh message when the gateway rejects the edit.
func (h *Handler) editOrSend(ctx context.Context, gw Gateway, chatID int64, messageID int, text string, markup models.ReplyMarkup) {
	if chatID == 0 {
		return
	}
	if messageID != 0 {
		params := &bot.EditMessageTextParams{
			ChatID:    chatID,
			MessageID: messageID,
			Text:      text,
			ParseMode: models.ParseModeHTML,
		}
		if markup != nil {
			params.ReplyMarkup = markup
		}
		_, err := gw.EditMessageText(ctx, params)
		if err == nil {
			return
		}
		log.Warn().Err(err).Int64("chat_id", chatID).Msg("edit message failed, sending a new one")
	}
	h.send(ctx, gw, chatID, text, markup)
}

func (h *Handler) answer(ctx context.Context, gw Gateway, callbackID, text string, alert bool) {
	params := &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
		ShowAlert:       alert,
	}
	if _, err := gw.AnswerCallbackQuery(ctx, params); err != nil {
		log.Error().Err(err).Msg("answer callback query")
	}
}

func callbackOrigin(cb *models.CallbackQuery) (int64, int) {
	if cb.Message.Message != nil {
		return cb.Message.Message.Chat.ID, cb.Message.Message.ID
	}
	if cb.Message.InaccessibleMessage != nil {
		return cb.Message.InaccessibleMessage.Chat.ID, cb.Message.InaccessibleMessage.MessageID
	}
	return 0, 0
}
