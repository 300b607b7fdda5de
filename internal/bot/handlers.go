package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/forumbridge/chatbridge/internal/domain"
	"github.com/forumbridge/chatbridge/internal/logging"
	"github.com/forumbridge/chatbridge/internal/metrics"
)

// Config contains command bot settings
type Config struct {
	// First token that marks a message as a command
	CommandPrefix string

	// Users allowed to issue commands
	PermittedUsers []string
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		CommandPrefix: "/discourse",
	}
}

// Handler interprets inbound chat messages as commands and executes them
// against the rule store, replying in the originating room. It is
// stateless across messages and safe to drive from a single reactor
// goroutine.
type Handler struct {
	config    Config
	store     domain.RuleStore
	forum     domain.ForumLookup
	messenger domain.Messenger
	permitted map[string]struct{}
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// NewHandler creates a command handler
func NewHandler(config Config, store domain.RuleStore, forum domain.ForumLookup, messenger domain.Messenger) *Handler {
	if config.CommandPrefix == "" {
		config.CommandPrefix = DefaultConfig().CommandPrefix
	}

	permitted := make(map[string]struct{}, len(config.PermittedUsers))
	for _, user := range config.PermittedUsers {
		permitted[user] = struct{}{}
	}

	return &Handler{
		config:    config,
		store:     store,
		forum:     forum,
		messenger: messenger,
		permitted: permitted,
		logger:    logging.Component("bot"),
		metrics:   metrics.GetMetrics(),
	}
}

// HandleMessage processes one inbound chat message. Messages that are not
// commands are ignored. Nothing here ever propagates an error or panic to
// the caller: the reactor must keep serving other rooms.
func (h *Handler) HandleMessage(ctx context.Context, event domain.ChatEvent) {
	defer func() {
		if r := recover(); r != nil {
			h.metrics.CommandErrorsTotal.Inc()
			h.logger.Error().
				Interface("panic", r).
				Str("room", event.Room).
				Str("user", event.FromUser).
				Msg("Recovered from panic while handling message")
		}
	}()

	cmd, ok := ParseCommand(event.Text, event.FromUser, h.config.CommandPrefix)
	if !ok {
		return
	}

	if _, allowed := h.permitted[cmd.User]; !allowed {
		h.metrics.RepliesRejectedAuth.Inc()
		h.reply(ctx, event, fmt.Sprintf("@%s you are not allowed to manage notification rules.", cmd.User))
		return
	}

	h.metrics.CommandsTotal.WithLabelValues(cmd.Verb).Inc()

	switch cmd.Verb {
	case "status":
		h.sendStatus(ctx, event)
	case "remove":
		h.handleRemove(ctx, event, cmd.Args)
	case "watch", "follow", "mute":
		filter, _ := domain.ParseFilterKind(cmd.Verb)
		h.handleAddRule(ctx, event, filter, cmd.Args)
	default:
		h.reply(ctx, event, "Unknown command. Available commands: status, watch, follow, mute, remove.")
	}
}

func (h *Handler) sendStatus(ctx context.Context, event domain.ChatEvent) {
	rules, err := h.store.GetRoomRules(event.Room)
	if err != nil {
		h.fail(event, err, "Failed to load rules")
		return
	}

	report := FormatStatus(rules, func(id int64) (string, bool) {
		category, ok, err := h.forum.CategoryByID(ctx, id)
		if err != nil || !ok {
			return "", false
		}
		return category.Name, true
	})
	h.reply(ctx, event, report)
}

func (h *Handler) handleRemove(ctx context.Context, event domain.ChatEvent, args []string) {
	rules, err := h.store.GetRoomRules(event.Room)
	if err != nil {
		h.fail(event, err, "Failed to load rules")
		return
	}

	// Indices shown in the chat begin at 1.
	index := 0
	if len(args) > 0 {
		index, _ = strconv.Atoi(args[0])
	}
	if index < 1 || index > len(rules) {
		h.reply(ctx, event, "There is no rule with that index.")
		return
	}

	rule := rules[index-1]
	if err := h.store.DeleteRule(rule.CategoryID, rule.RoomName, rule.Filter, rule.Tags); err != nil {
		h.fail(event, err, "Failed to delete rule")
		return
	}
	h.sendStatus(ctx, event)
}

func (h *Handler) handleAddRule(ctx context.Context, event domain.ChatEvent, filter domain.FilterKind, args []string) {
	parsed := ParseRuleArgs(args)

	var tags []string
	if parsed.HasTags {
		found, missing, err := h.forum.TagsByName(ctx, parsed.Tags)
		if err != nil {
			h.fail(event, err, "Failed to look up tags")
			return
		}
		if len(missing) > 0 {
			h.reply(ctx, event, fmt.Sprintf("Unknown tags: %s.", strings.Join(missing, ", ")))
			return
		}
		tags = found
	}

	var categoryID *int64
	switch {
	case parsed.Category != "":
		category, ok, err := h.forum.CategoryByName(ctx, parsed.Category)
		if err != nil {
			h.fail(event, err, "Failed to look up category")
			return
		}
		if !ok {
			h.reply(ctx, event, fmt.Sprintf("Unknown category %q.", parsed.Category))
			return
		}
		categoryID = &category.ID
	case parsed.HasTags:
		// Wildcard category: the rule matches everything with the tags.
	default:
		h.reply(ctx, event, "Nothing to add: name a category, a tags: clause, or both.")
		return
	}

	if err := h.store.SetRule(categoryID, event.Room, filter, tags); err != nil {
		h.fail(event, err, "Failed to store rule")
		return
	}
	h.sendStatus(ctx, event)
}

// reply sends a message back into the room the command came from.
func (h *Handler) reply(ctx context.Context, event domain.ChatEvent, text string) {
	if !h.messenger.Send(ctx, event.RoomID, text) {
		h.logger.Warn().Str("room", event.Room).Msg("Reply delivery failed")
	}
}

// fail logs an unexpected error and swallows it.
func (h *Handler) fail(event domain.ChatEvent, err error, msg string) {
	h.metrics.CommandErrorsTotal.Inc()
	h.logger.Error().Err(err).Str("room", event.Room).Msg(msg)
}
