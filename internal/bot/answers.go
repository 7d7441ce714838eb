package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tg_forwarder/internal/state"
)

// consumeStateAnswer applies a free-text message as the answer to a
// pending interaction state. Returns false when the (user, chat) pair has
// no pending question, leaving the message to the dispatcher.
func (b *Bot) consumeStateAnswer(ctx context.Context, msg *tgbotapi.Message) bool {
	answer := strings.TrimSpace(msg.Text)
	if answer == "" {
		return false
	}

	st, ok := b.states.Take(msg.From.ID, msg.Chat.ID)
	if !ok {
		return false
	}

	rule, err := b.store.GetRule(ctx, st.RuleID)
	if err != nil {
		b.reply(msg.Chat.ID, fmt.Sprintf("Rule #%d no longer exists.", st.RuleID))
		return true
	}

	switch st.Tag {
	case state.TagAIPrompt:
		rule.AIPrompt = answer
	case state.TagSummaryPrompt:
		rule.SummaryPrompt = answer
	case state.TagUserInfoTemplate:
		rule.UserInfoTemplate = answer
	case state.TagTimeTemplate:
		rule.TimeTemplate = answer
	case state.TagOriginalLinkTemplate:
		rule.OriginalLinkTemplate = answer
	case state.TagAddPushChannel:
		created, err := b.sync.AddPushConfig(ctx, rule, answer)
		if err != nil {
			b.reply(msg.Chat.ID, fmt.Sprintf("Error: %v", err))
			return true
		}
		if !created {
			b.reply(msg.Chat.ID, fmt.Sprintf("Rule #%d already has that push channel.", rule.ID))
			return true
		}
		b.reply(msg.Chat.ID, fmt.Sprintf("Rule #%d: push channel added.", rule.ID))
		return true
	default:
		b.log.Warn("unknown interaction state", "tag", st.Tag)
		return true
	}

	if err := b.sync.UpdateRule(ctx, rule); err != nil {
		b.reply(msg.Chat.ID, fmt.Sprintf("Error: %v", err))
		return true
	}
	b.reply(msg.Chat.ID, fmt.Sprintf("Rule #%d updated.", rule.ID))
	return true
}
