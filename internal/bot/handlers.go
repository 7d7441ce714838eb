package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"tg_forwarder/internal/filter"
	"tg_forwarder/internal/model"
	"tg_forwarder/internal/state"
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to the forwarding bot!

Bind a source chat to a target chat and every message flows through the
filter pipeline into the target.

Quick start:
1. /bind <source> <target> — create a forwarding rule
2. /addkw <id> <word> — add a keyword filter
3. /rule <id> — inspect the rule

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Rule management:
/bind <source> <target> — create a forwarding rule
/unbind <id> — delete a rule (cascades all settings)
/list — show all rules
/rule <id> — rule details
/enable <id> | /disable <id> — toggle a rule
/mode <id> <whitelist|blacklist|whitelist_then_blacklist|blacklist_then_whitelist>

Keywords and rewriting:
/addkw <id> [-b|-w] [-r] <text> — add keyword (default list per rule)
/rmkw <id> <n> [n...] — delete keywords by their listed position
/kws <id> — list keywords
/addreplace <id> <pattern> <replacement> — add a replace rule
/rmreplace <id> <n> [n...] — delete replace rules by position
/replaces <id> — list replace rules

Media filters:
/mediatype <id> <photo|document|video|audio|voice> — toggle a type block
/addext <id> <ext> [ext...] — add extensions to the filter list
/rmext <id> <ext_id> — remove an extension
/exts <id> — list extensions

Push and sync:
/addpush <id> [url] — attach a push channel (asks for the URL if omitted)
/rmpush <id> <url> | /togglepush <id> <url> | /pushes <id>
/syncadd <id> <peer_id> — mirror future changes onto the peer rule
/syncrm <id> <peer_id> | /syncs <id>

Summaries:
/summary <id> — run the daily digest now
/settime <id> <HH:MM> — change the daily summary time
/setprompt <id> — set the AI prompt (next message is the prompt)
/setsummaryprompt <id> — set the summary prompt

/cancel — abort a pending prompt`)
}

func (b *Bot) handleBind(ctx context.Context, chatID int64, args string) {
	parts := strings.Fields(args)
	if len(parts) != 2 {
		b.reply(chatID, "Usage: /bind <source> <target>")
		return
	}

	source, err := b.upsertChatFor(ctx, parts[0])
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to resolve source: %v", err))
		return
	}
	target, err := b.upsertChatFor(ctx, parts[1])
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to resolve target: %v", err))
		return
	}

	if existing, err := b.store.GetRuleByChats(ctx, source.ID, target.ID); err == nil {
		b.reply(chatID, fmt.Sprintf("Rule #%d already forwards %s → %s.", existing.ID, source.DisplayName, target.DisplayName))
		return
	}

	rule := b.defaultRule(source.ID, target.ID)
	if err := b.store.CreateRule(ctx, rule); err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to create rule: %v", err))
		return
	}

	b.reply(chatID, fmt.Sprintf("Rule #%d created: %s → %s\nEnabled, forward mode %s. Use /rule %d for details.",
		rule.ID, source.DisplayName, target.DisplayName, rule.ForwardMode, rule.ID))
}

// upsertChatFor resolves an id or @link to an entity and records the chat.
// Unresolvable ids are stored with the raw identifier as name.
func (b *Bot) upsertChatFor(ctx context.Context, idOrLink string) (*model.Chat, error) {
	telegramID := idOrLink
	displayName := idOrLink

	if b.io != nil && b.io.User != nil {
		if entity, err := b.io.User.GetEntity(ctx, idOrLink); err == nil {
			telegramID = strconv.FormatInt(entity.ID, 10)
			if name := entity.DisplayName(); name != "" {
				displayName = name
			}
		}
	}
	if _, err := strconv.ParseInt(telegramID, 10, 64); err != nil {
		return nil, fmt.Errorf("cannot resolve %q to a chat id", idOrLink)
	}
	return b.store.UpsertChat(ctx, telegramID, displayName)
}

func (b *Bot) defaultRule(sourceChatID, targetChatID int64) *model.Rule {
	return &model.Rule{
		SourceChatID:        sourceChatID,
		TargetChatID:        targetChatID,
		Enabled:             true,
		HandleMode:          model.HandleForward,
		AddMode:             model.AddWhitelist,
		ForwardMode:         model.ForwardBlacklist,
		MessageMode:         model.MessageMarkdown,
		PreviewMode:         model.PreviewFollow,
		ExtensionFilterMode: model.ExtensionBlacklist,
		MaxMediaSizeMB:      b.cfg.DefaultMaxMediaSize,
		SummaryTime:         b.cfg.DefaultSummaryTime,
	}
}

func (b *Bot) handleUnbind(ctx context.Context, chatID int64, args string) {
	rule, err := b.ruleFromArgs(ctx, args)
	if err != nil {
		b.reply(chatID, "Usage: /unbind <rule_id>")
		return
	}

	if err := b.store.DeleteRule(ctx, rule.ID); err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to delete rule: %v", err))
		return
	}
	b.summary.Cancel(rule.ID)
	if err := b.entries.DeleteRule(rule.ID); err != nil {
		b.log.Warn("purge rss data failed", "rule_id", rule.ID, "error", err)
	}
	b.reply(chatID, fmt.Sprintf("Rule #%d deleted.", rule.ID))
}

func (b *Bot) handleList(ctx context.Context, chatID int64) {
	rules, err := b.store.ListRules(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	names := make(map[int64]string)
	for _, r := range rules {
		for _, id := range []int64{r.SourceChatID, r.TargetChatID} {
			if _, ok := names[id]; ok {
				continue
			}
			if chat, err := b.store.GetChat(ctx, id); err == nil {
				names[id] = chat.DisplayName
			}
		}
	}
	b.reply(chatID, FormatRuleList(rules, names))
}

func (b *Bot) handleRule(ctx context.Context, chatID int64, args string) {
	rule, err := b.ruleFromArgs(ctx, args)
	if err != nil {
		b.reply(chatID, "Usage: /rule <id>")
		return
	}

	source, _ := b.store.GetChat(ctx, rule.SourceChatID)
	target, _ := b.store.GetChat(ctx, rule.TargetChatID)
	kws, _ := b.store.ListKeywords(ctx, rule.ID)
	rrs, _ := b.store.ListReplaceRules(ctx, rule.ID)
	pushes, _ := b.store.ListPushConfigs(ctx, rule.ID)
	peers, _ := b.store.ListSyncPeers(ctx, rule.ID)

	b.reply(chatID, FormatRuleInfo(rule, source, target, kws, rrs, pushes, peers))
}

func (b *Bot) handleSetEnabled(ctx context.Context, chatID int64, args string, enabled bool) {
	rule, err := b.ruleFromArgs(ctx, args)
	if err != nil {
		b.reply(chatID, "Usage: /enable <id> or /disable <id>")
		return
	}

	// enabled stays peer-local, so this skips the synchronizer on purpose.
	rule.Enabled = enabled
	if err := b.store.UpdateRule(ctx, rule); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	verb := "disabled"
	if enabled {
		verb = "enabled"
	}
	b.reply(chatID, fmt.Sprintf("Rule #%d %s.", rule.ID, verb))
}

func (b *Bot) handleMode(ctx context.Context, chatID int64, args string) {
	parts := strings.Fields(args)
	if len(parts) != 2 {
		b.reply(chatID, "Usage: /mode <id> <forward_mode>")
		return
	}
	rule, err := b.ruleFromArgs(ctx, parts[0])
	if err != nil {
		b.reply(chatID, "Usage: /mode <id> <forward_mode>")
		return
	}
	mode, err := ParseForwardMode(parts[1])
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	rule.ForwardMode = mode
	if err := b.sync.UpdateRule(ctx, rule); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Rule #%d forward mode set to %s.", rule.ID, mode))
}

func (b *Bot) handleAddKeywords(ctx context.Context, chatID int64, args string) {
	parsed, err := ParseKeywordCommand(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	rule, err := b.store.GetRule(ctx, parsed.RuleID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Rule #%d not found.", parsed.RuleID))
		return
	}

	if parsed.Regex {
		for _, v := range parsed.Values {
			if err := filter.ValidateRegex(v); err != nil {
				b.reply(chatID, err.Error())
				return
			}
		}
	}

	isBlacklist := rule.AddMode == model.AddBlacklist
	if parsed.ListSet {
		isBlacklist = parsed.Blacklist
	}

	kws := make([]model.Keyword, 0, len(parsed.Values))
	for _, v := range parsed.Values {
		kws = append(kws, model.Keyword{
			Text:        v,
			IsRegex:     parsed.Regex,
			IsBlacklist: isBlacklist,
		})
	}
	added, duplicates, err := b.sync.AddKeywords(ctx, rule, kws)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Rule #%d: %d keyword(s) added, %d duplicate(s) skipped.", rule.ID, added, duplicates))
}

func (b *Bot) handleRemoveKeywords(ctx context.Context, chatID int64, args string) {
	ruleID, indexes, err := ParseIndexArgs(args)
	if err != nil {
		b.reply(chatID, "Usage: /rmkw <id> <n> [n...]")
		return
	}
	rule, err := b.store.GetRule(ctx, ruleID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Rule #%d not found.", ruleID))
		return
	}

	deleted, err := b.sync.DeleteKeywordsByIndex(ctx, rule, indexes)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Rule #%d: %d keyword(s) deleted.", rule.ID, deleted))
}

func (b *Bot) handleListKeywords(ctx context.Context, chatID int64, args string) {
	rule, err := b.ruleFromArgs(ctx, args)
	if err != nil {
		b.reply(chatID, "Usage: /kws <id>")
		return
	}
	kws, err := b.store.ListKeywords(ctx, rule.ID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatKeywordList(rule.ID, kws))
}

func (b *Bot) handleAddReplace(ctx context.Context, chatID int64, args string) {
	ruleID, pattern, replacement, err := ParseReplaceArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	rule, err := b.store.GetRule(ctx, ruleID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Rule #%d not found.", ruleID))
		return
	}
	if pattern != model.FullTextPattern {
		if err := filter.ValidateRegex(pattern); err != nil {
			b.reply(chatID, err.Error())
			return
		}
	}

	added, duplicates, err := b.sync.AddReplaceRules(ctx, rule, []model.ReplaceRule{
		{Pattern: pattern, Replacement: replacement},
	})
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Rule #%d: %d replace rule(s) added, %d duplicate(s).", rule.ID, added, duplicates))
}

func (b *Bot) handleRemoveReplace(ctx context.Context, chatID int64, args string) {
	ruleID, indexes, err := ParseIndexArgs(args)
	if err != nil {
		b.reply(chatID, "Usage: /rmreplace <id> <n> [n...]")
		return
	}
	rule, err := b.store.GetRule(ctx, ruleID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Rule #%d not found.", ruleID))
		return
	}

	deleted, err := b.sync.DeleteReplaceRulesByIndex(ctx, rule, indexes)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Rule #%d: %d replace rule(s) deleted.", rule.ID, deleted))
}

func (b *Bot) handleListReplace(ctx context.Context, chatID int64, args string) {
	rule, err := b.ruleFromArgs(ctx, args)
	if err != nil {
		b.reply(chatID, "Usage: /replaces <id>")
		return
	}
	rrs, err := b.store.ListReplaceRules(ctx, rule.ID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatReplaceList(rule.ID, rrs))
}

func (b *Bot) handleAddExtensions(ctx context.Context, chatID int64, args string) {
	parts := strings.Fields(args)
	if len(parts) < 2 {
		b.reply(chatID, "Usage: /addext <id> <ext> [ext...]")
		return
	}
	rule, err := b.ruleFromArgs(ctx, parts[0])
	if err != nil {
		b.reply(chatID, "Usage: /addext <id> <ext> [ext...]")
		return
	}

	exts := make([]string, 0, len(parts)-1)
	for _, e := range parts[1:] {
		exts = append(exts, strings.ToLower(strings.TrimPrefix(e, ".")))
	}
	added, duplicates, err := b.sync.AddMediaExtensions(ctx, rule, exts)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Rule #%d: %d extension(s) added, %d duplicate(s).", rule.ID, added, duplicates))
}

func (b *Bot) handleRemoveExtension(ctx context.Context, chatID int64, args string) {
	parts := strings.Fields(args)
	if len(parts) != 2 {
		b.reply(chatID, "Usage: /rmext <id> <ext_id>")
		return
	}
	rule, err := b.ruleFromArgs(ctx, parts[0])
	if err != nil {
		b.reply(chatID, "Usage: /rmext <id> <ext_id>")
		return
	}
	extID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Invalid extension id %q.", parts[1]))
		return
	}

	if err := b.sync.DeleteMediaExtension(ctx, rule, extID); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Rule #%d: extension removed.", rule.ID))
}

func (b *Bot) handleListExtensions(ctx context.Context, chatID int64, args string) {
	rule, err := b.ruleFromArgs(ctx, args)
	if err != nil {
		b.reply(chatID, "Usage: /exts <id>")
		return
	}
	exts, err := b.store.ListMediaExtensions(ctx, rule.ID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatExtensionList(rule, exts))
}

func (b *Bot) handleToggleMediaType(ctx context.Context, chatID int64, args string) {
	parts := strings.Fields(args)
	if len(parts) != 2 {
		b.reply(chatID, "Usage: /mediatype <id> <photo|document|video|audio|voice>")
		return
	}
	rule, err := b.ruleFromArgs(ctx, parts[0])
	if err != nil {
		b.reply(chatID, "Usage: /mediatype <id> <kind>")
		return
	}
	kind, err := ParseMediaKind(parts[1])
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	blocked, err := b.sync.ToggleMediaType(ctx, rule, kind)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	stateWord := "allowed"
	if blocked {
		stateWord = "blocked"
	}
	b.reply(chatID, fmt.Sprintf("Rule #%d: %s is now %s.", rule.ID, kind, stateWord))
}

func (b *Bot) handleAddPush(ctx context.Context, chatID, userID int64, args string) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		b.reply(chatID, "Usage: /addpush <id> [url]")
		return
	}
	rule, err := b.ruleFromArgs(ctx, parts[0])
	if err != nil {
		b.reply(chatID, "Usage: /addpush <id> [url]")
		return
	}

	if len(parts) == 1 {
		b.states.Set(userID, chatID, state.State{Tag: state.TagAddPushChannel, RuleID: rule.ID})
		b.reply(chatID, fmt.Sprintf("Send the push channel URL for rule #%d (e.g. ntfy://host/topic), or /cancel.", rule.ID))
		return
	}

	created, err := b.sync.AddPushConfig(ctx, rule, parts[1])
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	if !created {
		b.reply(chatID, fmt.Sprintf("Rule #%d already has that push channel.", rule.ID))
		return
	}
	b.reply(chatID, fmt.Sprintf("Rule #%d: push channel added.", rule.ID))
}

func (b *Bot) handleRemovePush(ctx context.Context, chatID int64, args string) {
	parts := strings.Fields(args)
	if len(parts) != 2 {
		b.reply(chatID, "Usage: /rmpush <id> <url>")
		return
	}
	rule, err := b.ruleFromArgs(ctx, parts[0])
	if err != nil {
		b.reply(chatID, "Usage: /rmpush <id> <url>")
		return
	}

	if err := b.sync.DeletePushConfig(ctx, rule, parts[1]); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Rule #%d: push channel removed.", rule.ID))
}

func (b *Bot) handleTogglePush(ctx context.Context, chatID int64, args string) {
	parts := strings.Fields(args)
	if len(parts) != 2 {
		b.reply(chatID, "Usage: /togglepush <id> <url>")
		return
	}
	rule, err := b.ruleFromArgs(ctx, parts[0])
	if err != nil {
		b.reply(chatID, "Usage: /togglepush <id> <url>")
		return
	}

	enabled, err := b.sync.TogglePushConfig(ctx, rule, parts[1])
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	stateWord := "disabled"
	if enabled {
		stateWord = "enabled"
	}
	b.reply(chatID, fmt.Sprintf("Rule #%d: push channel %s.", rule.ID, stateWord))
}

func (b *Bot) handleListPush(ctx context.Context, chatID int64, args string) {
	rule, err := b.ruleFromArgs(ctx, args)
	if err != nil {
		b.reply(chatID, "Usage: /pushes <id>")
		return
	}
	configs, err := b.store.ListPushConfigs(ctx, rule.ID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatPushList(rule.ID, configs))
}

func (b *Bot) handleSyncAdd(ctx context.Context, chatID int64, args string) {
	ruleID, peerID, err := ParsePairArgs(args)
	if err != nil {
		b.reply(chatID, "Usage: /syncadd <id> <peer_id>")
		return
	}
	if err := b.store.AddRuleSync(ctx, ruleID, peerID); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Rule #%d now syncs to #%d.", ruleID, peerID))
}

func (b *Bot) handleSyncRemove(ctx context.Context, chatID int64, args string) {
	ruleID, peerID, err := ParsePairArgs(args)
	if err != nil {
		b.reply(chatID, "Usage: /syncrm <id> <peer_id>")
		return
	}
	if err := b.store.DeleteRuleSync(ctx, ruleID, peerID); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Sync edge #%d → #%d removed.", ruleID, peerID))
}

func (b *Bot) handleListSyncs(ctx context.Context, chatID int64, args string) {
	rule, err := b.ruleFromArgs(ctx, args)
	if err != nil {
		b.reply(chatID, "Usage: /syncs <id>")
		return
	}
	peers, err := b.store.ListSyncPeers(ctx, rule.ID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	if len(peers) == 0 {
		b.reply(chatID, fmt.Sprintf("Rule #%d has no sync peers.", rule.ID))
		return
	}
	labels := make([]string, 0, len(peers))
	for _, p := range peers {
		labels = append(labels, fmt.Sprintf("#%d", p))
	}
	b.reply(chatID, fmt.Sprintf("Rule #%d syncs to: %s", rule.ID, strings.Join(labels, ", ")))
}

func (b *Bot) handleSummaryNow(ctx context.Context, chatID int64, args string) {
	rule, err := b.ruleFromArgs(ctx, args)
	if err != nil {
		b.reply(chatID, "Usage: /summary <id>")
		return
	}

	b.reply(chatID, fmt.Sprintf("Running summary for rule #%d...", rule.ID))
	go func() {
		if err := b.summary.RunNow(context.Background(), rule); err != nil {
			b.log.Error("manual summary failed", "rule_id", rule.ID, "error", err)
			b.reply(chatID, fmt.Sprintf("Summary for rule #%d failed: %v", rule.ID, err))
		}
	}()
}

func (b *Bot) handleSetSummaryTime(ctx context.Context, chatID int64, args string) {
	parts := strings.Fields(args)
	if len(parts) != 2 {
		b.reply(chatID, "Usage: /settime <id> <HH:MM>")
		return
	}
	rule, err := b.ruleFromArgs(ctx, parts[0])
	if err != nil {
		b.reply(chatID, "Usage: /settime <id> <HH:MM>")
		return
	}

	rule.SummaryTime = parts[1]
	if err := b.sync.UpdateRule(ctx, rule); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.summary.Schedule(rule)
	b.reply(chatID, fmt.Sprintf("Rule #%d summary time set to %s.", rule.ID, rule.SummaryTime))
}

func (b *Bot) handlePromptState(chatID, userID int64, args string, tag, label string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("A rule ID is required to set the %s.", label))
		return
	}

	b.states.Set(userID, chatID, state.State{Tag: tag, RuleID: id})
	b.reply(chatID, fmt.Sprintf("Send the new %s for rule #%d, or /cancel.", label, id))
}

func (b *Bot) handleCancel(chatID, userID int64) {
	if b.states.Cancel(userID, chatID) {
		b.reply(chatID, "Cancelled.")
		return
	}
	b.reply(chatID, "Nothing to cancel.")
}

func (b *Bot) ruleFromArgs(ctx context.Context, args string) (*model.Rule, error) {
	id, err := ParseIDArg(args)
	if err != nil {
		return nil, err
	}
	return b.store.GetRule(ctx, id)
}
