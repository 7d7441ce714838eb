package bot

import (
	"fmt"
	"strings"

	"tg_forwarder/internal/model"
)

const (
	statusEnabled  = "enabled"
	statusDisabled = "disabled"
)

// FormatRuleList formats all rules for display. names maps chat ids to
// display names.
func FormatRuleList(rules []model.Rule, names map[int64]string) string {
	if len(rules) == 0 {
		return "No rules yet. Use /bind <source> <target> to create one."
	}
	var b strings.Builder
	b.WriteString("Rules:\n")
	for _, r := range rules {
		status := statusEnabled
		if !r.Enabled {
			status = statusDisabled
		}
		fmt.Fprintf(&b, "\n#%d %s → %s [%s]\n", r.ID, chatLabel(names, r.SourceChatID), chatLabel(names, r.TargetChatID), status)
		fmt.Fprintf(&b, "   mode %s", r.ForwardMode)
		var extras []string
		if r.AIEnabled {
			extras = append(extras, "ai")
		}
		if r.SummaryEnabled {
			extras = append(extras, "summary "+r.SummaryTime)
		}
		if r.PushEnabled {
			extras = append(extras, "push")
		}
		if r.SyncEnabled {
			extras = append(extras, "sync")
		}
		if r.OnlyRSS {
			extras = append(extras, "rss-only")
		}
		if len(extras) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(extras, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func chatLabel(names map[int64]string, chatID int64) string {
	if name, ok := names[chatID]; ok && name != "" {
		return name
	}
	return fmt.Sprintf("chat %d", chatID)
}

// FormatRuleInfo formats detailed information about a single rule.
func FormatRuleInfo(rule *model.Rule, source, target *model.Chat, kws []model.Keyword,
	rrs []model.ReplaceRule, pushes []model.PushConfig, peers []int64) string {

	var b strings.Builder
	status := statusEnabled
	if !rule.Enabled {
		status = statusDisabled
	}

	sourceName := fmt.Sprintf("chat %d", rule.SourceChatID)
	if source != nil {
		sourceName = source.DisplayName
	}
	targetName := fmt.Sprintf("chat %d", rule.TargetChatID)
	if target != nil {
		targetName = target.DisplayName
	}

	fmt.Fprintf(&b, "#%d %s → %s [%s]\n", rule.ID, sourceName, targetName, status)
	fmt.Fprintf(&b, "Handle: %s, forward mode: %s, add mode: %s\n", rule.HandleMode, rule.ForwardMode, rule.AddMode)
	fmt.Fprintf(&b, "Message mode: %s, preview: %s\n", rule.MessageMode, rule.PreviewMode)

	var wl, bl int
	for _, k := range kws {
		if k.IsBlacklist {
			bl++
		} else {
			wl++
		}
	}
	fmt.Fprintf(&b, "Keywords: %d whitelist, %d blacklist\n", wl, bl)
	fmt.Fprintf(&b, "Replace rules: %d (replace %s)\n", len(rrs), onOff(rule.ReplaceEnabled))

	fmt.Fprintf(&b, "Media: type filter %s, size filter %s (max %.2fMB), extension filter %s (%s)\n",
		onOff(rule.MediaTypeFilterEnabled), onOff(rule.MediaSizeFilterEnabled),
		rule.MaxMediaSizeMB, onOff(rule.ExtensionFilterEnabled), rule.ExtensionFilterMode)

	fmt.Fprintf(&b, "AI: %s", onOff(rule.AIEnabled))
	if rule.AIModel != "" {
		fmt.Fprintf(&b, " (%s)", rule.AIModel)
	}
	fmt.Fprintf(&b, ", summary: %s at %s, pin: %s\n", onOff(rule.SummaryEnabled), rule.SummaryTime, onOff(rule.PinSummary))

	fmt.Fprintf(&b, "Push: %s (%d channels), sync: %s (%d peers)\n",
		onOff(rule.PushEnabled), len(pushes), onOff(rule.SyncEnabled), len(peers))

	var flags []string
	if rule.OnlyRSS {
		flags = append(flags, "only_rss")
	}
	if rule.OnlyPush {
		flags = append(flags, "only_push")
	}
	if rule.DeleteOriginal {
		flags = append(flags, "delete_original")
	}
	if rule.DelayEnabled {
		flags = append(flags, fmt.Sprintf("delay %ds", rule.DelaySeconds))
	}
	if rule.CommentButtonEnabled {
		flags = append(flags, "comment_button")
	}
	if len(flags) > 0 {
		fmt.Fprintf(&b, "Flags: %s\n", strings.Join(flags, ", "))
	}
	return b.String()
}

// FormatKeywordList formats a rule's keywords with their 1-based
// positions, the index space /rmkw consumes.
func FormatKeywordList(ruleID int64, kws []model.Keyword) string {
	if len(kws) == 0 {
		return fmt.Sprintf("Rule #%d has no keywords. Use /addkw to add some.", ruleID)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Keywords for rule #%d:\n", ruleID)
	for i, k := range kws {
		list := "whitelist"
		if k.IsBlacklist {
			list = "blacklist"
		}
		kind := "text"
		if k.IsRegex {
			kind = "regex"
		}
		fmt.Fprintf(&b, "%d. %s (%s, %s)\n", i+1, k.Text, list, kind)
	}
	return b.String()
}

// FormatReplaceList formats a rule's replace rules with their positions.
func FormatReplaceList(ruleID int64, rrs []model.ReplaceRule) string {
	if len(rrs) == 0 {
		return fmt.Sprintf("Rule #%d has no replace rules. Use /addreplace to add one.", ruleID)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Replace rules for rule #%d:\n", ruleID)
	for i, r := range rrs {
		label := r.Pattern
		if r.Pattern == model.FullTextPattern {
			label = "<full text>"
		}
		fmt.Fprintf(&b, "%d. %s → %q\n", i+1, label, r.Replacement)
	}
	return b.String()
}

// FormatExtensionList formats a rule's extension filter entries with the
// ids /rmext consumes.
func FormatExtensionList(rule *model.Rule, exts []model.MediaExtension) string {
	if len(exts) == 0 {
		return fmt.Sprintf("Rule #%d has no extensions in its %s. Use /addext to add some.", rule.ID, rule.ExtensionFilterMode)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Extension %s for rule #%d:\n", rule.ExtensionFilterMode, rule.ID)
	for _, e := range exts {
		fmt.Fprintf(&b, "  E%d: %s\n", e.ID, e.Extension)
	}
	return b.String()
}

// FormatPushList formats a rule's push channels.
func FormatPushList(ruleID int64, configs []model.PushConfig) string {
	if len(configs) == 0 {
		return fmt.Sprintf("Rule #%d has no push channels. Use /addpush to attach one.", ruleID)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Push channels for rule #%d:\n", ruleID)
	for _, c := range configs {
		status := statusEnabled
		if !c.Enabled {
			status = statusDisabled
		}
		fmt.Fprintf(&b, "  %s [%s, %s]\n", c.ChannelURL, status, c.MediaSendMode)
	}
	return b.String()
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
