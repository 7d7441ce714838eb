package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tg_forwarder/internal/model"
)

const ruleColumns = `id, source_chat_id, target_chat_id, enabled, use_bot_account, handle_mode, only_rss,
	add_mode, forward_mode, reverse_blacklist, reverse_whitelist, filter_user_info, keyword_after_ai,
	replace_enabled, message_mode, preview_mode,
	include_original_link, original_link_template, include_sender, userinfo_template, include_time, time_template,
	delete_original, delay_enabled, delay_seconds,
	media_type_filter_enabled, media_size_filter_enabled, max_media_size_mb, notify_on_oversize,
	extension_filter_enabled, extension_filter_mode, media_allow_text,
	ai_enabled, ai_model, ai_prompt, ai_upload_image,
	summary_enabled, summary_time, summary_prompt, pin_summary,
	comment_button_enabled, sync_enabled, push_enabled, only_push, created_at`

// CreateRule inserts a new rule and populates its ID and CreatedAt.
func (s *SQLite) CreateRule(ctx context.Context, rule *model.Rule) error {
	if err := validateRule(rule); err != nil {
		return err
	}
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO rules (source_chat_id, target_chat_id, enabled, use_bot_account, handle_mode, only_rss,
			add_mode, forward_mode, reverse_blacklist, reverse_whitelist, filter_user_info, keyword_after_ai,
			replace_enabled, message_mode, preview_mode,
			include_original_link, original_link_template, include_sender, userinfo_template, include_time, time_template,
			delete_original, delay_enabled, delay_seconds,
			media_type_filter_enabled, media_size_filter_enabled, max_media_size_mb, notify_on_oversize,
			extension_filter_enabled, extension_filter_mode, media_allow_text,
			ai_enabled, ai_model, ai_prompt, ai_upload_image,
			summary_enabled, summary_time, summary_prompt, pin_summary,
			comment_button_enabled, sync_enabled, push_enabled, only_push, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ruleArgs(rule, now)...,
	)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	rule.ID = id
	rule.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetRule returns a single rule by its ID.
func (s *SQLite) GetRule(ctx context.Context, id int64) (*model.Rule, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id)
	return scanRule(row)
}

// GetRuleByChats returns the rule for a (source, target) chat pair.
func (s *SQLite) GetRuleByChats(ctx context.Context, sourceChatID, targetChatID int64) (*model.Rule, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE source_chat_id = ? AND target_chat_id = ?`,
		sourceChatID, targetChatID,
	)
	return scanRule(row)
}

// ListRules returns all rules ordered by id.
func (s *SQLite) ListRules(ctx context.Context) ([]model.Rule, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+ruleColumns+` FROM rules ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanRules(rows)
}

// ListRulesForSource returns all enabled rules whose source chat has the
// given Telegram id.
func (s *SQLite) ListRulesForSource(ctx context.Context, telegramID string) ([]model.Rule, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM rules
		 WHERE enabled = 1 AND source_chat_id IN (SELECT id FROM chats WHERE telegram_id = ?)
		 ORDER BY id`,
		telegramID,
	)
	if err != nil {
		return nil, fmt.Errorf("query rules for source: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanRules(rows)
}

// ListSummaryRules returns all rules with summaries enabled.
func (s *SQLite) ListSummaryRules(ctx context.Context) ([]model.Rule, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE summary_enabled = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query summary rules: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanRules(rows)
}

// UpdateRule persists all attributes of an existing rule.
func (s *SQLite) UpdateRule(ctx context.Context, rule *model.Rule) error {
	if err := validateRule(rule); err != nil {
		return err
	}
	_, err := s.q.ExecContext(ctx,
		`UPDATE rules SET source_chat_id = ?, target_chat_id = ?, enabled = ?, use_bot_account = ?, handle_mode = ?, only_rss = ?,
			add_mode = ?, forward_mode = ?, reverse_blacklist = ?, reverse_whitelist = ?, filter_user_info = ?, keyword_after_ai = ?,
			replace_enabled = ?, message_mode = ?, preview_mode = ?,
			include_original_link = ?, original_link_template = ?, include_sender = ?, userinfo_template = ?, include_time = ?, time_template = ?,
			delete_original = ?, delay_enabled = ?, delay_seconds = ?,
			media_type_filter_enabled = ?, media_size_filter_enabled = ?, max_media_size_mb = ?, notify_on_oversize = ?,
			extension_filter_enabled = ?, extension_filter_mode = ?, media_allow_text = ?,
			ai_enabled = ?, ai_model = ?, ai_prompt = ?, ai_upload_image = ?,
			summary_enabled = ?, summary_time = ?, summary_prompt = ?, pin_summary = ?,
			comment_button_enabled = ?, sync_enabled = ?, push_enabled = ?, only_push = ?
		 WHERE id = ?`,
		append(ruleArgs(rule, "")[:43], rule.ID)...,
	)
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	return nil
}

// DeleteRule removes a rule and all its dependent rows: keywords, replace
// rules, media types, media extensions, push configs, sync edges in both
// directions, and the RSS config. Chats left unreferenced by any remaining
// rule are removed, and stale current_edit_rule_id pointers are cleared.
func (s *SQLite) DeleteRule(ctx context.Context, id int64) error {
	return s.WithTx(ctx, func(st Storage) error {
		tx := st.(*SQLite)
		for _, q := range []string{
			`DELETE FROM keywords WHERE rule_id = ?`,
			`DELETE FROM replace_rules WHERE rule_id = ?`,
			`DELETE FROM media_types WHERE rule_id = ?`,
			`DELETE FROM media_extensions WHERE rule_id = ?`,
			`DELETE FROM push_configs WHERE rule_id = ?`,
			`DELETE FROM rss_configs WHERE rule_id = ?`,
			`DELETE FROM rules WHERE id = ?`,
		} {
			if _, err := tx.q.ExecContext(ctx, q, id); err != nil {
				return fmt.Errorf("cascade delete rule: %w", err)
			}
		}
		if _, err := tx.q.ExecContext(ctx,
			`DELETE FROM rule_syncs WHERE rule_id = ? OR peer_rule_id = ?`, id, id); err != nil {
			return fmt.Errorf("delete rule syncs: %w", err)
		}
		return tx.cleanupChats(ctx)
	})
}

// cleanupChats drops chats no rule references and clears edit pointers to
// rules that no longer exist.
func (s *SQLite) cleanupChats(ctx context.Context) error {
	if _, err := s.q.ExecContext(ctx,
		`DELETE FROM chats WHERE id NOT IN
			(SELECT source_chat_id FROM rules UNION SELECT target_chat_id FROM rules)`); err != nil {
		return fmt.Errorf("cleanup chats: %w", err)
	}
	if _, err := s.q.ExecContext(ctx,
		`UPDATE chats SET current_edit_rule_id = NULL
		 WHERE current_edit_rule_id IS NOT NULL AND current_edit_rule_id NOT IN (SELECT id FROM rules)`); err != nil {
		return fmt.Errorf("clear stale edit pointers: %w", err)
	}
	return nil
}

func ruleArgs(r *model.Rule, createdAt string) []any {
	args := []any{
		r.SourceChatID, r.TargetChatID, boolToInt(r.Enabled), boolToInt(r.UseBotAccount), string(r.HandleMode), boolToInt(r.OnlyRSS),
		string(r.AddMode), string(r.ForwardMode), boolToInt(r.ReverseBlacklist), boolToInt(r.ReverseWhitelist), boolToInt(r.FilterUserInfo), boolToInt(r.KeywordAfterAI),
		boolToInt(r.ReplaceEnabled), string(r.MessageMode), string(r.PreviewMode),
		boolToInt(r.IncludeOriginalLink), r.OriginalLinkTemplate, boolToInt(r.IncludeSender), r.UserInfoTemplate, boolToInt(r.IncludeTime), r.TimeTemplate,
		boolToInt(r.DeleteOriginal), boolToInt(r.DelayEnabled), r.DelaySeconds,
		boolToInt(r.MediaTypeFilterEnabled), boolToInt(r.MediaSizeFilterEnabled), r.MaxMediaSizeMB, boolToInt(r.NotifyOnOversize),
		boolToInt(r.ExtensionFilterEnabled), string(r.ExtensionFilterMode), boolToInt(r.MediaAllowText),
		boolToInt(r.AIEnabled), r.AIModel, r.AIPrompt, boolToInt(r.AIUploadImage),
		boolToInt(r.SummaryEnabled), r.SummaryTime, r.SummaryPrompt, boolToInt(r.PinSummary),
		boolToInt(r.CommentButtonEnabled), boolToInt(r.SyncEnabled), boolToInt(r.PushEnabled), boolToInt(r.OnlyPush),
	}
	if createdAt != "" {
		args = append(args, createdAt)
	}
	return args
}

func scanRule(row scannable) (*model.Rule, error) {
	var r model.Rule
	var enabled, useBot, onlyRSS, revBlack, revWhite, filterUser, kwAfterAI int
	var replaceEnabled, inclLink, inclSender, inclTime, delOrig, delayEnabled int
	var mtFilter, msFilter, notifyOversize, extFilter, allowText int
	var aiEnabled, aiUpload, sumEnabled, pinSummary, commentBtn, syncEnabled, pushEnabled, onlyPush int
	var handleMode, addMode, forwardMode, messageMode, previewMode, extMode, created string

	err := row.Scan(
		&r.ID, &r.SourceChatID, &r.TargetChatID, &enabled, &useBot, &handleMode, &onlyRSS,
		&addMode, &forwardMode, &revBlack, &revWhite, &filterUser, &kwAfterAI,
		&replaceEnabled, &messageMode, &previewMode,
		&inclLink, &r.OriginalLinkTemplate, &inclSender, &r.UserInfoTemplate, &inclTime, &r.TimeTemplate,
		&delOrig, &delayEnabled, &r.DelaySeconds,
		&mtFilter, &msFilter, &r.MaxMediaSizeMB, &notifyOversize,
		&extFilter, &extMode, &allowText,
		&aiEnabled, &r.AIModel, &r.AIPrompt, &aiUpload,
		&sumEnabled, &r.SummaryTime, &r.SummaryPrompt, &pinSummary,
		&commentBtn, &syncEnabled, &pushEnabled, &onlyPush, &created,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan rule: %w", err)
	}

	r.Enabled = enabled == 1
	r.UseBotAccount = useBot == 1
	r.HandleMode = model.HandleMode(handleMode)
	r.OnlyRSS = onlyRSS == 1
	r.AddMode = model.AddMode(addMode)
	r.ForwardMode = model.ForwardMode(forwardMode)
	r.ReverseBlacklist = revBlack == 1
	r.ReverseWhitelist = revWhite == 1
	r.FilterUserInfo = filterUser == 1
	r.KeywordAfterAI = kwAfterAI == 1
	r.ReplaceEnabled = replaceEnabled == 1
	r.MessageMode = model.MessageMode(messageMode)
	r.PreviewMode = model.PreviewMode(previewMode)
	r.IncludeOriginalLink = inclLink == 1
	r.IncludeSender = inclSender == 1
	r.IncludeTime = inclTime == 1
	r.DeleteOriginal = delOrig == 1
	r.DelayEnabled = delayEnabled == 1
	r.MediaTypeFilterEnabled = mtFilter == 1
	r.MediaSizeFilterEnabled = msFilter == 1
	r.NotifyOnOversize = notifyOversize == 1
	r.ExtensionFilterEnabled = extFilter == 1
	r.ExtensionFilterMode = model.ExtensionFilterMode(extMode)
	r.MediaAllowText = allowText == 1
	r.AIEnabled = aiEnabled == 1
	r.AIUploadImage = aiUpload == 1
	r.SummaryEnabled = sumEnabled == 1
	r.PinSummary = pinSummary == 1
	r.CommentButtonEnabled = commentBtn == 1
	r.SyncEnabled = syncEnabled == 1
	r.PushEnabled = pushEnabled == 1
	r.OnlyPush = onlyPush == 1
	r.CreatedAt, _ = time.Parse(timeLayout, created)
	return &r, nil
}

func scanRules(rows *sql.Rows) ([]model.Rule, error) {
	var rules []model.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *r)
	}
	return rules, rows.Err()
}
