package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tg_forwarder/internal/model"
)

// AddKeywords inserts keywords for a rule, de-duplicating on
// (rule, text, is_regex, is_blacklist). Returns how many were added and
// how many were already present.
func (s *SQLite) AddKeywords(ctx context.Context, ruleID int64, kws []model.Keyword) (int, int, error) {
	now := time.Now().UTC().Format(timeLayout)
	var added, duplicates int
	for _, kw := range kws {
		res, err := s.q.ExecContext(ctx,
			`INSERT OR IGNORE INTO keywords (rule_id, text, is_regex, is_blacklist, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			ruleID, kw.Text, boolToInt(kw.IsRegex), boolToInt(kw.IsBlacklist), now,
		)
		if err != nil {
			return added, duplicates, fmt.Errorf("insert keyword: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return added, duplicates, fmt.Errorf("rows affected: %w", err)
		}
		if n > 0 {
			added++
		} else {
			duplicates++
		}
	}
	return added, duplicates, nil
}

// ListKeywords returns a rule's keywords in stable insertion order.
func (s *SQLite) ListKeywords(ctx context.Context, ruleID int64) ([]model.Keyword, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, rule_id, text, is_regex, is_blacklist, created_at FROM keywords WHERE rule_id = ? ORDER BY id`,
		ruleID,
	)
	if err != nil {
		return nil, fmt.Errorf("query keywords: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var kws []model.Keyword
	for rows.Next() {
		var kw model.Keyword
		var isRegex, isBlacklist int
		var created string
		if err := rows.Scan(&kw.ID, &kw.RuleID, &kw.Text, &isRegex, &isBlacklist, &created); err != nil {
			return nil, fmt.Errorf("scan keyword: %w", err)
		}
		kw.IsRegex = isRegex == 1
		kw.IsBlacklist = isBlacklist == 1
		kw.CreatedAt, _ = time.Parse(timeLayout, created)
		kws = append(kws, kw)
	}
	return kws, rows.Err()
}

// DeleteKeywordsByIndex removes keywords by their 1-based position in the
// rule's insertion-ordered keyword list, matching the UI numbering.
// Out-of-range indexes are skipped. Returns the number deleted.
func (s *SQLite) DeleteKeywordsByIndex(ctx context.Context, ruleID int64, indexes []int) (int, error) {
	kws, err := s.ListKeywords(ctx, ruleID)
	if err != nil {
		return 0, err
	}
	var deleted int
	for _, idx := range indexes {
		if idx < 1 || idx > len(kws) {
			continue
		}
		res, err := s.q.ExecContext(ctx, `DELETE FROM keywords WHERE id = ?`, kws[idx-1].ID)
		if err != nil {
			return deleted, fmt.Errorf("delete keyword: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			deleted++
		}
	}
	return deleted, nil
}

// DeleteKeywordByValue removes a keyword matched by its full tuple.
func (s *SQLite) DeleteKeywordByValue(ctx context.Context, ruleID int64, text string, isRegex, isBlacklist bool) error {
	_, err := s.q.ExecContext(ctx,
		`DELETE FROM keywords WHERE rule_id = ? AND text = ? AND is_regex = ? AND is_blacklist = ?`,
		ruleID, text, boolToInt(isRegex), boolToInt(isBlacklist),
	)
	if err != nil {
		return fmt.Errorf("delete keyword by value: %w", err)
	}
	return nil
}

// AddReplaceRules inserts replace rules, de-duplicating on
// (rule, pattern, replacement).
func (s *SQLite) AddReplaceRules(ctx context.Context, ruleID int64, rrs []model.ReplaceRule) (int, int, error) {
	now := time.Now().UTC().Format(timeLayout)
	var added, duplicates int
	for _, rr := range rrs {
		res, err := s.q.ExecContext(ctx,
			`INSERT OR IGNORE INTO replace_rules (rule_id, pattern, replacement, created_at) VALUES (?, ?, ?, ?)`,
			ruleID, rr.Pattern, rr.Replacement, now,
		)
		if err != nil {
			return added, duplicates, fmt.Errorf("insert replace rule: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		} else {
			duplicates++
		}
	}
	return added, duplicates, nil
}

// ListReplaceRules returns a rule's replace rules in definition order.
func (s *SQLite) ListReplaceRules(ctx context.Context, ruleID int64) ([]model.ReplaceRule, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, rule_id, pattern, replacement, created_at FROM replace_rules WHERE rule_id = ? ORDER BY id`,
		ruleID,
	)
	if err != nil {
		return nil, fmt.Errorf("query replace rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rrs []model.ReplaceRule
	for rows.Next() {
		var rr model.ReplaceRule
		var created string
		if err := rows.Scan(&rr.ID, &rr.RuleID, &rr.Pattern, &rr.Replacement, &created); err != nil {
			return nil, fmt.Errorf("scan replace rule: %w", err)
		}
		rr.CreatedAt, _ = time.Parse(timeLayout, created)
		rrs = append(rrs, rr)
	}
	return rrs, rows.Err()
}

// DeleteReplaceRulesByIndex removes replace rules by 1-based position.
func (s *SQLite) DeleteReplaceRulesByIndex(ctx context.Context, ruleID int64, indexes []int) (int, error) {
	rrs, err := s.ListReplaceRules(ctx, ruleID)
	if err != nil {
		return 0, err
	}
	var deleted int
	for _, idx := range indexes {
		if idx < 1 || idx > len(rrs) {
			continue
		}
		res, err := s.q.ExecContext(ctx, `DELETE FROM replace_rules WHERE id = ?`, rrs[idx-1].ID)
		if err != nil {
			return deleted, fmt.Errorf("delete replace rule: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			deleted++
		}
	}
	return deleted, nil
}

// DeleteReplaceRuleByValue removes a replace rule matched by value.
func (s *SQLite) DeleteReplaceRuleByValue(ctx context.Context, ruleID int64, pattern, replacement string) error {
	_, err := s.q.ExecContext(ctx,
		`DELETE FROM replace_rules WHERE rule_id = ? AND pattern = ? AND replacement = ?`,
		ruleID, pattern, replacement,
	)
	if err != nil {
		return fmt.Errorf("delete replace rule by value: %w", err)
	}
	return nil
}

// GetMediaTypes returns a rule's media type flags, creating the all-false
// row if absent.
func (s *SQLite) GetMediaTypes(ctx context.Context, ruleID int64) (model.MediaTypes, error) {
	mt := model.MediaTypes{RuleID: ruleID}
	var photo, document, video, audio, voice int
	err := s.q.QueryRowContext(ctx,
		`SELECT photo, document, video, audio, voice FROM media_types WHERE rule_id = ?`, ruleID,
	).Scan(&photo, &document, &video, &audio, &voice)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := s.q.ExecContext(ctx, `INSERT OR IGNORE INTO media_types (rule_id) VALUES (?)`, ruleID); err != nil {
			return mt, fmt.Errorf("insert media types: %w", err)
		}
		return mt, nil
	}
	if err != nil {
		return mt, fmt.Errorf("scan media types: %w", err)
	}
	mt.Photo = photo == 1
	mt.Document = document == 1
	mt.Video = video == 1
	mt.Audio = audio == 1
	mt.Voice = voice == 1
	return mt, nil
}

// ToggleMediaType flips exactly one media type flag and returns its new
// value.
func (s *SQLite) ToggleMediaType(ctx context.Context, ruleID int64, kind model.MediaKind) (bool, error) {
	mt, err := s.GetMediaTypes(ctx, ruleID)
	if err != nil {
		return false, err
	}
	newValue := !mt.Blocks(kind)
	if err := s.SetMediaType(ctx, ruleID, kind, newValue); err != nil {
		return false, err
	}
	return newValue, nil
}

// SetMediaType forces one media type flag to the given value.
func (s *SQLite) SetMediaType(ctx context.Context, ruleID int64, kind model.MediaKind, value bool) error {
	switch kind {
	case model.MediaPhoto, model.MediaDocument, model.MediaVideo, model.MediaAudio, model.MediaVoice:
	default:
		return fmt.Errorf("unknown media kind %q", kind)
	}
	if _, err := s.GetMediaTypes(ctx, ruleID); err != nil {
		return err
	}
	_, err := s.q.ExecContext(ctx,
		`UPDATE media_types SET `+string(kind)+` = ? WHERE rule_id = ?`,
		boolToInt(value), ruleID,
	)
	if err != nil {
		return fmt.Errorf("set media type: %w", err)
	}
	return nil
}

// AddMediaExtensions inserts extension filter entries, de-duplicating
// within the rule.
func (s *SQLite) AddMediaExtensions(ctx context.Context, ruleID int64, exts []string) (int, int, error) {
	now := time.Now().UTC().Format(timeLayout)
	var added, duplicates int
	for _, ext := range exts {
		res, err := s.q.ExecContext(ctx,
			`INSERT OR IGNORE INTO media_extensions (rule_id, extension, created_at) VALUES (?, ?, ?)`,
			ruleID, ext, now,
		)
		if err != nil {
			return added, duplicates, fmt.Errorf("insert media extension: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		} else {
			duplicates++
		}
	}
	return added, duplicates, nil
}

// ListMediaExtensions returns a rule's extension filter entries with their
// stable ids, in insertion order.
func (s *SQLite) ListMediaExtensions(ctx context.Context, ruleID int64) ([]model.MediaExtension, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, rule_id, extension, created_at FROM media_extensions WHERE rule_id = ? ORDER BY id`,
		ruleID,
	)
	if err != nil {
		return nil, fmt.Errorf("query media extensions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var exts []model.MediaExtension
	for rows.Next() {
		var ext model.MediaExtension
		var created string
		if err := rows.Scan(&ext.ID, &ext.RuleID, &ext.Extension, &created); err != nil {
			return nil, fmt.Errorf("scan media extension: %w", err)
		}
		ext.CreatedAt, _ = time.Parse(timeLayout, created)
		exts = append(exts, ext)
	}
	return exts, rows.Err()
}

// DeleteMediaExtension removes an extension entry by its id.
func (s *SQLite) DeleteMediaExtension(ctx context.Context, id int64) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM media_extensions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete media extension: %w", err)
	}
	return nil
}

// DeleteMediaExtensionByValue removes an extension entry by its value.
func (s *SQLite) DeleteMediaExtensionByValue(ctx context.Context, ruleID int64, ext string) error {
	_, err := s.q.ExecContext(ctx,
		`DELETE FROM media_extensions WHERE rule_id = ? AND extension = ?`, ruleID, ext,
	)
	if err != nil {
		return fmt.Errorf("delete media extension by value: %w", err)
	}
	return nil
}

// AddPushConfig inserts a push config unless one with the same channel URL
// already exists on the rule. Reports whether a row was created.
func (s *SQLite) AddPushConfig(ctx context.Context, pc *model.PushConfig) (bool, error) {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO push_configs (rule_id, channel_url, enabled, media_send_mode, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		pc.RuleID, pc.ChannelURL, boolToInt(pc.Enabled), string(pc.MediaSendMode), now,
	)
	if err != nil {
		return false, fmt.Errorf("insert push config: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("last insert id: %w", err)
	}
	pc.ID = id
	pc.CreatedAt, _ = time.Parse(timeLayout, now)
	return true, nil
}

// ListPushConfigs returns a rule's push configs in insertion order.
func (s *SQLite) ListPushConfigs(ctx context.Context, ruleID int64) ([]model.PushConfig, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, rule_id, channel_url, enabled, media_send_mode, created_at
		 FROM push_configs WHERE rule_id = ? ORDER BY id`,
		ruleID,
	)
	if err != nil {
		return nil, fmt.Errorf("query push configs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var pcs []model.PushConfig
	for rows.Next() {
		pc, err := scanPushConfig(rows)
		if err != nil {
			return nil, err
		}
		pcs = append(pcs, *pc)
	}
	return pcs, rows.Err()
}

// GetPushConfigByURL returns the push config with the given channel URL.
func (s *SQLite) GetPushConfigByURL(ctx context.Context, ruleID int64, channelURL string) (*model.PushConfig, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT id, rule_id, channel_url, enabled, media_send_mode, created_at
		 FROM push_configs WHERE rule_id = ? AND channel_url = ?`,
		ruleID, channelURL,
	)
	return scanPushConfig(row)
}

// UpdatePushConfig persists changes to an existing push config.
func (s *SQLite) UpdatePushConfig(ctx context.Context, pc *model.PushConfig) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE push_configs SET channel_url = ?, enabled = ?, media_send_mode = ? WHERE id = ?`,
		pc.ChannelURL, boolToInt(pc.Enabled), string(pc.MediaSendMode), pc.ID,
	)
	if err != nil {
		return fmt.Errorf("update push config: %w", err)
	}
	return nil
}

// DeletePushConfig removes a push config by its id.
func (s *SQLite) DeletePushConfig(ctx context.Context, id int64) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM push_configs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete push config: %w", err)
	}
	return nil
}

// DeletePushConfigByURL removes a push config matched by channel URL.
func (s *SQLite) DeletePushConfigByURL(ctx context.Context, ruleID int64, channelURL string) error {
	_, err := s.q.ExecContext(ctx,
		`DELETE FROM push_configs WHERE rule_id = ? AND channel_url = ?`, ruleID, channelURL,
	)
	if err != nil {
		return fmt.Errorf("delete push config by url: %w", err)
	}
	return nil
}

// AddRuleSync creates a directed sync edge. Both endpoints must exist and
// be distinct.
func (s *SQLite) AddRuleSync(ctx context.Context, ruleID, peerRuleID int64) error {
	if ruleID == peerRuleID {
		return fmt.Errorf("sync edge endpoints must be distinct")
	}
	for _, id := range []int64{ruleID, peerRuleID} {
		if _, err := s.GetRule(ctx, id); err != nil {
			return fmt.Errorf("sync edge endpoint %d: %w", id, err)
		}
	}
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO rule_syncs (rule_id, peer_rule_id, created_at) VALUES (?, ?, ?)`,
		ruleID, peerRuleID, now,
	)
	if err != nil {
		return fmt.Errorf("insert rule sync: %w", err)
	}
	return nil
}

// ListSyncPeers returns the peer rule ids reachable over outgoing edges.
func (s *SQLite) ListSyncPeers(ctx context.Context, ruleID int64) ([]int64, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT peer_rule_id FROM rule_syncs WHERE rule_id = ? ORDER BY id`, ruleID,
	)
	if err != nil {
		return nil, fmt.Errorf("query sync peers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var peers []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan sync peer: %w", err)
		}
		peers = append(peers, id)
	}
	return peers, rows.Err()
}

// DeleteRuleSync removes a directed sync edge.
func (s *SQLite) DeleteRuleSync(ctx context.Context, ruleID, peerRuleID int64) error {
	_, err := s.q.ExecContext(ctx,
		`DELETE FROM rule_syncs WHERE rule_id = ? AND peer_rule_id = ?`, ruleID, peerRuleID,
	)
	if err != nil {
		return fmt.Errorf("delete rule sync: %w", err)
	}
	return nil
}

// GetRSSConfig returns a rule's RSS config, or nil when none exists.
func (s *SQLite) GetRSSConfig(ctx context.Context, ruleID int64) (*model.RSSConfig, error) {
	var cfg model.RSSConfig
	var enabled int
	var created string
	err := s.q.QueryRowContext(ctx,
		`SELECT rule_id, enabled, title, description, language, max_items, created_at
		 FROM rss_configs WHERE rule_id = ?`, ruleID,
	).Scan(&cfg.RuleID, &enabled, &cfg.Title, &cfg.Description, &cfg.Language, &cfg.MaxItems, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan rss config: %w", err)
	}
	cfg.Enabled = enabled == 1
	cfg.CreatedAt, _ = time.Parse(timeLayout, created)
	return &cfg, nil
}

// UpsertRSSConfig creates or replaces a rule's RSS config.
func (s *SQLite) UpsertRSSConfig(ctx context.Context, cfg *model.RSSConfig) error {
	if cfg.MaxItems <= 0 {
		return fmt.Errorf("max_items must be positive, got %d", cfg.MaxItems)
	}
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO rss_configs (rule_id, enabled, title, description, language, max_items, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (rule_id) DO UPDATE SET
			enabled = excluded.enabled, title = excluded.title, description = excluded.description,
			language = excluded.language, max_items = excluded.max_items`,
		cfg.RuleID, boolToInt(cfg.Enabled), cfg.Title, cfg.Description, cfg.Language, cfg.MaxItems, now,
	)
	if err != nil {
		return fmt.Errorf("upsert rss config: %w", err)
	}
	return nil
}

func scanPushConfig(row scannable) (*model.PushConfig, error) {
	var pc model.PushConfig
	var enabled int
	var mode, created string
	err := row.Scan(&pc.ID, &pc.RuleID, &pc.ChannelURL, &enabled, &mode, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan push config: %w", err)
	}
	pc.Enabled = enabled == 1
	pc.MediaSendMode = model.MediaSendMode(mode)
	pc.CreatedAt, _ = time.Parse(timeLayout, created)
	return &pc, nil
}
