package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"tg_forwarder/internal/ai"
	"tg_forwarder/internal/filter"
	"tg_forwarder/internal/model"
	"tg_forwarder/internal/push"
	"tg_forwarder/internal/rss"
	"tg_forwarder/internal/telegram"
)

// mediaGroupIDRange is how far around a message id the Init stage scans
// for album siblings.
const mediaGroupIDRange = 10

// commentEchoDelay gives the linked discussion group time to receive the
// channel post echo before we search for it.
const commentEchoDelay = 2 * time.Second

func (p *Pipeline) stageInit(ctx context.Context, c *Context) (Result, error) {
	msg := c.Message
	if msg.GroupedID == 0 {
		return Continue, nil
	}
	c.IsMediaGroup = true
	c.MediaGroupID = msg.GroupedID

	// Album gathering needs source history; without a user session the
	// triggering message stands in for the whole group.
	if p.io.User == nil {
		c.MediaGroupMessages = []telegram.Message{*msg}
		return Continue, nil
	}

	siblings, err := p.io.User.IterMessages(ctx, msg.ChatID, telegram.IterOptions{
		MinID: msg.ID - mediaGroupIDRange,
		MaxID: msg.ID + mediaGroupIDRange,
	})
	if err != nil {
		c.recordError(ErrSourceFetch, fmt.Errorf("gather media group: %w", err))
		c.MediaGroupMessages = []telegram.Message{*msg}
		return Continue, nil
	}

	group := make([]telegram.Message, 0, len(siblings))
	for _, m := range siblings {
		if m.GroupedID == msg.GroupedID {
			group = append(group, m)
		}
	}
	if len(group) == 0 {
		group = []telegram.Message{*msg}
	}
	sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })
	c.MediaGroupMessages = group

	// The caption and buttons live on one member of the album.
	for _, m := range group {
		if m.Text != "" {
			c.Text = m.Text
			c.OriginalText = m.Text
			c.CheckText = m.Text
			break
		}
	}
	for _, m := range group {
		if len(m.Buttons) > 0 {
			c.Buttons = m.Buttons
			break
		}
	}
	return Continue, nil
}

func (p *Pipeline) stageDelay(ctx context.Context, c *Context) (Result, error) {
	r := c.Rule
	if !r.DelayEnabled || r.DelaySeconds <= 0 {
		return Continue, nil
	}
	if err := p.sleep(ctx, time.Duration(r.DelaySeconds)*time.Second); err != nil {
		return Stop, err
	}
	if p.io.User == nil {
		return Continue, nil
	}
	fresh, err := p.io.User.GetMessage(ctx, c.Message.ChatID, c.Message.ID)
	if err != nil {
		p.log.Debug("delay refetch failed, keeping original",
			"rule_id", r.ID, "message_id", c.Message.ID, "error", err)
		return Continue, nil
	}
	c.Text = fresh.Text
	c.OriginalText = fresh.Text
	c.CheckText = fresh.Text
	c.Buttons = fresh.Buttons
	return Continue, nil
}

func (p *Pipeline) stageKeyword(ctx context.Context, c *Context) (Result, error) {
	t := c.CheckText
	if c.Rule.FilterUserInfo {
		t = senderDisplay(c) + "\n" + t
	}
	if !filter.ShouldForward(t, c.Keywords, policyFor(c.Rule)) {
		c.ShouldForward = false
		return Stop, nil
	}
	return Continue, nil
}

func (p *Pipeline) stageReplace(ctx context.Context, c *Context) (Result, error) {
	if !c.Rule.ReplaceEnabled {
		return Continue, nil
	}
	text, errs := filter.ApplyReplacements(c.Text, c.ReplaceRules)
	for _, err := range errs {
		c.recordError(ErrRegex, err)
	}
	c.Text = text
	return Continue, nil
}

func (p *Pipeline) stageMedia(ctx context.Context, c *Context) (Result, error) {
	if c.IsMediaGroup {
		return p.filterMediaGroup(ctx, c)
	}
	msg := c.Message
	if !msg.HasMedia() {
		return Continue, nil
	}
	m := msg.Media

	if c.Rule.MediaTypeFilterEnabled && c.MediaTypes.Blocks(m.Kind) {
		return p.rejectMedia(c)
	}
	if c.Rule.ExtensionFilterEnabled && !p.extensionAllowed(c, m.Filename) {
		return p.rejectMedia(c)
	}

	size := roundMB(m.Size)
	if c.Rule.MediaSizeFilterEnabled && size > c.Rule.MaxMediaSizeMB {
		if !c.Rule.NotifyOnOversize {
			c.ShouldForward = false
			return Stop, nil
		}
		c.recordError(ErrMediaOversize, fmt.Errorf("%s is %.2fMB, limit %.2fMB", mediaFilename(m), size, c.Rule.MaxMediaSizeMB))
		c.SkippedMedia = append(c.SkippedMedia, SkippedMedia{
			Message:  *msg,
			SizeMB:   size,
			Filename: mediaFilename(m),
		})
		return Continue, nil
	}

	path, err := p.downloadMedia(ctx, msg)
	if err != nil {
		c.recordError(ErrSourceFetch, fmt.Errorf("download media: %w", err))
		return Continue, nil
	}
	c.DownloadedMediaPaths = append(c.DownloadedMediaPaths, path)
	return Continue, nil
}

// downloadMedia fetches a message's media through the user session.
func (p *Pipeline) downloadMedia(ctx context.Context, msg *telegram.Message) (string, error) {
	if p.io.User == nil {
		return "", telegram.ErrNoUserSession
	}
	return p.io.User.DownloadMedia(ctx, msg, p.cfg.TempDir)
}

// rejectMedia handles a type- or extension-filter rejection: with
// media_allow_text and a non-empty body the text still goes out, otherwise
// the whole message is dropped.
func (p *Pipeline) rejectMedia(c *Context) (Result, error) {
	if c.Rule.MediaAllowText && c.Text != "" {
		return Continue, nil
	}
	c.ShouldForward = false
	return Stop, nil
}

func (p *Pipeline) filterMediaGroup(ctx context.Context, c *Context) (Result, error) {
	kept := make([]telegram.Message, 0, len(c.MediaGroupMessages))
	var hadMedia, droppedByFilter bool

	for _, m := range c.MediaGroupMessages {
		m := m
		if !m.HasMedia() {
			kept = append(kept, m)
			continue
		}
		hadMedia = true
		info := m.Media

		if c.Rule.MediaTypeFilterEnabled && c.MediaTypes.Blocks(info.Kind) {
			droppedByFilter = true
			continue
		}
		if c.Rule.ExtensionFilterEnabled && !p.extensionAllowed(c, info.Filename) {
			droppedByFilter = true
			continue
		}

		size := roundMB(info.Size)
		if c.Rule.MediaSizeFilterEnabled && size > c.Rule.MaxMediaSizeMB {
			c.SkippedMedia = append(c.SkippedMedia, SkippedMedia{
				Message:  m,
				SizeMB:   size,
				Filename: mediaFilename(info),
			})
			continue
		}

		path, err := p.downloadMedia(ctx, &m)
		if err != nil {
			c.recordError(ErrSourceFetch, fmt.Errorf("download media: %w", err))
			continue
		}
		c.DownloadedMediaPaths = append(c.DownloadedMediaPaths, path)
		kept = append(kept, m)
	}
	c.MediaGroupMessages = kept

	if len(c.DownloadedMediaPaths) == 0 && hadMedia {
		if len(c.SkippedMedia) > 0 && !c.Rule.NotifyOnOversize {
			c.ShouldForward = false
			return Stop, nil
		}
		if len(c.SkippedMedia) == 0 && droppedByFilter {
			return p.rejectMedia(c)
		}
	}
	return Continue, nil
}

func (p *Pipeline) stageAI(ctx context.Context, c *Context) (Result, error) {
	r := c.Rule
	if !r.AIEnabled || c.Text == "" {
		return Continue, nil
	}

	modelName := r.AIModel
	if modelName == "" {
		modelName = p.cfg.DefaultAIModel
	}
	prompt := r.AIPrompt
	if prompt == "" {
		prompt = p.cfg.DefaultAIPrompt
	}
	req := ai.Request{
		Model:  modelName,
		Prompt: ai.RenderPrompt(prompt, c.Text),
	}
	if r.AIUploadImage {
		req.ImagePaths = imagePaths(c.DownloadedMediaPaths)
	}

	out, err := p.ai.Process(ctx, req)
	if err != nil {
		c.recordError(ErrAIProvider, err)
		p.log.Warn("ai processing failed, keeping original text",
			"rule_id", r.ID, "model", modelName, "error", err)
		return Continue, nil
	}
	c.Text = out

	if r.KeywordAfterAI {
		if !filter.ShouldForward(c.Text, c.Keywords, policyFor(r)) {
			c.ShouldForward = false
			return Stop, nil
		}
	}
	return Continue, nil
}

func (p *Pipeline) stageInfo(ctx context.Context, c *Context) (Result, error) {
	r := c.Rule
	msg := c.Message

	if r.IncludeSender {
		tpl := r.UserInfoTemplate
		if tpl == "" {
			tpl = p.cfg.UserInfoTemplate
		}
		c.SenderInfo = strings.NewReplacer(
			"{name}", senderDisplay(c),
			"{id}", strconv.FormatInt(senderID(msg), 10),
		).Replace(tpl)
	}
	if r.IncludeTime {
		tpl := r.TimeTemplate
		if tpl == "" {
			tpl = p.cfg.TimeTemplate
		}
		ts := msg.Date.In(p.cfg.Timezone).Format("2006-01-02 15:04:05")
		c.TimeInfo = strings.ReplaceAll(tpl, "{time}", ts)
	}
	if r.IncludeOriginalLink {
		tpl := r.OriginalLinkTemplate
		if tpl == "" {
			tpl = p.cfg.OriginalLinkTemplate
		}
		c.OriginalLink = strings.ReplaceAll(tpl, "{original_link}", messageLink(msg))
	}
	return Continue, nil
}

func (p *Pipeline) stageCommentButton(ctx context.Context, c *Context) (Result, error) {
	r := c.Rule
	msg := c.Message
	if !r.CommentButtonEnabled || !msg.IsChannelPost {
		return Continue, nil
	}
	if err := p.sleep(ctx, commentEchoDelay); err != nil {
		return Stop, err
	}

	// Without a user session the echo lookup is impossible and the link
	// falls back to the first comment.
	commentID := int64(1)
	if p.io.User != nil {
		linked, err := p.io.User.GetLinkedChatID(ctx, msg.ChatID)
		if err != nil || linked == 0 {
			p.log.Debug("no linked discussion group", "chat_id", msg.ChatID, "error", err)
		} else {
			echoes, err := p.io.User.IterMessages(ctx, linked, telegram.IterOptions{Limit: 5})
			if err != nil {
				c.recordError(ErrSourceFetch, fmt.Errorf("read discussion group: %w", err))
			} else if echo := matchDiscussionEcho(echoes, c.OriginalText, msg.Date); echo != nil {
				commentID = echo.ID
			}
		}
	}

	c.CommentLink = fmt.Sprintf("%s?comment=%d", messageLink(msg), commentID)
	row := []telegram.Button{{Text: "💬 comments", URL: c.CommentLink}}
	c.Buttons = append([][]telegram.Button{row}, c.Buttons...)
	return Continue, nil
}

func (p *Pipeline) stageRSS(ctx context.Context, c *Context) (Result, error) {
	r := c.Rule
	if c.RSSConfig != nil && c.RSSConfig.Enabled {
		entry := &rss.Entry{
			RuleID:       r.ID,
			MessageID:    c.Message.ID,
			Title:        entryTitle(c.Text),
			Content:      c.Text,
			Published:    c.Message.Date,
			Author:       senderDisplay(c),
			Link:         messageLink(c.Message),
			OriginalLink: messageLink(c.Message),
			SenderInfo:   c.SenderInfo,
		}
		for _, path := range c.DownloadedMediaPaths {
			m, err := p.store.SaveMedia(r.ID, path, filepath.Base(path))
			if err != nil {
				c.recordError(ErrEntryStore, fmt.Errorf("save media: %w", err))
				continue
			}
			entry.Media = append(entry.Media, m)
			c.savedMedia = append(c.savedMedia, m)
		}
		maxItems := c.RSSConfig.MaxItems
		if maxItems <= 0 {
			maxItems = p.cfg.RSSMaxItems
		}
		if err := p.store.Add(r.ID, entry, maxItems); err != nil {
			c.recordError(ErrEntryStore, err)
		}
	}

	// only_rss skips target and push delivery. The one exception is an
	// Edit-mode channel post, which still rewrites the source below; the
	// Edit stage then stops the chain itself.
	if r.OnlyRSS && !(r.HandleMode == model.HandleEdit && c.Message.IsChannelPost) {
		return Stop, nil
	}
	return Continue, nil
}

func (p *Pipeline) stageEdit(ctx context.Context, c *Context) (Result, error) {
	r := c.Rule
	msg := c.Message
	if r.HandleMode != model.HandleEdit || !msg.IsChannelPost {
		return Continue, nil
	}
	if p.io.User == nil {
		c.recordError(ErrTargetSend, fmt.Errorf("edit source message: %w", telegram.ErrNoUserSession))
		return Stop, nil
	}
	text := c.SenderInfo + c.Text + c.TimeInfo + c.OriginalLink
	err := p.io.User.EditMessage(ctx, msg.ChatID, msg.ID, text, telegram.SendOptions{
		ParseMode:   r.MessageMode,
		LinkPreview: previewFlag(c),
	})
	if err != nil {
		c.recordError(ErrTargetSend, fmt.Errorf("edit source message: %w", err))
	}
	return Stop, nil
}

func (p *Pipeline) stageSender(ctx context.Context, c *Context) (Result, error) {
	r := c.Rule
	if r.OnlyPush {
		return Continue, nil
	}

	caption := p.composeCaption(c)
	if caption == "" && len(c.DownloadedMediaPaths) == 0 {
		return Continue, nil
	}

	candidates := telegram.CandidateIDs(c.TargetChat.TelegramID)
	if len(candidates) == 0 {
		c.recordError(ErrRuleValidation, fmt.Errorf("invalid target chat id %q", c.TargetChat.TelegramID))
		return Continue, nil
	}

	client := p.io.SenderFor(r)
	opts := telegram.SendOptions{
		ParseMode:   r.MessageMode,
		LinkPreview: previewFlag(c),
		Buttons:     c.Buttons,
	}

	var lastErr error
	for _, chatID := range candidates {
		var sent []telegram.Message
		var err error
		if len(c.DownloadedMediaPaths) > 0 {
			sent, err = client.SendFile(ctx, chatID, c.DownloadedMediaPaths, caption, opts)
		} else {
			var m *telegram.Message
			m, err = client.SendMessage(ctx, chatID, caption, opts)
			if m != nil {
				sent = []telegram.Message{*m}
			}
		}
		if err == nil {
			c.ForwardedMessages = sent
			c.sentOK = true
			return Continue, nil
		}
		var fw *telegram.FloodWaitError
		if errors.As(err, &fw) {
			return Stop, &Error{Kind: ErrFloodWait, Err: err}
		}
		lastErr = err
	}
	c.recordError(ErrTargetSend, lastErr)
	p.log.Error("send to target failed", "rule_id", r.ID, "error", lastErr)
	return Continue, nil
}

func (p *Pipeline) stageReply(ctx context.Context, c *Context) (Result, error) {
	// Albums cannot carry inline buttons, so the comment button rides on
	// a reply to the first album message.
	if !c.IsMediaGroup || c.CommentLink == "" || !c.sentOK || len(c.ForwardedMessages) == 0 {
		return Continue, nil
	}
	first := c.ForwardedMessages[0]
	chatID := first.ChatID
	if chatID == 0 {
		if candidates := telegram.CandidateIDs(c.TargetChat.TelegramID); len(candidates) > 0 {
			chatID = candidates[0]
		}
	}
	if chatID == 0 {
		return Continue, nil
	}
	_, err := p.io.SenderFor(c.Rule).SendMessage(ctx, chatID, "💬", telegram.SendOptions{
		ReplyTo: first.ID,
		Buttons: [][]telegram.Button{{{Text: "💬 comments", URL: c.CommentLink}}},
	})
	if err != nil {
		c.recordError(ErrTargetSend, fmt.Errorf("attach comment reply: %w", err))
	}
	return Continue, nil
}

func (p *Pipeline) stagePush(ctx context.Context, c *Context) (Result, error) {
	if !c.Rule.PushEnabled || len(c.PushConfigs) == 0 {
		return Continue, nil
	}
	body := p.composeCaption(c)
	// Media saved to the entry store has an externally reachable URL;
	// anything else is referenced by name only.
	var atts []push.Attachment
	if len(c.savedMedia) > 0 {
		for _, m := range c.savedMedia {
			atts = append(atts, push.Attachment{
				Name: m.Filename,
				URL:  p.cfg.RSSMediaBaseURL + m.URL,
			})
		}
	} else {
		for _, path := range c.DownloadedMediaPaths {
			atts = append(atts, push.Attachment{Name: filepath.Base(path)})
		}
	}
	p.push.SendAll(ctx, c.PushConfigs, body, atts)
	return Continue, nil
}

func (p *Pipeline) stageDeleteOriginal(ctx context.Context, c *Context) (Result, error) {
	if !c.Rule.DeleteOriginal {
		return Continue, nil
	}
	// Deleting the original needs a confirmed delivery first.
	if !c.sentOK {
		return Continue, nil
	}
	if p.io.User == nil {
		c.recordError(ErrSourceFetch, fmt.Errorf("delete original: %w", telegram.ErrNoUserSession))
		return Continue, nil
	}
	ids := []int64{c.Message.ID}
	if c.IsMediaGroup {
		ids = ids[:0]
		for _, m := range c.MediaGroupMessages {
			ids = append(ids, m.ID)
		}
		for _, sm := range c.SkippedMedia {
			ids = append(ids, sm.Message.ID)
		}
	}
	if err := p.io.User.DeleteMessages(ctx, c.Message.ChatID, ids); err != nil {
		c.recordError(ErrSourceFetch, fmt.Errorf("delete original: %w", err))
	}
	return Continue, nil
}

func policyFor(r *model.Rule) filter.Policy {
	return filter.Policy{
		ForwardMode:      r.ForwardMode,
		ReverseBlacklist: r.ReverseBlacklist,
		ReverseWhitelist: r.ReverseWhitelist,
	}
}

func previewFlag(c *Context) bool {
	switch c.Rule.PreviewMode {
	case model.PreviewOn:
		return true
	case model.PreviewOff:
		return false
	}
	// Follow keeps the original preview state.
	return c.Message.Media != nil && c.Message.Media.IsLinkPreview
}

// senderDisplay derives the human-readable author: channel posts use the
// chat title, everything else the sender's name.
func senderDisplay(c *Context) string {
	msg := c.Message
	if msg.IsChannelPost || (msg.Sender.ID == 0 && msg.ChatTitle != "") {
		return msg.ChatTitle
	}
	return msg.Sender.DisplayName()
}

func senderID(msg *telegram.Message) int64 {
	if msg.Sender.ID != 0 {
		return msg.Sender.ID
	}
	return msg.ChatID
}

// messageLink builds a t.me link to the message: public chats by
// username, private channels through the /c/ form.
func messageLink(msg *telegram.Message) string {
	if msg.ChatUsername != "" {
		return fmt.Sprintf("https://t.me/%s/%d", msg.ChatUsername, msg.ID)
	}
	internal := strconv.FormatInt(msg.ChatID, 10)
	internal = strings.TrimPrefix(internal, "-100")
	internal = strings.TrimPrefix(internal, "-")
	return fmt.Sprintf("https://t.me/c/%s/%d", internal, msg.ID)
}

func (p *Pipeline) extensionAllowed(c *Context, filename string) bool {
	ext := extensionOf(filename)
	listed := false
	for _, e := range c.Extensions {
		if strings.EqualFold(e.Extension, ext) {
			listed = true
			break
		}
	}
	if c.Rule.ExtensionFilterMode == model.ExtensionWhitelist {
		return listed
	}
	return !listed
}

// extensionOf returns the lowercased extension without the dot, or the
// no-extension sentinel.
func extensionOf(filename string) string {
	ext := strings.TrimPrefix(filepath.Ext(filename), ".")
	if ext == "" {
		return model.NoExtension
	}
	return strings.ToLower(ext)
}

func mediaFilename(m *telegram.MediaInfo) string {
	if m.Filename != "" {
		return m.Filename
	}
	return string(m.Kind)
}

func roundMB(bytes int64) float64 {
	return math.Round(float64(bytes)/1048576*100) / 100
}

var imageExtensions = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "gif": true, "webp": true,
}

func imagePaths(paths []string) []string {
	var out []string
	for _, p := range paths {
		if imageExtensions[extensionOf(filepath.Base(p))] {
			out = append(out, p)
		}
	}
	return out
}

func entryTitle(text string) string {
	line := text
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "(media)"
	}
	runes := []rune(line)
	if len(runes) > 80 {
		line = string(runes[:80])
	}
	return line
}

// matchDiscussionEcho picks the linked-group message matching a channel
// post: exact text, then prefix similarity, then timestamp proximity,
// then the most recent message.
func matchDiscussionEcho(candidates []telegram.Message, text string, date time.Time) *telegram.Message {
	if len(candidates) == 0 {
		return nil
	}
	for i := range candidates {
		if candidates[i].Text != "" && candidates[i].Text == text {
			return &candidates[i]
		}
	}
	for i := range candidates {
		if prefixSimilarity(candidates[i].Text, text) >= 0.75 {
			return &candidates[i]
		}
	}
	for i := range candidates {
		d := candidates[i].Date.Sub(date)
		if d < 0 {
			d = -d
		}
		if d <= time.Minute {
			return &candidates[i]
		}
	}
	latest := &candidates[0]
	for i := range candidates {
		if candidates[i].ID > latest.ID {
			latest = &candidates[i]
		}
	}
	return latest
}

// prefixSimilarity compares the first 20 runes of two strings with a
// ratio of twice the longest common subsequence over the total length.
func prefixSimilarity(a, b string) float64 {
	ra, rb := prefixRunes(a, 20), prefixRunes(b, 20)
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}
	lcs := make([][]int, len(ra)+1)
	for i := range lcs {
		lcs[i] = make([]int, len(rb)+1)
	}
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			if ra[i-1] == rb[j-1] {
				lcs[i][j] = lcs[i-1][j-1] + 1
			} else if lcs[i-1][j] >= lcs[i][j-1] {
				lcs[i][j] = lcs[i-1][j]
			} else {
				lcs[i][j] = lcs[i][j-1]
			}
		}
	}
	return 2 * float64(lcs[len(ra)][len(rb)]) / float64(len(ra)+len(rb))
}

func prefixRunes(s string, n int) []rune {
	r := []rune(s)
	if len(r) > n {
		r = r[:n]
	}
	return r
}
