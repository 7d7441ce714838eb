package bot

import (
	"fmt"
	"strconv"
	"strings"

	"tg_forwarder/internal/model"
)

// KeywordArgs holds the parsed arguments of /addkw.
type KeywordArgs struct {
	RuleID    int64
	Blacklist bool
	ListSet   bool
	Regex     bool
	Values    []string
}

// ParseKeywordCommand parses arguments for /addkw.
// Format: <rule_id> [-b|-w] [-r] <text...>
func ParseKeywordCommand(args string) (KeywordArgs, error) {
	parts := strings.Fields(args)
	if len(parts) < 2 {
		return KeywordArgs{}, fmt.Errorf("usage: /addkw <rule_id> [-b|-w] [-r] <text>")
	}

	ruleID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return KeywordArgs{}, fmt.Errorf("invalid rule ID %q", parts[0])
	}

	out := KeywordArgs{RuleID: ruleID}
	rest := parts[1:]
	for len(rest) > 0 {
		switch rest[0] {
		case "-b":
			out.Blacklist = true
			out.ListSet = true
		case "-w":
			out.Blacklist = false
			out.ListSet = true
		case "-r":
			out.Regex = true
		default:
			out.Values = []string{strings.Join(rest, " ")}
			rest = nil
			continue
		}
		rest = rest[1:]
	}

	if len(out.Values) == 0 {
		return KeywordArgs{}, fmt.Errorf("keyword text is required")
	}
	return out, nil
}

// ParseIDArg extracts a numeric ID from a command argument string.
func ParseIDArg(args string) (int64, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return 0, fmt.Errorf("rule ID is required")
	}
	id, err := strconv.ParseInt(strings.Fields(s)[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid rule ID %q", s)
	}
	return id, nil
}

// ParseIndexArgs extracts a rule ID followed by one or more 1-based
// positions.
func ParseIndexArgs(args string) (int64, []int, error) {
	parts := strings.Fields(args)
	if len(parts) < 2 {
		return 0, nil, fmt.Errorf("rule ID and at least one position are required")
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("invalid rule ID %q", parts[0])
	}
	indexes := make([]int, 0, len(parts)-1)
	for _, p := range parts[1:] {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 {
			return 0, nil, fmt.Errorf("invalid position %q", p)
		}
		indexes = append(indexes, n)
	}
	return id, indexes, nil
}

// ParsePairArgs extracts two numeric IDs.
func ParsePairArgs(args string) (int64, int64, error) {
	parts := strings.Fields(args)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("two rule IDs are required")
	}
	a, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid rule ID %q", parts[0])
	}
	b, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid rule ID %q", parts[1])
	}
	return a, b, nil
}

// ParseReplaceArgs extracts a rule ID, a pattern and a replacement. The
// replacement may be empty to delete matches.
func ParseReplaceArgs(args string) (int64, string, string, error) {
	parts := strings.SplitN(strings.TrimSpace(args), " ", 3)
	if len(parts) < 2 {
		return 0, "", "", fmt.Errorf("usage: /addreplace <rule_id> <pattern> [replacement]")
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", "", fmt.Errorf("invalid rule ID %q", parts[0])
	}
	replacement := ""
	if len(parts) == 3 {
		replacement = parts[2]
	}
	return id, parts[1], replacement, nil
}

// ParseForwardMode validates a forward mode name.
func ParseForwardMode(s string) (model.ForwardMode, error) {
	mode := model.ForwardMode(strings.ToLower(s))
	switch mode {
	case model.ForwardWhitelist, model.ForwardBlacklist,
		model.ForwardWhitelistThenBlacklist, model.ForwardBlacklistThenWhitelist:
		return mode, nil
	}
	return "", fmt.Errorf("invalid forward mode %q, use: whitelist, blacklist, whitelist_then_blacklist, blacklist_then_whitelist", s)
}

// ParseMediaKind validates a media type name.
func ParseMediaKind(s string) (model.MediaKind, error) {
	kind := model.MediaKind(strings.ToLower(s))
	switch kind {
	case model.MediaPhoto, model.MediaDocument, model.MediaVideo, model.MediaAudio, model.MediaVoice:
		return kind, nil
	}
	return "", fmt.Errorf("invalid media type %q, use: photo, document, video, audio, voice", s)
}
