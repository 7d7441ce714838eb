package filter

import (
	"testing"

	"tg_forwarder/internal/model"
)

func kw(text string, isRegex, isBlacklist bool) model.Keyword {
	return model.Keyword{Text: text, IsRegex: isRegex, IsBlacklist: isBlacklist}
}

func TestShouldForward(t *testing.T) {
	whitelistAlpha := kw("alpha", false, false)
	blacklistDraft := kw("draft", false, true)

	tests := []struct {
		name     string
		text     string
		keywords []model.Keyword
		policy   Policy
		want     bool
	}{
		{
			name:     "whitelist match forwards",
			text:     "Alpha release today",
			keywords: []model.Keyword{whitelistAlpha},
			policy:   Policy{ForwardMode: model.ForwardWhitelist},
			want:     true,
		},
		{
			name:     "whitelist no match blocks",
			text:     "Beta release today",
			keywords: []model.Keyword{whitelistAlpha},
			policy:   Policy{ForwardMode: model.ForwardWhitelist},
			want:     false,
		},
		{
			name:     "whitelist empty list never matches",
			text:     "anything",
			keywords: nil,
			policy:   Policy{ForwardMode: model.ForwardWhitelist},
			want:     false,
		},
		{
			name:     "whitelist match is case insensitive",
			text:     "ALPHA build",
			keywords: []model.Keyword{whitelistAlpha},
			policy:   Policy{ForwardMode: model.ForwardWhitelist},
			want:     true,
		},
		{
			name:     "whitelist reverse blacklist requires both",
			text:     "Alpha release",
			keywords: []model.Keyword{whitelistAlpha, blacklistDraft},
			policy:   Policy{ForwardMode: model.ForwardWhitelist, ReverseBlacklist: true},
			want:     false,
		},
		{
			name:     "whitelist reverse blacklist both match",
			text:     "Alpha draft release",
			keywords: []model.Keyword{whitelistAlpha, blacklistDraft},
			policy:   Policy{ForwardMode: model.ForwardWhitelist, ReverseBlacklist: true},
			want:     true,
		},
		{
			name:     "blacklist empty list forwards",
			text:     "anything",
			keywords: nil,
			policy:   Policy{ForwardMode: model.ForwardBlacklist},
			want:     true,
		},
		{
			name:     "blacklist match blocks",
			text:     "a draft post",
			keywords: []model.Keyword{blacklistDraft},
			policy:   Policy{ForwardMode: model.ForwardBlacklist},
			want:     false,
		},
		{
			name:     "blacklist reverse whitelist blocks whitelist matches too",
			text:     "Alpha release",
			keywords: []model.Keyword{whitelistAlpha, blacklistDraft},
			policy:   Policy{ForwardMode: model.ForwardBlacklist, ReverseWhitelist: true},
			want:     false,
		},
		{
			name:     "blacklist reverse whitelist neither matches",
			text:     "Beta release",
			keywords: []model.Keyword{whitelistAlpha, blacklistDraft},
			policy:   Policy{ForwardMode: model.ForwardBlacklist, ReverseWhitelist: true},
			want:     true,
		},
		{
			name:     "whitelist then blacklist requires white without black",
			text:     "Alpha draft",
			keywords: []model.Keyword{whitelistAlpha, blacklistDraft},
			policy:   Policy{ForwardMode: model.ForwardWhitelistThenBlacklist},
			want:     false,
		},
		{
			name:     "whitelist then blacklist passes clean whitelist match",
			text:     "Alpha final",
			keywords: []model.Keyword{whitelistAlpha, blacklistDraft},
			policy:   Policy{ForwardMode: model.ForwardWhitelistThenBlacklist},
			want:     true,
		},
		{
			name:     "whitelist then blacklist reversed requires both",
			text:     "Alpha draft",
			keywords: []model.Keyword{whitelistAlpha, blacklistDraft},
			policy:   Policy{ForwardMode: model.ForwardWhitelistThenBlacklist, ReverseBlacklist: true},
			want:     true,
		},
		{
			name:     "blacklist then whitelist requires clean black and white match",
			text:     "Alpha final",
			keywords: []model.Keyword{whitelistAlpha, blacklistDraft},
			policy:   Policy{ForwardMode: model.ForwardBlacklistThenWhitelist},
			want:     true,
		},
		{
			name:     "blacklist then whitelist blocks without whitelist match",
			text:     "Beta final",
			keywords: []model.Keyword{whitelistAlpha, blacklistDraft},
			policy:   Policy{ForwardMode: model.ForwardBlacklistThenWhitelist},
			want:     false,
		},
		{
			name:     "blacklist then whitelist reversed wants neither",
			text:     "Beta final",
			keywords: []model.Keyword{whitelistAlpha, blacklistDraft},
			policy:   Policy{ForwardMode: model.ForwardBlacklistThenWhitelist, ReverseWhitelist: true},
			want:     true,
		},
		{
			name:     "regex keyword matches case sensitively",
			text:     "error 404 occurred",
			keywords: []model.Keyword{kw(`error \d+`, true, false)},
			policy:   Policy{ForwardMode: model.ForwardWhitelist},
			want:     true,
		},
		{
			name:     "invalid regex keyword is skipped",
			text:     "anything",
			keywords: []model.Keyword{kw("[invalid", true, false)},
			policy:   Policy{ForwardMode: model.ForwardWhitelist},
			want:     false,
		},
		{
			name:     "invalid regex on blacklist does not block",
			text:     "anything",
			keywords: []model.Keyword{kw("[invalid", true, true)},
			policy:   Policy{ForwardMode: model.ForwardBlacklist},
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ShouldForward(tt.text, tt.keywords, tt.policy)
			if got != tt.want {
				t.Errorf("ShouldForward(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestApplyReplacements(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		rules    []model.ReplaceRule
		want     string
		wantErrs int
	}{
		{
			name:  "simple substitution",
			text:  "hello foo world",
			rules: []model.ReplaceRule{{Pattern: "foo", Replacement: "bar"}},
			want:  "hello bar world",
		},
		{
			name: "full text pattern replaces everything and terminates",
			text: "hello foo world",
			rules: []model.ReplaceRule{
				{Pattern: "foo", Replacement: "bar"},
				{Pattern: ".*", Replacement: "REDACTED"},
				{Pattern: "REDACTED", Replacement: "leaked"},
			},
			want: "REDACTED",
		},
		{
			name: "full text pattern first wins immediately",
			text: "whatever",
			rules: []model.ReplaceRule{
				{Pattern: ".*", Replacement: "X"},
				{Pattern: "X", Replacement: "Y"},
			},
			want: "X",
		},
		{
			name: "invalid pattern is skipped and reported",
			text: "hello foo",
			rules: []model.ReplaceRule{
				{Pattern: "[bad", Replacement: "never"},
				{Pattern: "foo", Replacement: "bar"},
			},
			want:     "hello bar",
			wantErrs: 1,
		},
		{
			name:  "regex groups work",
			text:  "price: 100 USD",
			rules: []model.ReplaceRule{{Pattern: `(\d+) USD`, Replacement: "$$$1"}},
			want:  "price: $100",
		},
		{
			name:  "no rules leaves text alone",
			text:  "unchanged",
			rules: nil,
			want:  "unchanged",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, errs := ApplyReplacements(tt.text, tt.rules)
			if got != tt.want {
				t.Errorf("ApplyReplacements(%q) = %q, want %q", tt.text, got, tt.want)
			}
			if len(errs) != tt.wantErrs {
				t.Errorf("got %d errors, want %d: %v", len(errs), tt.wantErrs, errs)
			}
		})
	}
}

func TestValidateRegex(t *testing.T) {
	if err := ValidateRegex(`\d+`); err != nil {
		t.Errorf("valid pattern rejected: %v", err)
	}
	if err := ValidateRegex("[unclosed"); err == nil {
		t.Error("invalid pattern accepted")
	}
}
