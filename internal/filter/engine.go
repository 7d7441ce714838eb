// Package filter implements the keyword matching and text replacement engine.
package filter

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"tg_forwarder/internal/model"
)

// Policy holds the four flags that drive the keyword verdict.
type Policy struct {
	ForwardMode      model.ForwardMode
	ReverseBlacklist bool
	ReverseWhitelist bool
}

// ShouldForward evaluates the rule's keywords against text and reports
// whether the message passes.
//
// Whitelist mode forwards when any whitelist entry matches; with
// ReverseBlacklist set, a blacklist match is additionally required.
// Blacklist mode forwards when no blacklist entry matches; with
// ReverseWhitelist set, whitelist entries must not match either.
// The combined modes stage the two lists with the reverse flags flipping
// the second stage's polarity.
func ShouldForward(text string, keywords []model.Keyword, p Policy) bool {
	var whitelist, blacklist []model.Keyword
	for _, kw := range keywords {
		if kw.IsBlacklist {
			blacklist = append(blacklist, kw)
		} else {
			whitelist = append(whitelist, kw)
		}
	}

	w := matchAny(whitelist, text)
	b := matchAny(blacklist, text)

	switch p.ForwardMode {
	case model.ForwardWhitelist:
		if p.ReverseBlacklist {
			return w && b
		}
		return w
	case model.ForwardBlacklist:
		if p.ReverseWhitelist {
			return !b && !w
		}
		return !b
	case model.ForwardWhitelistThenBlacklist:
		if p.ReverseBlacklist {
			return w && b
		}
		return w && !b
	case model.ForwardBlacklistThenWhitelist:
		if p.ReverseWhitelist {
			return !b && !w
		}
		return !b && w
	}
	return false
}

// matchAny reports whether any keyword in the list matches text. An empty
// list never matches. Invalid regex keywords are skipped.
func matchAny(keywords []model.Keyword, text string) bool {
	for _, kw := range keywords {
		if matches(kw, text) {
			return true
		}
	}
	return false
}

func matches(kw model.Keyword, text string) bool {
	if !kw.IsRegex {
		return strings.Contains(strings.ToLower(text), strings.ToLower(kw.Text))
	}
	re, err := regexp.Compile(kw.Text)
	if err != nil {
		slog.Debug("skipping invalid keyword regex", "pattern", kw.Text, "error", err)
		return false
	}
	return re.MatchString(text)
}

// ApplyReplacements runs the replace rules over text in definition order.
// A rule with the full-text pattern replaces everything and terminates
// further substitution. Invalid regex patterns are skipped and reported in
// the returned error slice; replacement always produces a usable text.
func ApplyReplacements(text string, rules []model.ReplaceRule) (string, []error) {
	var errs []error
	for _, rr := range rules {
		if rr.Pattern == model.FullTextPattern {
			return rr.Replacement, errs
		}
		re, err := regexp.Compile(rr.Pattern)
		if err != nil {
			errs = append(errs, fmt.Errorf("replace pattern %q: %w", rr.Pattern, err))
			continue
		}
		text = re.ReplaceAllString(text, rr.Replacement)
	}
	return text, errs
}

// ValidateRegex checks whether a pattern is a valid regular expression.
func ValidateRegex(pattern string) error {
	_, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid regex: %w", err)
	}
	return nil
}
