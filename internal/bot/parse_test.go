package bot

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"tg_forwarder/internal/model"
)

func TestParseKeywordCommand(t *testing.T) {
	tests := []struct {
		name    string
		args    string
		want    KeywordArgs
		wantErr bool
	}{
		{
			name: "plain text keyword",
			args: "3 hello world",
			want: KeywordArgs{RuleID: 3, Values: []string{"hello world"}},
		},
		{
			name: "blacklist flag",
			args: "3 -b spam",
			want: KeywordArgs{RuleID: 3, Blacklist: true, ListSet: true, Values: []string{"spam"}},
		},
		{
			name: "whitelist flag",
			args: "3 -w good",
			want: KeywordArgs{RuleID: 3, ListSet: true, Values: []string{"good"}},
		},
		{
			name: "regex with blacklist",
			args: `7 -b -r error \d+`,
			want: KeywordArgs{RuleID: 7, Blacklist: true, ListSet: true, Regex: true, Values: []string{`error \d+`}},
		},
		{
			name: "flag after text stays literal",
			args: "3 watch -b this",
			want: KeywordArgs{RuleID: 3, Values: []string{"watch -b this"}},
		},
		{name: "missing text", args: "3", wantErr: true},
		{name: "missing text after flags", args: "3 -b -r", wantErr: true},
		{name: "bad rule id", args: "x hello", wantErr: true},
		{name: "empty", args: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseKeywordCommand(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseKeywordCommand(%q) accepted", tt.args)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseKeywordCommand(%q): %v", tt.args, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("args mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseIDArg(t *testing.T) {
	id, err := ParseIDArg("  42 extra words ")
	if err != nil || id != 42 {
		t.Errorf("ParseIDArg = (%d, %v)", id, err)
	}
	if _, err := ParseIDArg(""); err == nil {
		t.Error("empty arg accepted")
	}
	if _, err := ParseIDArg("abc"); err == nil {
		t.Error("non-numeric arg accepted")
	}
}

func TestParseIndexArgs(t *testing.T) {
	id, idx, err := ParseIndexArgs("5 1 3 7")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id != 5 || len(idx) != 3 || idx[0] != 1 || idx[2] != 7 {
		t.Errorf("got (%d, %v)", id, idx)
	}

	for _, bad := range []string{"", "5", "x 1", "5 0", "5 -2", "5 x"} {
		if _, _, err := ParseIndexArgs(bad); err == nil {
			t.Errorf("ParseIndexArgs(%q) accepted", bad)
		}
	}
}

func TestParsePairArgs(t *testing.T) {
	a, b, err := ParsePairArgs("3 9")
	if err != nil || a != 3 || b != 9 {
		t.Errorf("got (%d, %d, %v)", a, b, err)
	}
	for _, bad := range []string{"", "3", "3 9 12", "x 9"} {
		if _, _, err := ParsePairArgs(bad); err == nil {
			t.Errorf("ParsePairArgs(%q) accepted", bad)
		}
	}
}

func TestParseReplaceArgs(t *testing.T) {
	id, pattern, repl, err := ParseReplaceArgs(`3 http://\S+ [link]`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id != 3 || pattern != `http://\S+` || repl != "[link]" {
		t.Errorf("got (%d, %q, %q)", id, pattern, repl)
	}

	// No replacement deletes matches.
	id, pattern, repl, err = ParseReplaceArgs("3 badword")
	if err != nil || id != 3 || pattern != "badword" || repl != "" {
		t.Errorf("got (%d, %q, %q, %v)", id, pattern, repl, err)
	}

	// The replacement keeps inner spaces.
	_, _, repl, err = ParseReplaceArgs("3 foo bar baz qux")
	if err != nil || repl != "bar baz qux" {
		t.Errorf("got (%q, %v)", repl, err)
	}

	if _, _, _, err := ParseReplaceArgs("3"); err == nil {
		t.Error("missing pattern accepted")
	}
}

func TestParseForwardMode(t *testing.T) {
	for in, want := range map[string]model.ForwardMode{
		"whitelist":                model.ForwardWhitelist,
		"BLACKLIST":                model.ForwardBlacklist,
		"whitelist_then_blacklist": model.ForwardWhitelistThenBlacklist,
		"blacklist_then_whitelist": model.ForwardBlacklistThenWhitelist,
	} {
		got, err := ParseForwardMode(in)
		if err != nil || got != want {
			t.Errorf("ParseForwardMode(%q) = (%q, %v)", in, got, err)
		}
	}
	if _, err := ParseForwardMode("greylist"); err == nil {
		t.Error("unknown mode accepted")
	}
}

func TestParseMediaKind(t *testing.T) {
	got, err := ParseMediaKind("Photo")
	if err != nil || got != model.MediaPhoto {
		t.Errorf("ParseMediaKind = (%q, %v)", got, err)
	}
	if _, err := ParseMediaKind("sticker"); err == nil {
		t.Error("unknown kind accepted")
	}
}
