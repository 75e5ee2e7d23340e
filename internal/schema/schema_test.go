package schema

import "testing"

func TestParseScopeKey(t *testing.T) {
	cases := []struct {
		raw  string
		want ScopeKey
	}{
		{"", GlobalScope()},
		{"global", GlobalScope()},
		{" global ", GlobalScope()},
		{"talkgroup:fire-dispatch", TalkgroupScope("fire-dispatch")},
		{"scanlist:public-safety", ScanlistScope("public-safety")},
		{"unit:engine-7", UnitScope("engine-7")},
		{"incident:warehouse-fire", IncidentScope("warehouse-fire")},
	}
	for _, tc := range cases {
		got, err := ParseScopeKey(tc.raw)
		if err != nil {
			t.Fatalf("ParseScopeKey(%q): %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("ParseScopeKey(%q) = %+v, want %+v", tc.raw, got, tc.want)
		}
		if round, err := ParseScopeKey(got.String()); err != nil || round != got {
			t.Fatalf("round-trip of %q failed: %+v, %v", got.String(), round, err)
		}
	}
}

func TestParseScopeKeyRejectsMalformedInput(t *testing.T) {
	for _, raw := range []string{
		"bogus",
		"talkgroup:",
		"talkgroup: ",
		"global:extra",
		"channel:fire-dispatch",
	} {
		if _, err := ParseScopeKey(raw); err == nil {
			t.Fatalf("ParseScopeKey(%q) accepted malformed input", raw)
		}
	}
}

func TestScopeKeyValid(t *testing.T) {
	if !GlobalScope().Valid() || !TalkgroupScope("x").Valid() {
		t.Fatal("well-formed keys reported invalid")
	}
	for _, k := range []ScopeKey{
		{Kind: ScopeGlobal, ID: "x"},
		{Kind: ScopeTalkgroup},
		{Kind: "channel", ID: "x"},
	} {
		if k.Valid() {
			t.Fatalf("%+v reported valid", k)
		}
	}
}

func TestTalkgroupDisplayName(t *testing.T) {
	tg := Talkgroup{DecimalID: 1001}
	if got := tg.DisplayName(); got != "TG 1001" {
		t.Fatalf("fallback name = %q", got)
	}
	tg.AlphaTag = "FD DISP"
	if got := tg.DisplayName(); got != "FD DISP" {
		t.Fatalf("alpha tag name = %q", got)
	}
	tg.CommonName = "Fire Dispatch"
	if got := tg.DisplayName(); got != "Fire Dispatch" {
		t.Fatalf("common name = %q", got)
	}
}
