package strategy

import "testing"

func TestStringKnownAndUnknown(t *testing.T) {
	if got := Title.String(); got != "title" {
		t.Errorf("Title.String() = %q, want %q", got, "title")
	}
	if got := InternetArchive.String(); got != "archivedotorg" {
		t.Errorf("InternetArchive.String() = %q, want %q", got, "archivedotorg")
	}
	if got := Strategy(999).String(); got != "unknown" {
		t.Errorf("Strategy(999).String() = %q, want %q", got, "unknown")
	}
}

func TestTimeoutKnownAndDefault(t *testing.T) {
	if got := YTDLP.Timeout(); got.Seconds() != 3600 {
		t.Errorf("YTDLP.Timeout() = %v, want 3600s", got)
	}
	if got := InternetArchive.Timeout(); got.Seconds() != 60 {
		t.Errorf("InternetArchive.Timeout() = %v, want 60s", got)
	}
	if got := Strategy(999).Timeout(); got != defaultTimeout {
		t.Errorf("Strategy(999).Timeout() = %v, want defaultTimeout %v", got, defaultTimeout)
	}
}

func TestAllCoversEveryNamedStrategy(t *testing.T) {
	all := All()
	if len(all) != len(names) {
		t.Fatalf("All() returned %d strategies, want %d (one per named entry)", len(all), len(names))
	}
	seen := make(map[Strategy]bool, len(all))
	for _, s := range all {
		if seen[s] {
			t.Errorf("All() contains duplicate strategy %v", s)
		}
		seen[s] = true
		if _, ok := names[s]; !ok {
			t.Errorf("All() contains %v which has no registered name", s)
		}
	}
}

func TestParseRoundTripsWithString(t *testing.T) {
	for code, name := range names {
		got, ok := Parse(name)
		if !ok {
			t.Errorf("Parse(%q) ok = false, want true", name)
		}
		if got != code {
			t.Errorf("Parse(%q) = %v, want %v", name, got, code)
		}
	}

	if _, ok := Parse("not-a-strategy"); ok {
		t.Error("Parse(\"not-a-strategy\") ok = true, want false")
	}
}
