package store

import "testing"

func TestNormalizeURL(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"simple", "https://example.com/page", "https://example.com/page", false},
		{"trims whitespace", "  https://example.com/page  ", "https://example.com/page", false},
		{"preserves query", "https://example.com/page?a=1&b=2", "https://example.com/page?a=1&b=2", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeURL(tc.raw)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("NormalizeURL(%q) expected an error, got none", tc.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeURL(%q) unexpected error: %v", tc.raw, err)
			}
			if got != tc.want {
				t.Errorf("NormalizeURL(%q) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}
}

func TestAltTitle(t *testing.T) {
	got := AltTitle("https://example.com/page?x=1")
	want := "example.com /page x=1"
	if got != want {
		t.Errorf("AltTitle() = %q, want %q", got, want)
	}
}

func TestWebpageSafeTitle(t *testing.T) {
	w := Webpage{URL: "https://example.com/page"}
	if got := w.SafeTitle(); got != AltTitle(w.URL) {
		t.Errorf("SafeTitle() with nil Title = %q, want fallback %q", got, AltTitle(w.URL))
	}

	title := "Example Page"
	w.Title = &title
	if got := w.SafeTitle(); got != title {
		t.Errorf("SafeTitle() with set Title = %q, want %q", got, title)
	}

	blank := "   "
	w.Title = &blank
	if got := w.SafeTitle(); got != AltTitle(w.URL) {
		t.Errorf("SafeTitle() with blank Title = %q, want fallback %q", got, AltTitle(w.URL))
	}
}
