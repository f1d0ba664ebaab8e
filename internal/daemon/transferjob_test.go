package daemon

import (
	"reflect"
	"testing"
)

func TestIdentifyTransferURLs(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  []string
	}{
		{"empty input", "", nil},
		{"single url", "https://example.com", []string{"https://example.com"}},
		{
			"multiple lines with blanks and whitespace",
			"https://example.com\n\n  https://example.org  \n\t\nhttps://example.net\n",
			[]string{"https://example.com", "https://example.org", "https://example.net"},
		},
		{"only blank lines", "\n\n  \n", nil},
		{
			"duplicate urls collapse to first occurrence",
			"https://a/\nhttps://a/\nhttps://b/\n",
			[]string{"https://a/", "https://b/"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := identifyTransferURLs(tc.input)
			if len(got) == 0 && len(tc.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("identifyTransferURLs(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}
