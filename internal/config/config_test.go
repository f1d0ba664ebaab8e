package config

import (
	"os"
	"reflect"
	"testing"
)

func TestParseServices(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		want    []ServiceSpec
		wantErr bool
	}{
		{"empty string yields no services", "", nil, false},
		{"whitespace only yields no services", "   ", nil, false},
		{
			"single entry",
			"title:4:/usr/bin/escriba-title",
			[]ServiceSpec{{Name: "title", Concurrency: 4, Program: "/usr/bin/escriba-title"}},
			false,
		},
		{
			"multiple entries",
			"title:4:/usr/bin/escriba-title,wget:2:/usr/bin/wget",
			[]ServiceSpec{
				{Name: "title", Concurrency: 4, Program: "/usr/bin/escriba-title"},
				{Name: "wget", Concurrency: 2, Program: "/usr/bin/wget"},
			},
			false,
		},
		{"missing program segment", "title:4", nil, true},
		{"too many segments", "title:4:/usr/bin/title:extra", nil, true},
		{"empty name", ":4:/usr/bin/title", nil, true},
		{"empty program", "title:4:", nil, true},
		{"non-numeric concurrency", "title:many:/usr/bin/title", nil, true},
		{"zero concurrency", "title:0:/usr/bin/title", nil, true},
		{"negative concurrency", "title:-1:/usr/bin/title", nil, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseServices(tc.raw)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseServices(%q) expected an error, got none", tc.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseServices(%q) unexpected error: %v", tc.raw, err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("ParseServices(%q) = %+v, want %+v", tc.raw, got, tc.want)
			}
		})
	}
}

func TestEnvOrDefault(t *testing.T) {
	const key = "ESCRIBA_TEST_ENV_OR_DEFAULT"
	os.Unsetenv(key)

	if got := EnvOrDefault(key, "fallback"); got != "fallback" {
		t.Errorf("EnvOrDefault with unset var = %q, want %q", got, "fallback")
	}

	os.Setenv(key, "set-value")
	defer os.Unsetenv(key)
	if got := EnvOrDefault(key, "fallback"); got != "set-value" {
		t.Errorf("EnvOrDefault with set var = %q, want %q", got, "set-value")
	}
}

func TestDBURIDefault(t *testing.T) {
	os.Unsetenv("ESCRIBA_DB_URI")
	if got := DBURI(); got != ":memory:" {
		t.Errorf("DBURI() default = %q, want %q", got, ":memory:")
	}
}

func TestLogLevelDefault(t *testing.T) {
	os.Unsetenv("ESCRIBA_LOG_LEVEL")
	if got := LogLevel(); got != "info" {
		t.Errorf("LogLevel() default = %q, want %q", got, "info")
	}
}
