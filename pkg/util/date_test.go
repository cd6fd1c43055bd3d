package util

import (
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestFromEpoch(t *testing.T) {
	want := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	tests := []struct {
		name string
		in   int64
	}{
		{"seconds", want.Unix()},
		{"millis", want.UnixMilli()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FromEpoch(tt.in); !got.Equal(want) {
				t.Fatalf("expected %v, got %v", want, got)
			}
			got, ok := ParseTime(strconv.FormatInt(tt.in, 10))
			if !ok || !got.Equal(want) {
				t.Fatalf("parse: expected %v, got %v (%v)", want, got, ok)
			}
		})
	}
}

func TestParseTimeDefault(t *testing.T) {
	def := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	for _, s := range []string{"", "yesterday", "-5"} {
		if got := ParseTimeDefault(s, def); !got.Equal(def) {
			t.Fatalf("%q: expected default, got %v", s, got)
		}
	}
}

func TestParseDefaults(t *testing.T) {
	if got := ParseIntDefault(" 42 ", 1); got != 42 {
		t.Fatalf("int: got %d", got)
	}
	if got := ParseIntDefault("x", 7); got != 7 {
		t.Fatalf("int default: got %d", got)
	}
	if got := ParseFloatDefault("0.25", 0); got != 0.25 {
		t.Fatalf("float: got %v", got)
	}
	if got := ParseBoolDefault("", true); !got {
		t.Fatalf("bool default lost")
	}
	if got := ParseDurationDefault("20s", 0); got != 20*time.Second {
		t.Fatalf("duration: got %v", got)
	}
	got := SplitCSV(" a, ,b,")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("csv: got %v", got)
	}
}
