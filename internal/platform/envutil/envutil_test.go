package envutil

import (
	"testing"
	"time"
)

func TestDuration(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Duration
	}{
		{"", 5 * time.Second},
		{"30", 30 * time.Second},
		{"1m30s", 90 * time.Second},
		{"-3", 5 * time.Second},
		{"garbage", 5 * time.Second},
	}
	for _, tc := range cases {
		t.Setenv("ENVUTIL_TEST_DURATION", tc.raw)
		if got := Duration("ENVUTIL_TEST_DURATION", 5*time.Second); got != tc.want {
			t.Fatalf("Duration(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestBool(t *testing.T) {
	t.Setenv("ENVUTIL_TEST_BOOL", "yes")
	if !Bool("ENVUTIL_TEST_BOOL", false) {
		t.Fatalf("expected true")
	}
	t.Setenv("ENVUTIL_TEST_BOOL", "maybe")
	if Bool("ENVUTIL_TEST_BOOL", false) {
		t.Fatalf("expected default for unparseable value")
	}
}
