package logger

import "testing"

func TestNew(t *testing.T) {
	for _, tc := range []struct{ level, format string }{
		{"info", "json"},
		{"DEBUG", "console"},
		{"", "json"},
	} {
		l, err := New(tc.level, tc.format)
		if err != nil {
			t.Fatalf("New(%q, %q): %v", tc.level, tc.format, err)
		}
		_ = l.Sync()
	}
	if _, err := New("loud", "json"); err == nil {
		t.Fatalf("expected an error for an unknown level")
	}
}
