package version

import (
	"strings"
	"testing"
)

func TestStringAndUserAgent(t *testing.T) {
	old := Version
	Version = "1.2.3"
	defer func() { Version = old }()

	if got := UserAgent(); got != "btcwatch/1.2.3" {
		t.Fatalf("unexpected user agent %q", got)
	}
	if got := String(); !strings.HasPrefix(got, "btcwatch 1.2.3\ncommit: ") {
		t.Fatalf("unexpected build info %q", got)
	}
}
