package config

import (
	"bytes"
	"testing"
)

func TestReportWritesPrefixedMessage(t *testing.T) {
	var buf bytes.Buffer
	code := report(&buf, "start server: %s", "listen tcp: address in use")
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	want := "bookshelf: start server: listen tcp: address in use\n"
	if buf.String() != want {
		t.Fatalf("message = %q, want %q", buf.String(), want)
	}
}
