package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   DEBUG,
		"  WARN ": WARN,
		"warning": WARN,
		"error":   ERROR,
		"fatal":   FATAL,
		"info":    INFO,
		"bogus":   INFO,
		"":        INFO,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFileSinkAndLevelFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "mjproxy.log")
	if err := EnableFileLogging(path); err != nil {
		t.Fatalf("enable file logging: %v", err)
	}
	defer DisableFileLogging()

	SetLevel(INFO)
	InfoCF("gateway", "session ready", map[string]interface{}{"account": "acct-1"})
	WarnC("handler", "unmatched error banner")
	DebugC("gateway", "suppressed at info level")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	out := string(data)

	if !strings.Contains(out, `"component":"gateway"`) {
		t.Fatalf("component field missing: %s", out)
	}
	if !strings.Contains(out, "session ready") || !strings.Contains(out, `"account":"acct-1"`) {
		t.Fatalf("structured fields missing: %s", out)
	}
	if !strings.Contains(out, "unmatched error banner") {
		t.Fatalf("warn line missing: %s", out)
	}
	if strings.Contains(out, "suppressed at info level") {
		t.Fatalf("debug line leaked through info level: %s", out)
	}
}
