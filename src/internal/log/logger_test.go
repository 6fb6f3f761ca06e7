package log

import (
	"bytes"
	"strings"
	"testing"
)

func capture(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var out, errOut bytes.Buffer
	SetOutput(&out, &errOut)
	t.Cleanup(func() {
		SetOutput(nil, nil)
		SetVerbose(false)
		SetForceStdErr(false)
		EnableLogs()
	})
	return &out, &errOut
}

func TestLevelsGoToExpectedStreams(t *testing.T) {
	out, errOut := capture(t)

	Infof("hello %s", "world")
	Warnf("careful")
	Errorf("broken: %d", 42)

	if !strings.Contains(out.String(), "[INF]") || !strings.Contains(out.String(), "hello world") {
		t.Errorf("expected info message on stdout, got %q", out.String())
	}
	if !strings.Contains(out.String(), "careful") {
		t.Errorf("expected warning on stdout, got %q", out.String())
	}
	if strings.Contains(out.String(), "broken") {
		t.Errorf("error message must not go to stdout")
	}
	if !strings.Contains(errOut.String(), "broken: 42") {
		t.Errorf("expected error message on stderr, got %q", errOut.String())
	}
}

func TestDebugRequiresVerbose(t *testing.T) {
	out, _ := capture(t)

	Debugf("hidden")
	if out.Len() != 0 {
		t.Fatalf("debug output without verbose: %q", out.String())
	}

	SetVerbose(true)
	Debugf("visible")
	if !strings.Contains(out.String(), "[DBG]") || !strings.Contains(out.String(), "visible") {
		t.Errorf("expected debug output, got %q", out.String())
	}
}

func TestScopedLogger(t *testing.T) {
	out, errOut := capture(t)

	l := With("[vpn_client tun0]")
	l.Infof("table %s flushed", "vpn_client_tun0")
	l.Errorf("rule failed")

	if !strings.Contains(out.String(), "[vpn_client tun0] table vpn_client_tun0 flushed") {
		t.Errorf("scope missing from info line: %q", out.String())
	}
	if !strings.Contains(errOut.String(), "[vpn_client tun0] rule failed") {
		t.Errorf("scope missing from error line: %q", errOut.String())
	}
	if l.Scope() != "[vpn_client tun0]" {
		t.Errorf("Scope() = %q", l.Scope())
	}
}

func TestForceStdErrAndDisable(t *testing.T) {
	out, errOut := capture(t)

	SetForceStdErr(true)
	Infof("to stderr")
	if out.Len() != 0 || !strings.Contains(errOut.String(), "to stderr") {
		t.Errorf("expected info on stderr when forced, stdout=%q stderr=%q", out.String(), errOut.String())
	}

	DisableLogs()
	Errorf("dropped")
	if strings.Contains(errOut.String(), "dropped") {
		t.Errorf("logs must be dropped when disabled")
	}
}
