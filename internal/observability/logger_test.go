package observability

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

type recordingLogger struct {
	debugs int
	infos  int
	errors int
}

func (r *recordingLogger) Debug(string, ...Field) { r.debugs++ }
func (r *recordingLogger) Info(string, ...Field)  { r.infos++ }
func (r *recordingLogger) Error(string, ...Field) { r.errors++ }

func TestSetLoggerOverridesGlobal(t *testing.T) {
	t.Cleanup(func() { SetLogger(nil) })

	recorder := new(recordingLogger)
	SetLogger(recorder)

	Log().Debug("test")
	if recorder.debugs != 1 {
		t.Fatalf("debugs = %d", recorder.debugs)
	}

	SetLogger(nil)
	Log().Info("noop")
	if recorder.infos != 0 {
		t.Fatalf("nil must restore the noop logger, infos = %d", recorder.infos)
	}
}

func TestFBuildsField(t *testing.T) {
	field := F("venue", "binance")
	if field.Key != "venue" || field.Value != "binance" {
		t.Fatalf("field = %+v", field)
	}
}

func TestStdLoggerRendersFields(t *testing.T) {
	original := log.Writer()
	t.Cleanup(func() { log.SetOutput(original) })

	var buf bytes.Buffer
	log.SetOutput(&buf)

	StdLogger{}.Error("probe failed", F("venue", "kraken"), F("attempt", 3))

	line := buf.String()
	if !strings.Contains(line, "ERROR probe failed") {
		t.Fatalf("line = %q", line)
	}
	if !strings.Contains(line, "venue=kraken") || !strings.Contains(line, "attempt=3") {
		t.Fatalf("fields not rendered: %q", line)
	}
}
