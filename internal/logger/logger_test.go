package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

func TestFileWriter_Defaults(t *testing.T) {
	cfg := Config{}
	if w := cfg.FileWriter(); w != nil {
		t.Fatalf("expected nil writer when no file is set")
	}
	cfg = Config{File: filepath.Join(t.TempDir(), "x.log")}
	w := cfg.FileWriter()
	l, ok := w.(*lj.Logger)
	if !ok {
		t.Fatalf("expected lumberjack writer, got %T", w)
	}
	if l.MaxSize != DefaultMaxSizeMB || l.MaxBackups != DefaultMaxBackups || l.MaxAge != DefaultMaxAgeDays {
		t.Fatalf("defaults not applied: %+v", l)
	}
	_ = w.Close()
}

func TestNew_WritesConsoleAndFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sysmaint.log")
	var console bytes.Buffer
	log, closer, err := New(Config{Level: "debug", NoColor: true, File: path}, &console)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Info("trim complete", "trimmed", 3)
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !strings.Contains(console.String(), "trim complete") {
		t.Fatalf("console missing message: %q", console.String())
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}
	if !strings.Contains(string(b), `"trimmed":3`) {
		t.Fatalf("file missing json attrs: %s", b)
	}
}

func TestNew_RejectsUnknownLevelAndFormat(t *testing.T) {
	if _, _, err := New(Config{Level: "loud"}, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if _, _, err := New(Config{Format: "xml"}, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

func TestColorTextHandler_PrefixesLevel(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorTextHandler(&buf, nil, false)
	slog.New(h).With("stage", "purge").Warn("limited privileges")
	out := buf.String()
	if !strings.HasPrefix(out, "\033[33mWARN\033[0m msg=") {
		t.Fatalf("missing colour prefix: %q", out)
	}
	if strings.Contains(out, `\x1b`) || strings.Contains(out, "level=") {
		t.Fatalf("colour codes must not be escaped into the message: %q", out)
	}
	if !strings.Contains(out, `msg="limited privileges"`) {
		t.Fatalf("message altered: %q", out)
	}
	if strings.Contains(out, "time=") {
		t.Fatalf("time should be dropped when showTime=false: %q", out)
	}
	if !strings.Contains(out, "stage=purge") {
		t.Fatalf("bound attrs lost: %q", out)
	}
}

func TestColorTextHandler_LinesStayWhole(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewColorTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false))
	log.Debug("one")
	log.With("pid", 4).Error("two")
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("want 2 lines, got %q", buf.String())
	}
	if !strings.HasPrefix(lines[0], "\033[36mDEBUG") || !strings.HasPrefix(lines[1], "\033[31mERROR") {
		t.Fatalf("unexpected prefixes: %q", lines)
	}
	if !strings.HasSuffix(lines[1], "pid=4") {
		t.Fatalf("bound attr missing: %q", lines[1])
	}
}

func TestLineSink_RendersOneLinePerRecord(t *testing.T) {
	var lines []string
	log := slog.New(NewLineSink(func(s string) { lines = append(lines, s) }, slog.LevelInfo))
	log.Debug("hidden")
	log.With("stage", "dism").WithGroup("out").Info("finished", "code", 0)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %v", len(lines), lines)
	}
	if lines[0] != "finished stage=dism out.code=0" {
		t.Fatalf("unexpected line %q", lines[0])
	}
}

func TestFanout_RespectsLevels(t *testing.T) {
	var infoLines, warnLines []string
	h := Fanout(
		NewLineSink(func(s string) { infoLines = append(infoLines, s) }, slog.LevelInfo),
		NewLineSink(func(s string) { warnLines = append(warnLines, s) }, slog.LevelWarn),
	)
	log := slog.New(h)
	log.Info("a")
	log.Warn("b")
	if len(infoLines) != 2 || len(warnLines) != 1 {
		t.Fatalf("info=%v warn=%v", infoLines, warnLines)
	}
}
