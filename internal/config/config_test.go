package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loykin/sysmaint/internal/instance"
	"github.com/loykin/sysmaint/internal/reclaim"
)

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "sysmaint.toml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestDefaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if c.Log.Level != "info" || c.Log.Format != "text" {
		t.Fatalf("unexpected log defaults: %+v", c.Log)
	}
	if c.Log.MaxSizeMB != 10 || c.Log.MaxBackups != 3 || c.Log.MaxAgeDays != 7 {
		t.Fatalf("unexpected rotation defaults: %+v", c.Log)
	}
	if c.Instance.Name != instance.DefaultName || c.Instance.Wait != 4*time.Second {
		t.Fatalf("unexpected instance defaults: %+v", c.Instance)
	}
	if c.Memory.MinWorkingSetMB != 10 || c.Memory.MinAge != 5*time.Second {
		t.Fatalf("unexpected memory thresholds: %+v", c.Memory)
	}
	if c.Memory.SettleDelay != 5*time.Millisecond || c.Memory.LargeTrimMB != 50 {
		t.Fatalf("unexpected reclaim tunables: %+v", c.Memory)
	}
	if c.Purge.Delay != 100*time.Millisecond {
		t.Fatalf("purge delay = %s", c.Purge.Delay)
	}
	if c.Health.OutputWindow != 1200 || c.Health.DISM != "dism" || c.Health.SFC != "sfc" {
		t.Fatalf("unexpected health defaults: %+v", c.Health)
	}
	if len(c.History.DSN) != 0 || c.Metrics.Textfile != "" {
		t.Fatalf("history and metrics should be off by default")
	}
}

func TestLoadFile(t *testing.T) {
	p := writeTOML(t, `
[log]
level = "debug"
format = "json"
file = "sysmaint.log"

[instance]
name = 'Local\sysmaint_dev'
wait = "2s"

[memory]
min_working_set_mb = 25
min_age = "30s"
large_trim_mb = 200
critical_extra = ["MsMpEng.exe", "antimalware"]

[purge]
delay = "250ms"

[health]
output_window = 600
dism = 'C:\Windows\System32\dism.exe'

[history]
dsn = ["sqlite://history.db", "postgres://u:p@db:5432/sysmaint"]

[metrics]
textfile = "sysmaint.prom"
`)
	c, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Log.Level != "debug" || c.Log.Format != "json" || c.Log.File != "sysmaint.log" {
		t.Fatalf("log section not applied: %+v", c.Log)
	}
	if c.Log.MaxBackups != 3 {
		t.Fatalf("unset keys must keep defaults, got max_backups=%d", c.Log.MaxBackups)
	}
	if c.Instance.Name != `Local\sysmaint_dev` || c.Instance.Wait != 2*time.Second {
		t.Fatalf("instance section not applied: %+v", c.Instance)
	}
	if c.Purge.Delay != 250*time.Millisecond {
		t.Fatalf("purge delay = %s", c.Purge.Delay)
	}
	if c.Health.OutputWindow != 600 || c.Health.SFC != "sfc" {
		t.Fatalf("health section: %+v", c.Health)
	}
	if got := c.Health.Stages()[0].Command; got != `C:\Windows\System32\dism.exe` {
		t.Fatalf("dism path not used: %s", got)
	}
	if len(c.History.DSN) != 2 || c.Metrics.Textfile != "sysmaint.prom" {
		t.Fatalf("history/metrics: %+v %+v", c.History, c.Metrics)
	}

	pol := c.Memory.Policy()
	if pol.MinWorkingSet != 25*reclaim.MiB || pol.MinAge != 30*time.Second {
		t.Fatalf("policy thresholds: %d %s", pol.MinWorkingSet, pol.MinAge)
	}
	if _, ok := pol.Critical["msmpeng"]; !ok {
		t.Fatalf("critical_extra not normalised into policy: %v", pol.Critical)
	}
	if opts := c.Memory.Options(); opts.LargeTrim != 200*reclaim.MiB || opts.SettleDelay != 5*time.Millisecond {
		t.Fatalf("reclaim options: %+v", opts)
	}
	if lc := c.Log.Logger(); lc.File != "sysmaint.log" || lc.MaxSizeMB != 10 {
		t.Fatalf("logger config: %+v", lc)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("SYSMAINT_MEMORY_MIN_AGE", "12s")
	t.Setenv("SYSMAINT_LOG_LEVEL", "warn")
	t.Setenv("SYSMAINT_HISTORY_DSN", "sqlite://a.db")

	p := writeTOML(t, "[log]\nlevel = \"debug\"\n")
	c, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Memory.MinAge != 12*time.Second {
		t.Fatalf("env did not override memory.min_age: %s", c.Memory.MinAge)
	}
	if c.Log.Level != "warn" {
		t.Fatalf("env should win over file, got %q", c.Log.Level)
	}
	if len(c.History.DSN) != 1 || c.History.DSN[0] != "sqlite://a.db" {
		t.Fatalf("history dsn from env: %v", c.History.DSN)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if _, err := Load(writeTOML(t, "[log\nlevel=")); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	p := writeTOML(t, `
[log]
level = "chatty"
format = "xml"

[purge]
delay = "-1s"

[health]
output_window = 0
`)
	_, err := Load(p)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"log.level", "log.format", "purge.delay", "health.output_window"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestDefaultMatchesLoad(t *testing.T) {
	d := Default()
	if d.Instance.Name != instance.DefaultName || d.Health.OutputWindow != 1200 {
		t.Fatalf("Default() = %+v", d)
	}
}
