package signaldriver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tripwire/crashcore/internal/config"
	"github.com/tripwire/crashcore/internal/report"
)

func testConfig(t *testing.T, outputPath string) *config.Config {
	t.Helper()
	cfg, err := config.New(
		config.WithApplicationIdentifier("com.example.test"),
		config.WithApplicationVersion("1.0.0"),
		config.WithOutputPath(outputPath),
		config.WithExceptionHandling(config.ExceptionHandlingNone),
	)
	if err != nil {
		t.Fatalf("config.New: %v", err)
	}
	return cfg
}

func TestEnableCreatesOutputFile(t *testing.T) {
	outPath := filepath.Join(t.TempDir(), "report.tlv")
	d, err := Enable(testConfig(t, outPath))
	if err != nil {
		t.Fatalf("Enable: %v", err)
	}
	defer d.Disable()

	if _, err := os.Stat(outPath); err != nil {
		t.Fatalf("output file not created: %v", err)
	}
}

func TestCrashNowWritesNonEmptyReport(t *testing.T) {
	outPath := filepath.Join(t.TempDir(), "report.tlv")
	d, err := Enable(testConfig(t, outPath))
	if err != nil {
		t.Fatalf("Enable: %v", err)
	}
	defer d.Disable()

	d.CrashNow(nil, nil)

	info, err := os.Stat(outPath)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() == 0 {
		t.Fatalf("report file is empty after CrashNow")
	}
}

func TestCrashNowWithExceptionRecord(t *testing.T) {
	outPath := filepath.Join(t.TempDir(), "report.tlv")
	d, err := Enable(testConfig(t, outPath))
	if err != nil {
		t.Fatalf("Enable: %v", err)
	}
	defer d.Disable()

	exc := &report.ExceptionRecord{Name: "RuntimeError", Reason: "test exception"}
	d.CrashNow(nil, exc)

	info, err := os.Stat(outPath)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() == 0 {
		t.Fatalf("report file is empty after CrashNow with exception")
	}
}

func TestDisableStopsGoroutineCleanly(t *testing.T) {
	outPath := filepath.Join(t.TempDir(), "report.tlv")
	cfg := testConfig(t, outPath)
	cfg.ExceptionHandling = config.ExceptionHandlingAll
	d, err := Enable(cfg)
	if err != nil {
		t.Fatalf("Enable: %v", err)
	}
	d.Disable() // must return, not hang
}
