package report

import (
	"os"
	"testing"
)

func TestRecordWriteToProducesNonEmptyOutput(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "report-*.tlv")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer f.Close()

	w := NewWriter(f, 0)
	rec := Record{
		System:  SystemInfo{OSVersion: "linux-test", Arch: "amd64", Timestamp: 1},
		Machine: MachineInfo{Model: "test-machine"},
		App:     AppInfo{Identifier: "com.example.app", Version: "1.0.0"},
		Process: ProcessInfo{PID: 123, Path: "/bin/app", StartTime: 2},
		Threads: []ThreadInfo{
			{Index: 0, Crashed: true, Registers: map[string]uint64{"pc": 0x1000}, Frames: []Frame{{IP: 0x1000}, {IP: 0x2000, Class: "Foo", Method: "bar:"}}},
		},
		Images: []ImageInfo{
			{Base: 0x400000, Size: 0x1000, Path: "/bin/app"},
		},
		Signal: SignalInfo{Name: "SIGSEGV", Code: 1, Address: 0xdead},
		Report: ReportInfo{UserRequested: false},
	}

	if err := rec.WriteTo(w); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	info, err := os.Stat(f.Name())
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() == 0 {
		t.Fatalf("report file is empty")
	}
}

func TestRecordWriteToOverflowsSmallBuffer(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "report-*.tlv")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer f.Close()

	w := NewWriter(f, 8) // too small for even one sub-message
	rec := Record{App: AppInfo{Identifier: "something long enough to overflow"}}

	if err := rec.WriteTo(w); err == nil {
		t.Fatalf("WriteTo over capacity: want error, got nil")
	}
}
