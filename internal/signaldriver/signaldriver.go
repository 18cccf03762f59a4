// Package signaldriver wires together register capture, the unwind
// cursor, ObjC symbolication, and the TLV writer into the crash
// reporter's single entry point, CrashNow.
//
// Mach-based PLCrashReporter installs a chained handler on an alternate
// signal stack. Go gives no portable way to register a raw sigaction or
// run on an altstack from user code, so this package uses the closest
// portable analogue: os/signal.Notify onto a dedicated buffered channel,
// serviced by one goroutine started once at Enable and never again —
// once started it does no further allocation beyond what CrashNow itself
// needs, matching the spirit of "no allocation on the hot path" even
// though the underlying delivery mechanism is the Go runtime's signal-to-
// channel forwarding rather than a raw signal handler. CrashNow also takes
// an optional exception record as an argument, per spec.md §9's explicit
// redesign recommendation (one entry point, nothing stashed on shared
// state); this package installs no panic hook of its own, so a record
// reaches CrashNow only from a caller that passes one.
package signaldriver

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"time"

	"github.com/tripwire/crashcore/internal/config"
	"github.com/tripwire/crashcore/internal/debugprint"
	"github.com/tripwire/crashcore/internal/imagelist"
	"github.com/tripwire/crashcore/internal/loader"
	"github.com/tripwire/crashcore/internal/objc"
	"github.com/tripwire/crashcore/internal/regstate"
	"github.com/tripwire/crashcore/internal/report"
	"github.com/tripwire/crashcore/internal/unwind"
)

// crashMu serializes CrashNow against itself: the rare reentrant-crash-
// during-crash case (spec.md §5's concurrency model, strengthened per
// SPEC_FULL.md §5 since Go's runtime could in principle still deliver a
// second fault signal while the first is being handled).
var crashMu sync.Mutex

// Driver owns the output file, the TLV writer, the image list, and the
// ObjC symbolication session for one enabled reporter instance. Per
// SPEC_FULL.md §5, a Driver owns exactly one objc.Session — never shared
// across concurrent CrashNow calls, since crashMu already serializes them.
type Driver struct {
	cfg     *config.Config
	file    *os.File
	writer  *report.Writer
	images  *imagelist.List
	objcSes *objc.Session

	sigCh  chan os.Signal
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Enable opens cfg.OutputPath (O_CREAT|O_TRUNC|0644), builds the report
// writer over it, seeds the image list via loader.ScanLoadedImages, and —
// unless cfg.ExceptionHandling is ExceptionHandlingNone — starts the
// signal-servicing goroutine watching the fault signals named in
// monitoredSignals.
func Enable(cfg *config.Config) (*Driver, error) {
	f, err := os.OpenFile(cfg.OutputPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("signaldriver: open %q: %w", cfg.OutputPath, err)
	}

	images := &imagelist.List{}
	if err := loader.ScanLoadedImages(images); err != nil {
		debugprint.Printf("signaldriver: ScanLoadedImages failed, continuing with an empty image list\n")
	}

	d := &Driver{
		cfg:     cfg,
		file:    f,
		writer:  report.NewWriter(f, report.DefaultCapacity),
		images:  images,
		objcSes: objc.NewSession(0),
		sigCh:   make(chan os.Signal, 4),
		stopCh:  make(chan struct{}),
	}

	if cfg.ExceptionHandling != config.ExceptionHandlingNone {
		signal.Notify(d.sigCh, monitoredSignals...)
		d.wg.Add(1)
		go d.serviceSignals()
	}

	return d, nil
}

// Disable stops the signal-servicing goroutine and closes the output
// file. Safe to call once; not safe to call concurrently with CrashNow.
func (d *Driver) Disable() {
	signal.Stop(d.sigCh)
	close(d.stopCh)
	d.wg.Wait()
	_ = d.file.Close()
}

func (d *Driver) serviceSignals() {
	defer d.wg.Done()
	for {
		select {
		case sig := <-d.sigCh:
			d.CrashNow(sig, nil)
		case <-d.stopCh:
			return
		}
	}
}

// CrashNow is the single entry point spec.md §9 recommends: the
// signal-servicing goroutine calls it with the signal and a nil exception,
// and any caller holding an exception record may call it directly. It captures registers, walks the stack, symbolicates each
// frame best-effort, and writes the full report. CrashNow itself never
// panics and never returns an error: every failure along this path is
// reported via debugprint and swallowed (spec.md §7).
func (d *Driver) CrashNow(sig os.Signal, exception *report.ExceptionRecord) {
	crashMu.Lock()
	defer crashMu.Unlock()

	var frames []report.Frame
	regstate.Current(func(s *regstate.State) {
		frames = d.walkStack(s)
	})

	sigName := "SIGUSR-REPORT"
	if sig != nil {
		sigName = sig.String()
	}

	rec := report.Record{
		System:  report.SystemInfo{OSVersion: runtime.GOOS, Arch: runtime.GOARCH, Timestamp: uint64(time.Now().Unix())},
		Machine: report.MachineInfo{Model: runtime.GOARCH},
		App:     report.AppInfo{Identifier: d.cfg.ApplicationIdentifier, Version: d.cfg.ApplicationVersion},
		Process: report.ProcessInfo{PID: uint64(os.Getpid()), Path: processPath()},
		Threads: []report.ThreadInfo{
			{Index: 0, Crashed: sig != nil, Frames: frames},
		},
		Images:    d.imageRecords(),
		Exception: exception,
		Signal:    report.SignalInfo{Name: sigName},
		Report:    report.ReportInfo{UserRequested: sig == nil},
	}

	if err := rec.WriteTo(d.writer); err != nil {
		debugprint.Printf("signaldriver: write report failed\n")
	}

	if d.cfg.PostCrashCallback != nil {
		d.cfg.PostCrashCallback(d.cfg.OutputPath)
	}
}

// walkStack runs a Cursor to exhaustion from the captured state, returning
// a best-effort symbolicated frame per step. Any reader error after the
// first frame truncates the backtrace rather than aborting the whole
// report (spec.md §7); a symbolication miss leaves a frame's Class/Method
// empty rather than dropping the frame.
func (d *Driver) walkStack(seed *regstate.State) []report.Frame {
	c := unwind.NewCursor(*seed, d.images)
	var frames []report.Frame
	for {
		ok, err := c.Next()
		if !ok {
			if err != nil && len(frames) == 0 {
				debugprint.Printf("signaldriver: unwind failed on the first frame\n")
			}
			return frames
		}
		pc, getErr := c.Current().Get(regstate.PCReg)
		if getErr != nil {
			return frames
		}
		frames = append(frames, d.symbolicate(uintptr(pc)))
	}
}

// symbolicate resolves ip to a class/method name via internal/objc,
// best-effort: any failure (no owning image, no ObjC metadata, no match)
// just yields a frame with an empty Class/Method.
func (d *Driver) symbolicate(ip uintptr) report.Frame {
	frame := report.Frame{IP: ip}
	img, ok := d.images.FindByAddress(ip)
	if !ok {
		return frame
	}
	m, found, err := d.objcSes.FindMethod(img, ip)
	if err != nil {
		debugprint.Printf("signaldriver: symbolicate failed\n")
		return frame
	}
	if !found {
		return frame
	}
	frame.Class = m.Class
	frame.Method = m.Selector
	return frame
}

func (d *Driver) imageRecords() []report.ImageInfo {
	var out []report.ImageInfo
	d.images.Each(func(img *imagelist.Image) bool {
		out = append(out, report.ImageInfo{Base: img.Base, Size: img.Size(), Path: img.Path})
		return true
	})
	return out
}

func processPath() string {
	p, err := os.Executable()
	if err != nil {
		return ""
	}
	return p
}
