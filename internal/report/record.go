package report

// Tag numbers for the top-level record schema (spec.md §4.H): system info,
// machine info, app info, process info, N threads, N images, an optional
// exception record, signal info, and report info. Stable once assigned —
// retired tags are never reused.
const (
	tagSystemInfo    Tag = 1
	tagMachineInfo   Tag = 2
	tagAppInfo       Tag = 3
	tagProcessInfo   Tag = 4
	tagThread        Tag = 5
	tagImage         Tag = 6
	tagException     Tag = 7
	tagSignalInfo    Tag = 8
	tagReportInfo    Tag = 9

	tagSysOSVersion   Tag = 1
	tagSysArch        Tag = 2
	tagSysTimestamp   Tag = 3

	tagMachModel Tag = 1

	tagAppIdentifier Tag = 1
	tagAppVersion    Tag = 2

	tagProcPID      Tag = 1
	tagProcPath     Tag = 2
	tagProcStart    Tag = 3

	tagThreadIndex    Tag = 1
	tagThreadCrashed  Tag = 2
	tagThreadRegName  Tag = 3
	tagThreadRegValue Tag = 4
	tagThreadFrame    Tag = 5

	tagFrameIP     Tag = 1
	tagFrameClass  Tag = 2
	tagFrameMethod Tag = 3

	tagImageBase Tag = 1
	tagImageSize Tag = 2
	tagImageUUID Tag = 3
	tagImagePath Tag = 4

	tagExcName   Tag = 1
	tagExcReason Tag = 2
	tagExcFrame  Tag = 3

	tagSigName Tag = 1
	tagSigCode Tag = 2
	tagSigAddr Tag = 3

	tagReportUserRequested Tag = 1
	tagReportUUID          Tag = 2
)

// SystemInfo describes the OS the report was generated on.
type SystemInfo struct {
	OSVersion string
	Arch      string
	Timestamp uint64 // seconds since Unix epoch
}

func (s SystemInfo) writeTo(w *TLVWriter) error {
	if err := w.WriteString(tagSysOSVersion, s.OSVersion); err != nil {
		return err
	}
	if err := w.WriteString(tagSysArch, s.Arch); err != nil {
		return err
	}
	return w.WriteUint64(tagSysTimestamp, s.Timestamp)
}

// MachineInfo describes the host hardware.
type MachineInfo struct {
	Model string
}

func (m MachineInfo) writeTo(w *TLVWriter) error {
	return w.WriteString(tagMachModel, m.Model)
}

// AppInfo carries the configured application identity (internal/config).
type AppInfo struct {
	Identifier string
	Version    string
}

func (a AppInfo) writeTo(w *TLVWriter) error {
	if err := w.WriteString(tagAppIdentifier, a.Identifier); err != nil {
		return err
	}
	return w.WriteString(tagAppVersion, a.Version)
}

// ProcessInfo describes the crashed process.
type ProcessInfo struct {
	PID       uint64
	Path      string
	StartTime uint64
}

func (p ProcessInfo) writeTo(w *TLVWriter) error {
	if err := w.WriteUint64(tagProcPID, p.PID); err != nil {
		return err
	}
	if err := w.WriteString(tagProcPath, p.Path); err != nil {
		return err
	}
	return w.WriteUint64(tagProcStart, p.StartTime)
}

// Frame is one unwound stack frame, optionally symbolicated by
// internal/objc. Class and Method are empty when symbolication found
// nothing for IP — a best-effort miss, not an error (spec.md §7).
type Frame struct {
	IP     uintptr
	Class  string
	Method string
}

func (f Frame) writeTo(w *TLVWriter) error {
	if err := w.WriteUint64(tagFrameIP, uint64(f.IP)); err != nil {
		return err
	}
	if f.Class != "" {
		if err := w.WriteString(tagFrameClass, f.Class); err != nil {
			return err
		}
	}
	if f.Method != "" {
		if err := w.WriteString(tagFrameMethod, f.Method); err != nil {
			return err
		}
	}
	return nil
}

// ThreadInfo is one thread's register dump and unwound, best-effort
// symbolicated frame list.
type ThreadInfo struct {
	Index     int
	Crashed   bool
	Registers map[string]uint64
	Frames    []Frame
}

func (t ThreadInfo) writeTo(w *TLVWriter) error {
	if err := w.WriteUint64(tagThreadIndex, uint64(t.Index)); err != nil {
		return err
	}
	crashed := uint64(0)
	if t.Crashed {
		crashed = 1
	}
	if err := w.WriteUint64(tagThreadCrashed, crashed); err != nil {
		return err
	}
	for name, value := range t.Registers {
		if err := w.WriteString(tagThreadRegName, name); err != nil {
			return err
		}
		if err := w.WriteUint64(tagThreadRegValue, value); err != nil {
			return err
		}
	}
	for _, f := range t.Frames {
		if err := writeNested(w, tagThreadFrame, f.writeTo); err != nil {
			return err
		}
	}
	return nil
}

// ImageInfo describes one loaded binary image.
type ImageInfo struct {
	Base uintptr
	Size uintptr
	UUID [16]byte
	Path string
}

func (img ImageInfo) writeTo(w *TLVWriter) error {
	if err := w.WriteUint64(tagImageBase, uint64(img.Base)); err != nil {
		return err
	}
	if err := w.WriteUint64(tagImageSize, uint64(img.Size)); err != nil {
		return err
	}
	if err := w.WriteBytes(tagImageUUID, img.UUID[:]); err != nil {
		return err
	}
	return w.WriteString(tagImagePath, img.Path)
}

// ExceptionRecord captures an uncaught language-level exception's identity
// and call stack, recorded ahead of a synthetic fault raised to converge
// onto the signal path (spec.md §4.H, §9).
type ExceptionRecord struct {
	Name   string
	Reason string
	Frames []uintptr
}

func (e ExceptionRecord) writeTo(w *TLVWriter) error {
	if err := w.WriteString(tagExcName, e.Name); err != nil {
		return err
	}
	if err := w.WriteString(tagExcReason, e.Reason); err != nil {
		return err
	}
	for _, ip := range e.Frames {
		if err := w.WriteUint64(tagExcFrame, uint64(ip)); err != nil {
			return err
		}
	}
	return nil
}

// SignalInfo describes the fault signal that triggered the report.
type SignalInfo struct {
	Name    string
	Code    int64
	Address uintptr
}

func (s SignalInfo) writeTo(w *TLVWriter) error {
	if err := w.WriteString(tagSigName, s.Name); err != nil {
		return err
	}
	if err := w.WriteUint64(tagSigCode, uint64(s.Code)); err != nil {
		return err
	}
	return w.WriteUint64(tagSigAddr, uint64(s.Address))
}

// ReportInfo carries report-level metadata: whether this report was
// produced on user request (rather than a real fault) and its UUID.
type ReportInfo struct {
	UserRequested bool
	UUID          [16]byte
}

func (r ReportInfo) writeTo(w *TLVWriter) error {
	requested := uint64(0)
	if r.UserRequested {
		requested = 1
	}
	if err := w.WriteUint64(tagReportUserRequested, requested); err != nil {
		return err
	}
	return w.WriteBytes(tagReportUUID, r.UUID[:])
}

// Record is the full top-level crash report schema (spec.md §4.H):
// system/machine/app/process info, every thread, every loaded image, an
// optional exception record, the triggering signal, and report metadata.
type Record struct {
	System    SystemInfo
	Machine   MachineInfo
	App       AppInfo
	Process   ProcessInfo
	Threads   []ThreadInfo
	Images    []ImageInfo
	Exception *ExceptionRecord // nil unless an uncaught exception preceded the fault
	Signal    SignalInfo
	Report    ReportInfo
}

// WriteTo encodes r as a sequence of nested TLV messages into w and flushes
// it. Returns crashkind.ErrNoMemory without partial corruption of the
// underlying file if r would overflow w's buffer — the truncated in-buffer
// bytes are simply never flushed.
func (r Record) WriteTo(w *Writer) error {
	tw := w.tlv()

	if err := writeNested(tw, tagSystemInfo, r.System.writeTo); err != nil {
		return err
	}
	if err := writeNested(tw, tagMachineInfo, r.Machine.writeTo); err != nil {
		return err
	}
	if err := writeNested(tw, tagAppInfo, r.App.writeTo); err != nil {
		return err
	}
	if err := writeNested(tw, tagProcessInfo, r.Process.writeTo); err != nil {
		return err
	}
	for _, th := range r.Threads {
		if err := writeNested(tw, tagThread, th.writeTo); err != nil {
			return err
		}
	}
	for _, img := range r.Images {
		if err := writeNested(tw, tagImage, img.writeTo); err != nil {
			return err
		}
	}
	if r.Exception != nil {
		if err := writeNested(tw, tagException, r.Exception.writeTo); err != nil {
			return err
		}
	}
	if err := writeNested(tw, tagSignalInfo, r.Signal.writeTo); err != nil {
		return err
	}
	if err := writeNested(tw, tagReportInfo, r.Report.writeTo); err != nil {
		return err
	}

	return w.Flush()
}

func writeNested(w *TLVWriter, tag Tag, body func(*TLVWriter) error) error {
	off, err := w.BeginMessage(tag)
	if err != nil {
		return err
	}
	if err := body(w); err != nil {
		return err
	}
	w.EndMessage(off)
	return nil
}
