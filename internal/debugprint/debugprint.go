// Package debugprint is the crash path's only logging surface: a single
// async-signal-safe Printf-like function that writes straight to fd 2.
//
// fmt.Printf is unusable here — its reflection-driven formatting
// allocates, and the Go allocator is not safe to re-enter from a signal
// handler. strconv's non-reflective integer/string formatting costs
// nothing comparable, so Printf below builds each formatted argument with
// strconv into a fixed stack buffer and writes the whole line with one
// unix.Write call, following the same "no allocation on the hot path"
// discipline as internal/report's writer and internal/objc's cache.
package debugprint

import (
	"strconv"

	"golang.org/x/sys/unix"
)

// maxLineLen bounds one formatted line. A line that would overflow it is
// truncated, never buffered into a second syscall.
const maxLineLen = 1024

// Printf formats format with args and writes the result to fd 2. Supported
// verbs: %d (signed decimal), %x (unsigned hex), %s (string), %%. Any other
// verb is copied through literally rather than causing a panic — this
// function must never fail loudly on the crash path.
func Printf(format string, args ...any) {
	var buf [maxLineLen]byte
	n := 0
	argi := 0

	appendStr := func(s string) {
		for i := 0; i < len(s) && n < len(buf); i++ {
			buf[n] = s[i]
			n++
		}
	}

	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' || i+1 >= len(format) {
			if n < len(buf) {
				buf[n] = c
				n++
			}
			continue
		}
		i++
		verb := format[i]
		switch verb {
		case '%':
			if n < len(buf) {
				buf[n] = '%'
				n++
			}
		case 'd':
			appendStr(formatArgDecimal(nextArg(args, &argi)))
		case 'x':
			appendStr(formatArgHex(nextArg(args, &argi)))
		case 's':
			appendStr(formatArgString(nextArg(args, &argi)))
		default:
			if n < len(buf) {
				buf[n] = '%'
				n++
			}
			if n < len(buf) {
				buf[n] = verb
				n++
			}
		}
	}

	_, _ = unix.Write(2, buf[:n])
}

func nextArg(args []any, i *int) any {
	if *i >= len(args) {
		return nil
	}
	v := args[*i]
	*i++
	return v
}

func formatArgDecimal(v any) string {
	switch x := v.(type) {
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case uintptr:
		return strconv.FormatUint(uint64(x), 10)
	default:
		return "?"
	}
}

func formatArgHex(v any) string {
	switch x := v.(type) {
	case int:
		return strconv.FormatInt(int64(x), 16)
	case int64:
		return strconv.FormatInt(x, 16)
	case uint64:
		return strconv.FormatUint(x, 16)
	case uintptr:
		return strconv.FormatUint(uint64(x), 16)
	default:
		return "?"
	}
}

func formatArgString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return "?"
}
