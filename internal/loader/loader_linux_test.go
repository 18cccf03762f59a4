//go:build linux

package loader

import "testing"

func TestParseMapsLineSkipsAnonymousAndPseudo(t *testing.T) {
	cases := []struct {
		line string
		ok   bool
	}{
		{"55a1a2b3c000-55a1a2b3e000 r--p 00000000 08:01 123456 /usr/bin/cat", true},
		{"7f8a9b0c0000-7f8a9b0e0000 rw-p 00000000 00:00 0 ", false},
		{"7fffd2a1e000-7fffd2a3f000 rw-p 00000000 00:00 0 [stack]", false},
		{"7f8a9b2d0000-7f8a9b2d1000 r--p 00000000 00:00 0 [vdso]", false},
	}
	for _, c := range cases {
		_, _, _, ok := parseMapsLine(c.line)
		if ok != c.ok {
			t.Errorf("parseMapsLine(%q) ok=%v, want %v", c.line, ok, c.ok)
		}
	}
}

func TestParseMapsLineExtractsRange(t *testing.T) {
	path, start, end, ok := parseMapsLine("00400000-00452000 r-xp 00000000 08:01 123 /bin/app")
	if !ok {
		t.Fatalf("parseMapsLine: want ok")
	}
	if path != "/bin/app" || start != 0x400000 || end != 0x452000 {
		t.Fatalf("got path=%q start=%#x end=%#x", path, start, end)
	}
}
