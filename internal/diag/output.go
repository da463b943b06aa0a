package diag

import (
	"bytes"
	"strings"
	"unicode"
	"unicode/utf8"

	xunicode "golang.org/x/text/encoding/unicode"
)

// DefaultOutputWindow is the number of trailing characters kept per stage.
const DefaultOutputWindow = 1200

// TrimTail keeps the most recent max characters of s, with surrounding
// whitespace removed. Applying it twice with the same bound is a no-op.
func TrimTail(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return strings.TrimLeftFunc(string(r[len(r)-max:]), unicode.IsSpace)
}

// decodeOutput turns raw console bytes into text. sfc writes UTF-16LE when
// its output is redirected; everything else is treated as UTF-8.
func decodeOutput(b []byte) string {
	if looksUTF16LE(b) {
		dec := xunicode.UTF16(xunicode.LittleEndian, xunicode.UseBOM).NewDecoder()
		if out, err := dec.Bytes(b); err == nil {
			return normalizeOutput(string(out))
		}
	}
	return normalizeOutput(string(b))
}

// looksUTF16LE detects BOM-less UTF-16LE. Console text in UTF-8 or an ANSI
// code page never contains NUL, while UTF-16LE puts one in the high byte of
// every ASCII code unit. Text entirely in one non-Latin block (Cyrillic is
// 0x04xx) has no NULs but repeats the same low control byte as high byte.
func looksUTF16LE(b []byte) bool {
	if bytes.HasPrefix(b, []byte{0xFF, 0xFE}) {
		return true
	}
	n := len(b) &^ 1
	if n < 4 {
		return false
	}
	same := 0
	for i := 1; i < n; i += 2 {
		if b[i] == 0 {
			return true
		}
		if b[i] == b[1] {
			same++
		}
	}
	return n >= 8 && b[1] < 0x20 && same*2 == n && utf8.Valid(b)
}

// normalizeOutput converts CRLF to LF and collapses carriage-return progress
// redraws ("[==   10.0%  ]\r[=====  20.0% ]") to their final state.
func normalizeOutput(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	if !strings.Contains(s, "\r") {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		l = strings.TrimRight(l, "\r")
		if j := strings.LastIndexByte(l, '\r'); j >= 0 {
			l = l[j+1:]
		}
		lines[i] = l
	}
	return strings.Join(lines, "\n")
}
