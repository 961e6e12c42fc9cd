// Package a2s parses optional address-to-source annotation files: a text
// format of stanzas, each a bracketed hex address header followed by the
// guest source lines it corresponds to. The result is meant to be attached
// to the translator's per-instruction debug annotations, never consulted
// during translation itself.
package a2s

import (
	"bufio"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/lmcad-unicamp/sbt/pkg/sbt/object"
	"github.com/lmcad-unicamp/sbt/pkg/sbt/sbterr"
)

var headerPattern = regexp.MustCompile(`^\[([0-9A-Fa-f]+)\]:$`)

// Parse reads the A2S file at path and returns its stanzas keyed by guest
// address. An empty path means no A2S file was given and returns a nil map
// with no error.
func Parse(path string) (map[object.GuestAddress][]string, error) {
	if path == "" {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, sbterr.FileError(path, err)
	}
	defer f.Close()

	return ParseReader(f)
}

// ParseReader parses the A2S stanza format from r. A line shaped like a
// bracketed address header ("[...]:") whose bracketed content is not a
// valid hexadecimal address fails with sbterr.InvalidA2S; every other line
// is appended verbatim to the current stanza's source lines.
func ParseReader(r io.Reader) (map[object.GuestAddress][]string, error) {
	out := make(map[object.GuestAddress][]string)

	var (
		addr    object.GuestAddress
		haveHdr bool
		lines   []string
	)
	flush := func() {
		if haveHdr && len(lines) > 0 {
			out[addr] = append([]string(nil), lines...)
		}
		lines = lines[:0]
	}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		trimmed := strings.TrimSpace(line)
		if m := headerPattern.FindStringSubmatch(trimmed); m != nil {
			flush()
			v, err := strconv.ParseUint(m[1], 16, 32)
			if err != nil {
				return nil, sbterr.InvalidA2S(lineNo, line)
			}
			addr = object.GuestAddress(v)
			haveHdr = true
			continue
		}
		if looksLikeHeader(trimmed) {
			return nil, sbterr.InvalidA2S(lineNo, line)
		}

		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, sbterr.FileError("a2s", err)
	}
	flush()

	return out, nil
}

// looksLikeHeader reports whether line has the bracket-colon shape of an
// address header, regardless of whether its content is valid hex. It
// exists so a malformed header ("[zzzz]:") is reported as InvalidA2S
// instead of silently being swallowed as a source line.
func looksLikeHeader(line string) bool {
	if !strings.HasPrefix(line, "[") {
		return false
	}
	cb := strings.Index(line, "]")
	if cb < 0 {
		return false
	}
	return strings.HasPrefix(line[cb:], "]:")
}
