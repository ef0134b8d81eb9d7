// Package protocol implements the line-oriented wire format spoken to the
// printer firmware: ascending line numbers with an XOR checksum on framed
// commands, and classification of the device's response lines.
package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Checksum returns the XOR of all bytes in s. The firmware computes the
// same XOR over everything before the '*' to validate a framed line.
func Checksum(s string) byte {
	var cs byte
	for i := 0; i < len(s); i++ {
		cs ^= s[i]
	}
	return cs
}

// Frame wraps a command with a line number and checksum:
// "N<seq> <cmd>*<checksum>". The trailing newline is added at write time.
func Frame(seq int, cmd string) string {
	body := fmt.Sprintf("N%d %s", seq, cmd)
	return fmt.Sprintf("%s*%d", body, Checksum(body))
}

// ParseFrame splits a framed line back into its sequence number and command
// text, verifying the checksum. It is the inverse of Frame.
func ParseFrame(line string) (seq int, cmd string, err error) {
	star := strings.LastIndexByte(line, '*')
	if star < 0 {
		return 0, "", fmt.Errorf("protocol: no checksum in %q", line)
	}
	body := line[:star]
	wantCS, err := strconv.Atoi(strings.TrimSpace(line[star+1:]))
	if err != nil {
		return 0, "", fmt.Errorf("protocol: bad checksum token in %q", line)
	}
	if got := Checksum(body); int(got) != wantCS {
		return 0, "", fmt.Errorf("protocol: checksum mismatch in %q: got %d want %d", line, got, wantCS)
	}
	if len(body) < 2 || body[0] != 'N' {
		return 0, "", fmt.Errorf("protocol: missing line number in %q", line)
	}
	sp := strings.IndexByte(body, ' ')
	if sp < 0 {
		return 0, "", fmt.Errorf("protocol: missing command in %q", line)
	}
	seq, err = strconv.Atoi(body[1:sp])
	if err != nil {
		return 0, "", fmt.Errorf("protocol: bad line number in %q", line)
	}
	return seq, body[sp+1:], nil
}

// LineReset returns the handshake command that resets the device's expected
// line number to zero. It is itself framed as line 0 so devices that
// already track line numbers accept it.
func LineReset() string {
	return Frame(0, "M110")
}
