package protocol

import (
	"strconv"
	"strings"
)

// ResponseKind tags a classified device response line.
type ResponseKind int

const (
	// RespLine is any line that matched no known prefix.
	RespLine ResponseKind = iota

	// RespAck is a positive acknowledgment ("ok", optionally "ok N<seq>").
	RespAck

	// RespReady is the device-ready indicator ("start", or any line
	// containing "ready").
	RespReady

	// RespResend is a rewind request ("resend <n>" or "rs <n>" or
	// "resend: <n>").
	RespResend

	// RespError is a fatal device report ("error" or "!!").
	RespError

	// RespBusy is informational chatter ("echo:busy..."). It must not
	// count as an acknowledgment or reset any timeout.
	RespBusy
)

// Response is one classified line from the device.
type Response struct {
	Kind ResponseKind

	// Seq is the line number carried by an ack or resend request.
	// -1 when the line carried none.
	Seq int

	// Text is the raw line as received, for the event log.
	Text string
}

// ParseResponse classifies a single response line. Prefix matching is
// case-insensitive; firmwares disagree on capitalization.
func ParseResponse(line string) Response {
	r := Response{Kind: RespLine, Seq: -1, Text: line}
	trimmed := strings.TrimSpace(line)
	lower := strings.ToLower(trimmed)

	switch {
	case strings.HasPrefix(lower, "ok"):
		r.Kind = RespAck
		// "ok N7" or "ok 7" both occur in the wild.
		rest := strings.TrimSpace(trimmed[2:])
		rest = strings.TrimPrefix(rest, "N")
		rest = strings.TrimPrefix(rest, "n")
		if f := strings.Fields(rest); len(f) > 0 {
			if n, err := strconv.Atoi(f[0]); err == nil {
				r.Seq = n
			}
		}
	case strings.HasPrefix(lower, "echo:busy"):
		r.Kind = RespBusy
	case strings.HasPrefix(lower, "resend") || strings.HasPrefix(lower, "rs"):
		r.Kind = RespResend
		rest := trimmed[2:]
		if strings.HasPrefix(lower, "resend") {
			rest = trimmed[6:]
		}
		rest = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rest), ":"))
		rest = strings.TrimSpace(rest)
		if f := strings.Fields(rest); len(f) > 0 {
			if n, err := strconv.Atoi(strings.TrimPrefix(f[0], "N")); err == nil {
				r.Seq = n
			}
		}
	case strings.HasPrefix(lower, "start") || strings.Contains(lower, "ready"):
		r.Kind = RespReady
	case strings.HasPrefix(lower, "error") &&
		(strings.Contains(lower, "line number") || strings.Contains(lower, "checksum")):
		// These accompany a resend request; the rewind recovers them,
		// so they are chatter rather than faults.
	case strings.HasPrefix(lower, "error") || strings.HasPrefix(lower, "!!"):
		r.Kind = RespError
	}
	return r
}
