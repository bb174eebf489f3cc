// Package response formats the minimal HTTP/1.x responses this origin
// server emits — a parse-error reply and a plain application reply — and
// performs the partial-write-safe send loop both share. Grounded on
// spec.md §4.4 (the source's response.c/response.h were incomplete and, in
// one spot, outright buggy, so the behavior here follows the specification
// directly rather than porting that file literally).
package response

import (
	"fmt"
	"io"

	"preforkd/internal/httpparse"
)

// Response is a fully-formatted reply ready to send: status line, the
// fixed Connection/Content-Length headers, and an optional body.
type Response struct {
	Status      int
	Reason      string
	HTTP10      bool
	Body        []byte
	ContentType string // omitted from the header block when empty
	// Length overrides len(Body) for the Content-Length header when the
	// body is streamed separately (e.g. internal/fileserver's sendfile
	// path, where Body is never materialized in memory). Zero means
	// "use len(Body)".
	Length int
}

// contentLength resolves the header value to use: Length when set,
// otherwise len(Body).
func (r Response) contentLength() int {
	if r.Length > 0 {
		return r.Length
	}
	return len(r.Body)
}

var reasonPhrases = map[int]string{
	200: "OK",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	500: "Internal Server Error",
	501: "Not Implemented",
	505: "HTTP Version Not Supported",
}

// ReasonPhrase returns the canonical reason phrase for status, or
// "Unknown" if this server never emits that code.
func ReasonPhrase(status int) string {
	if r, ok := reasonPhrases[status]; ok {
		return r
	}
	return "Unknown"
}

// New builds a Response with the correct reason phrase pre-filled.
func New(status int, httpLegacy bool, body []byte) Response {
	return Response{Status: status, Reason: ReasonPhrase(status), HTTP10: httpLegacy, Body: body}
}

// statusForParseError is the fixed table from spec.md §4.4.
func statusForParseError(kind httpparse.Kind) int {
	switch kind {
	case httpparse.InvalidMethod:
		return 405
	case httpparse.InvalidProtocol:
		return 505
	case httpparse.UnsupportedTransferEncoding:
		return 501
	case httpparse.AllocationFailure:
		return 500
	default:
		// EmptyRequest, RequestLineParseFailed, HeadersParseFailed,
		// BodyParseFailed, InvalidFormat, OutOfBounds, NullArg, InvalidPath,
		// and anything else fall to the "other" bucket in spec.md's table.
		return 400
	}
}

// ForParseError builds the error response for a failed parse. view may be
// nil; in that case, as when the view has no parsed version (e.g. an empty
// receive buffer never reached Stage R), the status line echoes HTTP/1.1.
func ForParseError(perr *httpparse.ParseError, view *httpparse.RequestView) Response {
	status := statusForParseError(perr.Kind)
	http10 := view != nil && view.IsHTTP10()
	return New(status, http10, nil)
}

// HeaderBlock formats just the status line and header block (no body),
// for callers that stream the body themselves — e.g. internal/fileserver's
// zero-copy sendfile path, which needs the headers written before handing
// the body off to syscall.Sendfile.
func (r Response) HeaderBlock() string {
	version := "HTTP/1.1"
	if r.HTTP10 {
		version = "HTTP/1.0"
	}

	if r.ContentType != "" {
		return fmt.Sprintf(
			"%s %d %s\r\nConnection: close\r\nContent-Type: %s\r\nContent-Length: %d\r\n\r\n",
			version, r.Status, r.Reason, r.ContentType, r.contentLength(),
		)
	}
	return fmt.Sprintf(
		"%s %d %s\r\nConnection: close\r\nContent-Length: %d\r\n\r\n",
		version, r.Status, r.Reason, r.contentLength(),
	)
}

// WriteTo formats r onto w, writing the header block and then the body,
// tolerating partial writes by looping (via WriteAll) until every byte is
// accounted for. A non-positive return from Write is treated
// as "the peer is gone" and abandoned silently, matching spec.md §4.4.
func (r Response) WriteTo(w io.Writer) error {
	if err := WriteAll(w, []byte(r.HeaderBlock())); err != nil {
		return nil // connection gone; abandon silently per spec.md §4.4
	}
	if len(r.Body) == 0 {
		return nil
	}
	if err := WriteAll(w, r.Body); err != nil {
		return nil
	}
	return nil
}

// WriteAll loops until every byte of b is written, the way
// transparentProxy/main.go's transferData and SocketHandoff's drain logic
// do in the teacher repo, but generalized to the write side: a send may
// return fewer bytes than requested without being an error.
func WriteAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if n <= 0 {
			if err != nil {
				return err
			}
			return fmt.Errorf("response: non-positive write with no error")
		}
		b = b[n:]
	}
	return nil
}
