package httpparse

import "bytes"

// Parse consumes a borrowed byte slice — exactly the bytes a worker
// received on one connection — and produces a RequestView. raw is never
// copied and never mutated; every RequestView field that refers to raw
// request data is a sub-slice of raw itself (rather than writing sentinel
// bytes into raw and restoring them, stage boundaries are tracked as plain
// offsets and sliced out on demand).
//
// Ported stage-by-stage from original_source/http.c's launch_parser /
// parse_request_line / parse_headers / parse_body / decode_chunked_body.
func Parse(raw []byte) (*RequestView, error) {
	if len(raw) == 0 {
		err := newErr(EmptyRequest, "zero-length receive buffer")
		return &RequestView{Raw: raw, Result: err}, err
	}

	v := &RequestView{Raw: raw}

	if err := parseRequestLine(v); err != nil {
		wrapped := stageErr(RequestLineParseFailed, err)
		v.Result = wrapped
		return v, wrapped
	}
	if err := parseHeaders(v); err != nil {
		wrapped := stageErr(HeadersParseFailed, err)
		v.Result = wrapped
		return v, wrapped
	}
	if err := parseBody(v); err != nil {
		wrapped := stageErr(BodyParseFailed, err)
		v.Result = wrapped
		return v, wrapped
	}

	return v, nil
}

// stageErr keeps the stage's own specific Kind for the request-line token
// kinds (InvalidMethod, InvalidPath, InvalidProtocol) and for
// UnsupportedTransferEncoding and AllocationFailure, and substitutes the
// generic stage-level wrapper kind for everything else (InvalidFormat
// included), keeping the original error text in Detail. This matches spec.md §4.4's status table, which
// lists both specific kinds (their own status) and the three stage
// wrappers (400, same as "other").
func stageErr(stage Kind, err error) *ParseError {
	perr, ok := err.(*ParseError)
	if !ok {
		return &ParseError{Kind: stage, Detail: err.Error()}
	}
	switch perr.Kind {
	case InvalidMethod, InvalidPath, InvalidProtocol, UnsupportedTransferEncoding, AllocationFailure:
		return perr
	default:
		return &ParseError{Kind: stage, Detail: err.Error()}
	}
}

// parseRequestLine implements Stage R (spec.md §4.3).
func parseRequestLine(v *RequestView) error {
	raw := v.Raw
	v.RequestStart = 0

	lineEnd := bytes.Index(raw, []byte("\r\n"))
	if lineEnd < 0 {
		return newErr(InvalidFormat, "no CRLF found terminating the request line")
	}
	v.HeadersStart = lineEnd + 2

	line := raw[:lineEnd]
	tokens := bytes.Split(line, []byte(" "))

	// A strict single-space split keeps empty tokens: a leading space gives
	// an empty method, a doubled space an empty path or version, and a
	// trailing space a fourth, empty token. Each case is classified below.
	if len(tokens) < 1 || len(tokens[0]) == 0 {
		return newErr(InvalidMethod, "missing method token")
	}
	v.Method = tokens[0]

	if len(tokens) < 2 || len(tokens[1]) == 0 {
		return newErr(InvalidPath, "missing path token")
	}
	v.Path = tokens[1]

	if len(tokens) < 3 || len(tokens[2]) == 0 {
		return newErr(InvalidProtocol, "missing version token")
	}
	v.Version = tokens[2]

	if len(tokens) > 3 {
		return newErr(InvalidFormat, "more than three request-line tokens")
	}

	return nil
}

// parseHeaders implements Stage H (spec.md §4.3).
func parseHeaders(v *RequestView) error {
	raw := v.Raw
	if v.HeadersStart > len(raw) {
		return newErr(InvalidFormat, "headers start past end of buffer")
	}

	// The search starts at the request line's own CRLF so that a request
	// with no header lines ("GET / HTTP/1.1\r\n\r\n") finds its marker.
	searchFrom := v.HeadersStart - 2
	marker := bytes.Index(raw[searchFrom:], []byte("\r\n\r\n"))
	if marker < 0 {
		return newErr(InvalidFormat, "no end-of-headers CRLFCRLF marker found")
	}
	markerAt := searchFrom + marker
	v.BodyStart = markerAt + 4

	var headerBlock []byte
	if markerAt > v.HeadersStart {
		headerBlock = raw[v.HeadersStart:markerAt]
	}
	headers := make([]Header, 0, initialHeaderCap)
	headerBytes := 0

	pos := 0
	for pos < len(headerBlock) {
		lineEnd := bytes.Index(headerBlock[pos:], []byte("\r\n"))
		var line []byte
		if lineEnd < 0 {
			line = headerBlock[pos:]
			pos = len(headerBlock)
		} else {
			line = headerBlock[pos : pos+lineEnd]
			pos += lineEnd + 2
		}

		colon := bytes.IndexByte(line, ':')
		if colon < 0 {
			// Lenient: stop parsing headers here, keep what we have.
			break
		}

		key := line[:colon]
		value := line[colon+1:]
		for len(value) > 0 && value[0] == ' ' {
			value = value[1:]
		}

		headerBytes += len(line)
		if len(headers) >= maxHeaderCount || headerBytes > maxHeaderBytes {
			return newErr(InvalidFormat, "too many headers or header block too large")
		}

		headers = append(headers, Header{Key: key, Value: value})

		if lineEnd < 0 {
			break
		}
	}

	v.Headers = headers
	return nil
}

// parseBody implements Stage B (spec.md §4.3): the Content-Length /
// Transfer-Encoding precedence rule from original_source/http.c's
// parse_body, plus the UnsupportedTransferEncoding check spec.md §7 adds
// to the taxonomy (original_source silently falls through to
// Content-Length/no-body for any other Transfer-Encoding value; this
// implementation surfaces it as its own error, matching the status table).
func parseBody(v *RequestView) error {
	if v.BodyStart > len(v.Raw) {
		return newErr(InvalidFormat, "body start past end of buffer")
	}

	contentLength, hasContentLength := v.HeaderValue("Content-Length")
	transferEncoding, hasTransferEncoding := v.HeaderValue("Transfer-Encoding")

	if hasTransferEncoding {
		if transferEncoding != "chunked" {
			return newErr(UnsupportedTransferEncoding, "Transfer-Encoding value other than chunked: "+transferEncoding)
		}
		v.IsChunked = true
		return decodeChunked(v)
	}

	if hasContentLength {
		n := atoiNonNegative(contentLength)
		available := len(v.Raw) - v.BodyStart
		if n > available {
			// original_source/http.c performs no such clamp and will read
			// past the declared length if the buffer is short; Go slicing
			// would panic, so this is the minimum guard needed to uphold
			// the request_end <= raw.end invariant from spec.md §3.
			n = available
		}
		v.Body = Body{Kind: BodyBorrowed, Borrowed: v.Raw[v.BodyStart : v.BodyStart+n]}
		v.RequestEnd = v.BodyStart + n
		return nil
	}

	v.Body = Body{Kind: BodyEmpty}
	v.RequestEnd = v.BodyStart
	return nil
}

// atoiNonNegative parses a decimal integer the way C's atoi does: no
// validation, stops at the first non-digit, treats a malformed value as 0.
// spec.md §4.3 Stage B: "No further validation of the length value is
// required."
func atoiNonNegative(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	return n
}
