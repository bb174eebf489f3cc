package httpparse

// decodeChunked implements Stage C (spec.md §4.3), ported from
// original_source/http.c's decode_chunked_body. It decodes into a freshly
// allocated owned buffer, growing by doubling, and enforces the 10 MiB
// cumulative cap.
func decodeChunked(v *RequestView) error {
	data := v.Raw[v.BodyStart:]
	pos := 0

	buf := make([]byte, 0, initialChunkCap)

	for {
		size, newPos, err := parseChunkSize(data, pos)
		if err != nil {
			return err
		}
		pos = newPos

		if size == 0 {
			break
		}

		if len(buf)+size > maxChunkedBody {
			return newErr(InvalidFormat, "cumulative chunked body exceeds 10 MiB cap")
		}
		if pos+size+2 > len(data) {
			return newErr(InvalidFormat, "chunk data runs past end of buffer")
		}

		buf = append(buf, data[pos:pos+size]...)
		pos += size

		if !hasCRLFAt(data, pos) {
			return newErr(InvalidFormat, "missing CRLF after chunk data")
		}
		pos += 2
	}

	// Trailer handling: pos is just past the zero-size chunk's CRLF.
	if pos+1 >= len(data) {
		return newErr(InvalidFormat, "truncated after final chunk")
	}

	var trailers []Header
	if hasCRLFAt(data, pos) {
		pos += 2
	} else {
		var err *ParseError
		trailers, pos, err = parseTrailers(data, pos)
		if err != nil {
			return err
		}
	}

	v.TrailerHeaders = trailers
	v.RequestEnd = v.BodyStart + pos
	v.Body = Body{Kind: BodyOwned, Owned: buf}
	v.BodyIsOwned = true
	return nil
}

// parseChunkSize reads a hex chunk-size line starting at pos and returns
// the size plus the offset just past its terminating CRLF.
func parseChunkSize(data []byte, pos int) (size int, next int, err *ParseError) {
	digits := 0
	for pos < len(data) && data[pos] != '\r' {
		digits++
		if digits > maxChunkHexDigits {
			return 0, 0, newErr(InvalidFormat, "chunk size has more than 16 hex digits")
		}
		v, ok := hexVal(data[pos])
		if !ok {
			return 0, 0, newErr(InvalidFormat, "non-hex byte in chunk size")
		}
		size = size*16 + v
		pos++
	}
	if pos >= len(data) {
		// Ran out of buffer looking for the CR; a zero-digit field that
		// immediately hits '\r' is treated as a zero chunk below, matching
		// original_source/http.c's decode_chunked_body leniency.
		return 0, 0, newErr(InvalidFormat, "truncated chunk size")
	}
	if !hasCRLFAt(data, pos) {
		return 0, 0, newErr(InvalidFormat, "missing CRLF after chunk size")
	}
	return size, pos + 2, nil
}

// parseTrailers consumes trailer lines (each CRLF-terminated) until an
// empty CRLF-only line, returning the parsed trailers and the offset just
// past the terminating empty line. Parse-and-store per DESIGN.md's
// resolution of spec.md §9's trailer_headers Open Question.
func parseTrailers(data []byte, pos int) ([]Header, int, *ParseError) {
	var trailers []Header
	for {
		if pos+1 >= len(data) {
			return nil, 0, newErr(InvalidFormat, "truncated trailer section")
		}
		if hasCRLFAt(data, pos) {
			return trailers, pos + 2, nil
		}

		lineStart := pos
		for pos+1 < len(data) && !hasCRLFAt(data, pos) {
			pos++
		}
		if pos+1 >= len(data) {
			return nil, 0, newErr(InvalidFormat, "truncated trailer line")
		}
		line := data[lineStart:pos]
		pos += 2

		if colon := indexByte(line, ':'); colon >= 0 {
			key := line[:colon]
			value := line[colon+1:]
			for len(value) > 0 && value[0] == ' ' {
				value = value[1:]
			}
			trailers = append(trailers, Header{Key: key, Value: value})
		}
	}
}

func hasCRLFAt(data []byte, pos int) bool {
	return pos+1 < len(data) && data[pos] == '\r' && data[pos+1] == '\n'
}

func hexVal(c byte) (int, bool) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), true
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10, true
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10, true
	default:
		return 0, false
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
