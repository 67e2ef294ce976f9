package http

import (
	"bytes"
	"math"
	"strings"
	"time"
)

var (
	crlf      = []byte("\r\n")
	headerEnd = []byte("\r\n\r\n")
)

// Deserialize decodes one message from the front of data. It returns a nil
// message and nil error while the frame is incomplete; on success eof is the
// number of bytes the frame occupies. data is never modified. On a decode
// error the partially decoded message is returned with the error.
func Deserialize(data []byte) (*IncomingMessage, int, error) {
	lineEnd := bytes.Index(data, crlf)
	if lineEnd < 0 {
		return nil, 0, nil
	}

	m := &IncomingMessage{requestID: -1}
	if err := m.parseMethodLine(data[:lineEnd]); err != nil {
		return m, 0, err
	}
	eof := lineEnd + 2

	// A blank line ends the header block, including one right after the
	// method line.
	for {
		next := bytes.Index(data[eof:], crlf)
		if next < 0 {
			return nil, 0, nil
		}
		line := data[eof : eof+next]
		eof += next + 2
		if len(line) == 0 {
			break
		}
		m.parseHeaderLine(line)
	}

	switch m.method {
	case MethodGet:
		if i := strings.IndexByte(m.uri, '?'); i >= 0 {
			m.queries = parseParams(m.uri[i:])
		}
		if m.contentLength > 0 {
			if len(data)-eof < m.contentLength {
				return nil, 0, nil
			}
			m.body = append([]byte(nil), data[eof:eof+m.contentLength]...)
			eof += m.contentLength
		}
	default:
		if len(data)-eof < m.contentLength {
			return nil, 0, nil
		}
		m.body = append([]byte(nil), data[eof:eof+m.contentLength]...)
		m.queries = parseParams(string(m.body))
		eof += m.contentLength
	}

	m.received = time.Now()
	return m, eof, nil
}

func (m *IncomingMessage) parseMethodLine(line []byte) error {
	var rest []byte
	switch {
	case bytes.HasPrefix(line, []byte("POST ")):
		m.method, rest = MethodPost, line[5:]
	case bytes.HasPrefix(line, []byte("GET ")):
		m.method, rest = MethodGet, line[4:]
	case bytes.HasPrefix(line, []byte("HTTP/1.1 ")), bytes.HasPrefix(line, []byte("HTTP/1.0 ")):
		m.method, rest = MethodResponse, line[9:]
	default:
		return &DeserializationError{Kind: ErrMalformedMethod, Line: string(line)}
	}

	if m.method == MethodResponse {
		if !bytes.HasPrefix(rest, []byte("200")) {
			return &DeserializationError{Kind: ErrMalformedResponse, Line: string(line)}
		}
		return nil
	}

	end := bytes.Index(rest, []byte(" HTTP/1."))
	if end < 0 {
		return &DeserializationError{Kind: ErrMalformedProtocol, Line: string(line)}
	}
	m.uri = string(rest[:end])
	return nil
}

// parseHeaderLine records "key: value". Lines without a separator or with an
// empty key or value are skipped.
func (m *IncomingMessage) parseHeaderLine(line []byte) {
	sep := bytes.Index(line, []byte(": "))
	if sep <= 0 || sep+2 == len(line) {
		return
	}
	key := string(line[:sep])
	value := string(line[sep+2:])
	m.headers = append(m.headers, Pair{Key: key, Value: value})

	switch {
	case strings.EqualFold(key, "content-length"):
		m.contentLength = parseLength(value)
	case strings.EqualFold(key, "connection"):
		m.persistent = strings.EqualFold(value, "keep-alive")
	case strings.EqualFold(key, "x-request-id"):
		m.requestID = len(m.headers) - 1
	}
}

// parseLength reads leading decimal digits and ignores the rest
func parseLength(s string) int {
	n := 0
	for i := 0; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		n = n*10 + int(s[i]-'0')
		if n > math.MaxInt32 {
			return math.MaxInt32
		}
	}
	return n
}

// parseParams splits "k=v&k2=v2". Leading '?' and '&' are skipped, runs of
// '=' separate key from value, and pairs missing either side are dropped.
func parseParams(s string) []Pair {
	var out []Pair
	i := 0
	for i < len(s) {
		for i < len(s) && (s[i] == '?' || s[i] == '&') {
			i++
		}
		start := i
		for i < len(s) && s[i] != '=' {
			i++
		}
		key := s[start:i]
		for i < len(s) && s[i] == '=' {
			i++
		}
		if key == "" {
			continue
		}
		start = i
		for i < len(s) && s[i] != '&' {
			i++
		}
		if value := s[start:i]; value != "" {
			out = append(out, Pair{Key: key, Value: value})
		}
	}
	return out
}

// FrameLength reports how many bytes of data belong to the header block at
// its front, including the blank line that ends it.
func FrameLength(data []byte) (int, bool) {
	i := bytes.Index(data, headerEnd)
	if i < 0 {
		return 0, false
	}
	return i + len(headerEnd), true
}

// ScanRequestID looks for an X-Request-Id header line anywhere in data. It
// is used to tag error responses for frames that failed to decode.
func ScanRequestID(data []byte) (string, bool) {
	for len(data) > 0 {
		line := data
		if i := bytes.Index(data, crlf); i >= 0 {
			line, data = data[:i], data[i+2:]
		} else {
			data = nil
		}
		sep := bytes.Index(line, []byte(": "))
		if sep <= 0 || sep+2 == len(line) {
			continue
		}
		if strings.EqualFold(string(line[:sep]), "x-request-id") {
			return string(line[sep+2:]), true
		}
	}
	return "", false
}
