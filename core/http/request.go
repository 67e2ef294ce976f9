package http

import (
	"strings"
	"time"
)

// IncomingMessage is one decoded request or response
type IncomingMessage struct {
	method        Method
	uri           string
	headers       []Pair
	queries       []Pair
	contentLength int
	persistent    bool
	requestID     int
	body          []byte
	received      time.Time
}

func (m *IncomingMessage) Method() Method { return m.method }

// URI is the raw request target including any query string
func (m *IncomingMessage) URI() string { return m.uri }

// Path is the URI without its query string
func (m *IncomingMessage) Path() string {
	if i := strings.IndexByte(m.uri, '?'); i >= 0 {
		return m.uri[:i]
	}
	return m.uri
}

// Headers returns the headers in wire order. Headers with empty values are
// not recorded.
func (m *IncomingMessage) Headers() []Pair { return m.headers }

// Header finds the first header whose key matches case-insensitively
func (m *IncomingMessage) Header(key string) (string, bool) {
	for _, h := range m.headers {
		if strings.EqualFold(h.Key, key) {
			return h.Value, true
		}
	}
	return "", false
}

// Queries returns the query or body parameters in wire order
func (m *IncomingMessage) Queries() []Pair { return m.queries }

func (m *IncomingMessage) Query(key string) (string, bool) {
	for _, q := range m.queries {
		if q.Key == key {
			return q.Value, true
		}
	}
	return "", false
}

func (m *IncomingMessage) ContentLength() int { return m.contentLength }

func (m *IncomingMessage) IsPersistent() bool { return m.persistent }

// RequestID returns the X-Request-Id value if one was sent
func (m *IncomingMessage) RequestID() (string, bool) {
	if m == nil || m.requestID < 0 {
		return "", false
	}
	return m.headers[m.requestID].Value, true
}

// Body is a copy of the content bytes
func (m *IncomingMessage) Body() []byte { return m.body }

// Received is when decoding completed, the start of the latency timer
func (m *IncomingMessage) Received() time.Time { return m.received }
