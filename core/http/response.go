package http

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/valyala/bytebufferpool"
	"golang.org/x/net/http/httpguts"
)

// headerReservation tracks the largest header block seen so new messages
// start with enough room.
var headerReservation atomic.Int64

func init() {
	headerReservation.Store(64)
}

func reserveHeader(n int) {
	for {
		cur := headerReservation.Load()
		if int64(n) <= cur || headerReservation.CompareAndSwap(cur, int64(n)) {
			return
		}
	}
}

// OutgoingMessage is a request or response under construction. Once
// Serialize has run the framed bytes are held in a pooled buffer until
// Release.
type OutgoingMessage struct {
	method     Method
	code       Code
	uri        string
	header     []byte
	data       []byte
	persistent bool
	started    time.Time
	message    *bytebufferpool.ByteBuffer
}

// NewOutgoing creates an empty 200 response
func NewOutgoing() *OutgoingMessage {
	return &OutgoingMessage{
		method: MethodResponse,
		code:   StatusOK,
		header: make([]byte, 0, headerReservation.Load()),
	}
}

func (m *OutgoingMessage) SetMethod(method Method) { m.method = method }

func (m *OutgoingMessage) Method() Method { return m.method }

func (m *OutgoingMessage) SetURI(uri string) { m.uri = uri }

func (m *OutgoingMessage) SetResponseCode(code Code) { m.code = code }

func (m *OutgoingMessage) ResponseCode() Code { return m.code }

// SetPersistence appends the Connection header immediately, so call it
// before other headers when their order matters.
func (m *OutgoingMessage) SetPersistence(persistent bool) {
	m.persistent = persistent
	if persistent {
		m.header = append(m.header, "Connection: keep-alive\r\n"...)
	} else {
		m.header = append(m.header, "Connection: close\r\n"...)
	}
}

func (m *OutgoingMessage) IsPersistent() bool { return m.persistent }

// AddHeader appends "key: value". Keys must be tokens and values must not
// contain control characters.
func (m *OutgoingMessage) AddHeader(key, value string) error {
	if !httpguts.ValidHeaderFieldName(key) || !httpguts.ValidHeaderFieldValue(value) {
		return &headerError{key: key}
	}
	m.header = append(m.header, key...)
	m.header = append(m.header, ": "...)
	m.header = append(m.header, value...)
	m.header = append(m.header, "\r\n"...)
	return nil
}

type headerError struct{ key string }

func (e *headerError) Error() string { return ErrInvalidHeader.Error() + ": " + strconv.Quote(e.key) }

func (e *headerError) Unwrap() error { return ErrInvalidHeader }

// SetData takes ownership of p as the payload
func (m *OutgoingMessage) SetData(p []byte) { m.data = p }

func (m *OutgoingMessage) SetDataString(s string) { m.data = []byte(s) }

func (m *OutgoingMessage) Data() []byte { return m.data }

// SetTimer starts the latency timer, normally at the request's receive time
func (m *OutgoingMessage) SetTimer(t time.Time) { m.started = t }

// Timer returns the latency start and whether one was set
func (m *OutgoingMessage) Timer() (time.Time, bool) {
	return m.started, !m.started.IsZero()
}

// Serialize frames the message. GET carries its data as the query, always
// separated from the URI by '?'. A 200 response without payload is sent as
// 204 without Content-Length. Calling it again is a no-op.
func (m *OutgoingMessage) Serialize() {
	if m.message != nil {
		return
	}
	b := bytebufferpool.Get()

	switch m.method {
	case MethodGet:
		b.WriteString("GET ")
		b.WriteString(m.uri)
		b.WriteByte('?')
		b.Write(m.data)
		b.WriteString(" HTTP/1.1\r\n")
		b.Write(m.header)
		b.WriteString("\r\n")
	case MethodPost:
		m.appendContentLength()
		b.WriteString("POST ")
		b.WriteString(m.uri)
		b.WriteString(" HTTP/1.1\r\n")
		b.Write(m.header)
		b.WriteString("\r\n")
		b.Write(m.data)
	default:
		if m.code == StatusOK && len(m.data) == 0 {
			m.code = StatusNoContent
		} else {
			m.appendContentLength()
		}
		b.WriteString("HTTP/1.1 ")
		b.WriteString(m.code.Text())
		b.WriteString("\r\n")
		b.Write(m.header)
		b.WriteString("\r\n")
		b.Write(m.data)
	}

	reserveHeader(len(m.header))
	m.message = b
}

func (m *OutgoingMessage) appendContentLength() {
	m.header = append(m.header, "Content-Length: "...)
	m.header = strconv.AppendInt(m.header, int64(len(m.data)), 10)
	m.header = append(m.header, "\r\n"...)
}

// Bytes returns the framed message, nil before Serialize or after Release
func (m *OutgoingMessage) Bytes() []byte {
	if m.message == nil {
		return nil
	}
	return m.message.B
}

// Len is the framed length
func (m *OutgoingMessage) Len() int {
	if m.message == nil {
		return 0
	}
	return m.message.Len()
}

// Release returns the framed bytes to the pool
func (m *OutgoingMessage) Release() {
	if m.message != nil {
		bytebufferpool.Put(m.message)
		m.message = nil
	}
}
