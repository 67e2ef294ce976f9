package http

import (
	"errors"
	"strings"
	"testing"
)

func TestSerialize_GetScenarioResponse(t *testing.T) {
	m := OK("", "world", true)
	m.Serialize()
	defer m.Release()

	expected := "HTTP/1.1 200 OK\r\nConnection: keep-alive\r\nContent-Length: 5\r\n\r\nworld"
	if string(m.Bytes()) != expected {
		t.Errorf("Expected %q, got %q", expected, m.Bytes())
	}
	if m.Len() != len(expected) {
		t.Errorf("Expected length %d, got %d", len(expected), m.Len())
	}
}

func TestSerialize_EmptyOKBecomesNoContent(t *testing.T) {
	m := NewOutgoing()
	m.SetPersistence(true)
	m.Serialize()
	defer m.Release()

	out := string(m.Bytes())
	if !strings.HasPrefix(out, "HTTP/1.1 204 No Content\r\n") {
		t.Errorf("Expected 204 status line, got %q", out)
	}
	if strings.Contains(out, "Content-Length") {
		t.Errorf("Expected no Content-Length header, got %q", out)
	}
	if m.ResponseCode() != StatusNoContent {
		t.Errorf("Expected code to be rewritten, got %s", m.ResponseCode())
	}
}

func TestSerialize_Requests(t *testing.T) {
	get := NewOutgoing()
	get.SetMethod(MethodGet)
	get.SetURI("/search")
	get.SetPersistence(false)
	get.SetDataString("q=go")
	get.Serialize()
	defer get.Release()

	expected := "GET /search?q=go HTTP/1.1\r\nConnection: close\r\n\r\n"
	if string(get.Bytes()) != expected {
		t.Errorf("Expected %q, got %q", expected, get.Bytes())
	}

	bare := NewOutgoing()
	bare.SetMethod(MethodGet)
	bare.SetURI("/x")
	bare.Serialize()
	defer bare.Release()
	if expected := "GET /x? HTTP/1.1\r\n\r\n"; string(bare.Bytes()) != expected {
		t.Errorf("Expected %q, got %q", expected, bare.Bytes())
	}

	post := NewOutgoing()
	post.SetMethod(MethodPost)
	post.SetURI("/submit")
	post.AddHeader("Host", "localhost")
	post.SetDataString("a=1")
	post.Serialize()
	defer post.Release()

	expected = "POST /submit HTTP/1.1\r\nHost: localhost\r\nContent-Length: 3\r\n\r\na=1"
	if string(post.Bytes()) != expected {
		t.Errorf("Expected %q, got %q", expected, post.Bytes())
	}
}

func TestSerialize_SecondCallIsNoop(t *testing.T) {
	m := OK("", "x", false)
	m.Serialize()
	first := string(m.Bytes())
	m.Serialize()
	defer m.Release()

	if string(m.Bytes()) != first {
		t.Errorf("Expected unchanged framing, got %q", m.Bytes())
	}
}

func TestFactories_DefaultBodies(t *testing.T) {
	tests := []struct {
		msg        *OutgoingMessage
		status     string
		persistent bool
	}{
		{OK("", "", true), "200 OK", true},
		{NoContent("", true), "204 No Content", true},
		{BadRequest("", true), "400 Bad Request", true},
		{BadRequest("", false), "400 Bad Request", false},
		{Forbidden(""), "403 Forbidden", false},
		{NotFound("", "", true), "404 Not Found", true},
		{NotAcceptable("", "", false), "406 Not Acceptable", false},
		{RequestTimeout("", false), "408 Request Timeout", false},
		{TooManyConnections(), "503 Too Many Connections", false},
	}

	for _, tt := range tests {
		tt.msg.Serialize()
		out := string(tt.msg.Bytes())
		tt.msg.Release()

		if !strings.HasPrefix(out, "HTTP/1.1 "+tt.status+"\r\n") {
			t.Errorf("Expected status %q, got %q", tt.status, out)
		}
		if !strings.HasSuffix(out, "\r\n\r\n"+tt.status) {
			t.Errorf("Expected default body %q, got %q", tt.status, out)
		}
		if tt.msg.IsPersistent() != tt.persistent {
			t.Errorf("%s: expected persistent=%v", tt.status, tt.persistent)
		}
	}
}

func TestCodeTextLengths(t *testing.T) {
	expected := []int{6, 14, 15, 13, 13, 18, 19, 24}
	for i, n := range expected {
		if got := len(Code(i).Text()); got != n {
			t.Errorf("Code %d: expected text length %d, got %d", i, n, got)
		}
	}
}

func TestFactories_RequestID(t *testing.T) {
	m := BadRequest("req-7", false)
	m.Serialize()
	defer m.Release()

	if !strings.Contains(string(m.Bytes()), "\r\nX-Request-Id: req-7\r\n") {
		t.Errorf("Expected X-Request-Id header, got %q", m.Bytes())
	}

	bad := BadRequest("evil\r\nInjected: 1", false)
	bad.Serialize()
	defer bad.Release()
	if strings.Contains(string(bad.Bytes()), "Injected") {
		t.Errorf("Expected invalid request id to be dropped, got %q", bad.Bytes())
	}
}

func TestAddHeader_Validation(t *testing.T) {
	m := NewOutgoing()
	if err := m.AddHeader("Bad Key", "v"); !errors.Is(err, ErrInvalidHeader) {
		t.Errorf("Expected ErrInvalidHeader for key, got %v", err)
	}
	if err := m.AddHeader("Key", "line\nbreak"); !errors.Is(err, ErrInvalidHeader) {
		t.Errorf("Expected ErrInvalidHeader for value, got %v", err)
	}
	if err := m.AddHeader("X-Ok", "fine"); err != nil {
		t.Errorf("Expected valid header, got %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name       string
		method     Method
		uri        string
		requestID  string
		persistent bool
		data       string
	}{
		{"get", MethodGet, "/items", "id-1", true, ""},
		{"get with query", MethodGet, "/search", "", false, "q=go&page=2"},
		{"post", MethodPost, "/submit", "id-2", true, "name=gopher&lang=go"},
		{"post empty", MethodPost, "/ping", "", false, ""},
		{"response", MethodResponse, "", "id-3", true, "payload"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			out := NewOutgoing()
			out.SetMethod(tt.method)
			out.SetURI(tt.uri)
			out.SetPersistence(tt.persistent)
			if tt.requestID != "" {
				out.AddHeader("X-Request-Id", tt.requestID)
			}
			out.SetDataString(tt.data)
			out.Serialize()
			defer out.Release()

			in, eof, err := Deserialize(out.Bytes())
			if err != nil || in == nil {
				t.Fatalf("Deserialize failed: %v", err)
			}
			if eof != out.Len() {
				t.Errorf("Expected eof %d, got %d", out.Len(), eof)
			}
			if in.Method() != tt.method {
				t.Errorf("Expected %s, got %s", tt.method, in.Method())
			}
			if in.Path() != tt.uri {
				t.Errorf("Expected path %q, got %q", tt.uri, in.Path())
			}
			if in.IsPersistent() != tt.persistent {
				t.Errorf("Expected persistent=%v", tt.persistent)
			}
			id, ok := in.RequestID()
			if ok != (tt.requestID != "") || id != tt.requestID {
				t.Errorf("Expected request id %q, got %q", tt.requestID, id)
			}
			if tt.method != MethodGet && string(in.Body()) != tt.data {
				t.Errorf("Expected body %q, got %q", tt.data, in.Body())
			}
			if tt.method == MethodGet && tt.data != "" && len(in.Queries()) != 2 {
				t.Errorf("Expected 2 query parameters, got %v", in.Queries())
			}
		})
	}
}

func BenchmarkSerialize(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		m := OK("", "Hello world!", true)
		m.Serialize()
		m.Release()
	}
}
