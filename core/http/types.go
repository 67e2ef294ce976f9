// Package http is the incremental HTTP/1.1 wire codec used by connections.
// It understands GET, POST and 200 responses on decode and frames GET, POST
// and the eight known responses on encode.
package http

import (
	"errors"
	"fmt"
	"strconv"
)

// Method classifies a message on the wire
type Method int

const (
	MethodResponse Method = iota
	MethodPost
	MethodGet
)

func (m Method) String() string {
	switch m {
	case MethodResponse:
		return "RESPONSE"
	case MethodPost:
		return "POST"
	case MethodGet:
		return "GET"
	}
	return "Method(" + strconv.Itoa(int(m)) + ")"
}

// Code indexes the fixed response table
type Code int

const (
	StatusOK Code = iota
	StatusNoContent
	StatusBadRequest
	StatusForbidden
	StatusNotFound
	StatusNotAcceptable
	StatusRequestTimeout
	StatusTooManyConnections
)

// CodesCount is the number of known response codes
const CodesCount = int(StatusTooManyConnections) + 1

var codeTexts = [CodesCount]string{
	"200 OK",
	"204 No Content",
	"400 Bad Request",
	"403 Forbidden",
	"404 Not Found",
	"406 Not Acceptable",
	"408 Request Timeout",
	"503 Too Many Connections",
}

var codeNumbers = [CodesCount]int{200, 204, 400, 403, 404, 406, 408, 503}

func (c Code) Valid() bool { return c >= 0 && int(c) < CodesCount }

// Text is the status line text, also used as the default body
func (c Code) Text() string {
	if !c.Valid() {
		return ""
	}
	return codeTexts[c]
}

func (c Code) Number() int {
	if !c.Valid() {
		return 0
	}
	return codeNumbers[c]
}

func (c Code) String() string {
	if !c.Valid() {
		return "Code(" + strconv.Itoa(int(c)) + ")"
	}
	return codeTexts[c]
}

// Pair is one header or query parameter
type Pair struct {
	Key   string
	Value string
}

var (
	ErrDeserialization   = errors.New("http: deserialization failed")
	ErrMalformedMethod   = errors.New("http: invalid method")
	ErrMalformedResponse = errors.New("http: response code is not 200")
	ErrMalformedProtocol = errors.New("http: invalid protocol")
	ErrInvalidHeader     = errors.New("http: invalid header")
)

// DeserializationError carries the offending first line. It matches both
// ErrDeserialization and its specific kind.
type DeserializationError struct {
	Kind error
	Line string
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("%v: %q", e.Kind, e.Line)
}

func (e *DeserializationError) Unwrap() []error {
	return []error{e.Kind, ErrDeserialization}
}
