package http

func response(code Code, requestID string, persistent bool) *OutgoingMessage {
	m := NewOutgoing()
	m.SetMethod(MethodResponse)
	m.SetResponseCode(code)
	m.SetPersistence(persistent)
	if requestID != "" {
		// Ids come from request headers and may hold bytes we cannot echo.
		_ = m.AddHeader("X-Request-Id", requestID)
	}
	return m
}

func withContent(m *OutgoingMessage, content string) *OutgoingMessage {
	if content == "" {
		content = m.code.Text()
	}
	m.SetDataString(content)
	return m
}

// OK responds 200 with content, or with the status text when content is empty
func OK(requestID, content string, persistent bool) *OutgoingMessage {
	return withContent(response(StatusOK, requestID, persistent), content)
}

func NoContent(requestID string, persistent bool) *OutgoingMessage {
	return withContent(response(StatusNoContent, requestID, persistent), "")
}

func BadRequest(requestID string, persistent bool) *OutgoingMessage {
	return withContent(response(StatusBadRequest, requestID, persistent), "")
}

func Forbidden(requestID string) *OutgoingMessage {
	return withContent(response(StatusForbidden, requestID, false), "")
}

func NotFound(requestID, content string, persistent bool) *OutgoingMessage {
	return withContent(response(StatusNotFound, requestID, persistent), content)
}

func NotAcceptable(requestID, content string, persistent bool) *OutgoingMessage {
	return withContent(response(StatusNotAcceptable, requestID, persistent), content)
}

func RequestTimeout(requestID string, persistent bool) *OutgoingMessage {
	return withContent(response(StatusRequestTimeout, requestID, persistent), "")
}

// TooManyConnections is written to connections refused at capacity
func TooManyConnections() *OutgoingMessage {
	return withContent(response(StatusTooManyConnections, "", false), "")
}
