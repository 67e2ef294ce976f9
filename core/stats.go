package core

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/searchktools/webserver/core/http"
)

// StatsRecorder receives traffic samples from connections. Both calls come
// from worker goroutines and must not block.
type StatsRecorder interface {
	IncomingRequest(length int)
	ServedRequest(msg *http.OutgoingMessage)
}

// NopRecorder discards every sample
type NopRecorder struct{}

func (NopRecorder) IncomingRequest(int)                 {}
func (NopRecorder) ServedRequest(*http.OutgoingMessage) {}

var baseLogger atomic.Pointer[logrus.Entry]

func init() {
	baseLogger.Store(logrus.NewEntry(logrus.StandardLogger()))
}

// SetLogger replaces the logger components fall back to when none is given
func SetLogger(l *logrus.Entry) {
	if l != nil {
		baseLogger.Store(l)
	}
}

func defaultLogger() *logrus.Entry { return baseLogger.Load() }
