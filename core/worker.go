package core

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/searchktools/webserver/core/http"
)

// Handler answers the messages of one connection. It runs on the worker
// goroutine that owns the connection and responds with SendMessage.
type Handler interface {
	Serve(c *Connection, msgs []*http.IncomingMessage)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(c *Connection, msgs []*http.IncomingMessage)

func (f HandlerFunc) Serve(c *Connection, msgs []*http.IncomingMessage) { f(c, msgs) }

// Worker drives one Server: poll, dispatch, then serve every connection
// with pending messages before polling again.
type Worker struct {
	id          int
	server      *Server
	handler     Handler
	pollTimeout int
	log         *logrus.Entry

	processed atomic.Uint64
	panics    atomic.Uint64
}

func NewWorker(id int, server *Server, handler Handler, pollTimeout int) *Worker {
	return &Worker{
		id:          id,
		server:      server,
		handler:     handler,
		pollTimeout: pollTimeout,
		log:         server.log.WithFields(logrus.Fields{"component": "worker", "worker": id}),
	}
}

func (w *Worker) ID() int { return w.id }

func (w *Worker) Server() *Server { return w.server }

// Processed is the number of messages handed to the handler
func (w *Worker) Processed() uint64 { return w.processed.Load() }

// Process runs one poll round and drains the activity set
func (w *Worker) Process() error {
	if err := w.server.Perform(w.pollTimeout); err != nil {
		return err
	}
	for {
		c, ok := w.server.GetActiveConnection()
		if !ok {
			return nil
		}
		msgs, ok := c.GetMessages()
		if !ok {
			continue
		}
		w.serve(c, msgs)
		w.processed.Add(uint64(len(msgs)))
	}
}

// serve shields the worker from handler panics by answering 400
func (w *Worker) serve(c *Connection, msgs []*http.IncomingMessage) {
	defer func() {
		if r := recover(); r != nil {
			w.panics.Add(1)
			w.log.WithField("panic", fmt.Sprint(r)).Error("handler panicked")
			id, _ := msgs[0].RequestID()
			c.SendMessage(http.BadRequest(id, false))
		}
	}()
	w.handler.Serve(c, msgs)
}

// Run processes until ctx is done, then closes the server and with it every
// connection. Shutdown latency is bounded by the poll timeout.
func (w *Worker) Run(ctx context.Context) error {
	defer w.server.Close()
	w.log.Debug("worker started")

	for ctx.Err() == nil {
		if err := w.Process(); err != nil {
			w.log.WithError(err).Error("worker stopped")
			return err
		}
	}
	w.log.Debug("worker stopped")
	return nil
}
