/*
Package webserver is a non-blocking HTTP/1.1 server library built directly on
sockets and the operating system's readiness multiplexer.

A listener goroutine accepts connections and hands them round-robin to a
fixed set of workers. Each worker owns one Server with its own poll; it waits
for readiness, decodes whatever arrived and passes complete requests to the
user's handler, which answers through Connection.SendMessage.

Features

  - I/O multiplexing: epoll (Linux), kqueue (BSD/macOS) and a simulated backend for tests
  - Incremental HTTP codec: GET and POST requests, Content-Length bodies, keep-alive
  - Malformed input tolerance: one bad frame is dropped, a second one is answered 400
  - Capacity limits: connections beyond MaxConnects get 503 and are closed
  - Statistics: sustained and attained rates, latency windows, Prometheus metrics

Quick Start

Basic usage example:

package main

import (
    "log"

    "github.com/searchktools/webserver/app"
    "github.com/searchktools/webserver/config"
    "github.com/searchktools/webserver/core"
    "github.com/searchktools/webserver/core/http"
)

func main() {
    cfg := config.New()
    application, err := app.New(cfg, core.HandlerFunc(func(c *core.Connection, msgs []*http.IncomingMessage) {
        for _, m := range msgs {
            c.SendMessage(http.OK("", "Hello, World!", m.IsPersistent()))
        }
    }))
    if err != nil {
        log.Fatal(err)
    }
    log.Fatal(application.Run())
}

Modules

  - app: Application lifecycle, signals and the metrics endpoint
  - config: Flags, environment and JSON file configuration with file watching
  - core: Connection, Server, Listener, Worker and WorkerPool
  - core/http: HTTP message decoding and encoding
  - core/poller: Readiness multiplexing (epoll/kqueue/simulated)
  - core/sockets: Socket descriptors, addresses and stream I/O
  - core/buffer: Growable byte buffer for partial frames
  - core/pools: Size-class byte pools
  - core/observability: Rate and latency statistics, snapshots and Prometheus collectors
*/
package webserver
