package core

import (
	"errors"
	"time"
)

// Defaults applied when the configuration leaves a value unset
const (
	DefaultMaxConnects         = 1000
	DefaultConnectionTimeout   = 10 * time.Second
	DefaultBacklog             = 100
	DefaultWorkers             = 10
	DefaultReadChunk           = 1500
	DefaultPollTimeout         = time.Second
	DefaultListenerPollTimeout = 10 * time.Second
)

// pollHeadroom is added to a server's poll size on top of MaxConnects
const pollHeadroom = 10

// listenAttempts bounds CreateListener retries
const listenAttempts = 4

// listenRetryDelay is the pause between listen attempts
var listenRetryDelay = time.Second

// Error definitions
var (
	ErrTooManyConnections = errors.New("core: too many connections")
	ErrBacklogTooLarge    = errors.New("core: backlog cannot exceed maximal connections number")
	ErrListenerOpen       = errors.New("core: cannot start listener")
	ErrNoHandlers         = errors.New("core: listener has no handlers")
	ErrServerClosed       = errors.New("core: server closed")
	ErrConnectionClosed   = errors.New("core: connection closed")
	ErrPoolStarted        = errors.New("core: worker pool already started")
	ErrPoolNotStarted     = errors.New("core: worker pool not started")
)
