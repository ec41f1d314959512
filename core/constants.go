package core

import "errors"

// HTTP header constants
const (
	HeaderContentType   = "Content-Type"
	HeaderContentLength = "Content-Length"
	HeaderAllow         = "Allow"
	HeaderConnection    = "Connection"
)

// coalesceLimit caps the bytes gathered from the output queue into one write
const coalesceLimit = 64 << 10

// Error definitions
var (
	ErrNotListening     = errors.New("server is not listening")
	ErrAlreadyListening = errors.New("server is already listening")
	ErrResponseFinished = errors.New("response already finished")
	ErrConnectionClosed = errors.New("connection closed")
	ErrOffloadRejected  = errors.New("worker pool rejected offloaded work")
)
