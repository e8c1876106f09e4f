// Package worker provides the background execution contexts a bridge talks
// to. Two are available:
//
//   - Pipe runs a supervisor on its own goroutines inside this process.
//   - Process runs `inferbridge worker` as a child process and speaks the
//     protocol as NDJSON over its stdin/stdout.
//
// Both copy every message through the wire codec, so nothing is shared by
// reference across the boundary. ServeStdio is the child-side loop.
package worker

import "errors"

// ErrWorkerGone is returned by Send after the worker exited or was
// terminated.
var ErrWorkerGone = errors.New("worker is not running")

// ErrQueueFull is returned by Send when the command queue is saturated.
var ErrQueueFull = errors.New("worker command queue full")
