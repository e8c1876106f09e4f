// Package stream turns a push-style sequence of chunk/done/error
// notifications into a single-consumer, cancellable pull stream.
//
// The producer side (Sink) never blocks: chunks are buffered until the
// consumer reads them. Once the stream is closed, failed or canceled, every
// further producer call is a no-op.
package stream

import (
	"context"
	"errors"
	"io"
	"iter"
	"strings"
	"sync"
)

// ErrCanceled is returned by Next after the consumer canceled the stream.
var ErrCanceled = errors.New("stream canceled")

type state int

const (
	stateOpen state = iota
	stateClosed
	stateFailed
	stateCanceled
)

// Hooks connect a stream to whatever produces its data. All hooks are
// optional and each runs at most once, outside the stream's lock.
type Hooks struct {
	// OnStart runs on the first call to Next.
	OnStart func()
	// OnCancel runs when the consumer cancels an open stream.
	OnCancel func()
	// OnTerminal runs when the stream first reaches any terminal state.
	OnTerminal func()
}

// Stream is the consumer side. It must be read from a single goroutine;
// Cancel may be called from anywhere.
type Stream struct {
	mu      sync.Mutex
	queue   []string
	st      state
	err     error
	started bool
	notify  chan struct{}
	hooks   Hooks
}

// Sink is the producer side of a Stream.
type Sink struct{ s *Stream }

// New returns a connected stream and sink.
func New(h Hooks) (*Stream, *Sink) {
	s := &Stream{notify: make(chan struct{}, 1), hooks: h}
	return s, &Sink{s: s}
}

func (s *Stream) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next returns the next chunk. It returns io.EOF after the stream closed and
// all buffered chunks were read, the failure after Fail, ErrCanceled after
// Cancel, or ctx.Err() if ctx ends first. Next does not cancel the stream on
// ctx expiry; Chunks and Collect do.
func (s *Stream) Next(ctx context.Context) (string, error) {
	s.mu.Lock()
	first := !s.started
	s.started = true
	s.mu.Unlock()
	if first && s.hooks.OnStart != nil {
		s.hooks.OnStart()
	}
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			c := s.queue[0]
			s.queue[0] = ""
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return c, nil
		}
		st, err := s.st, s.err
		s.mu.Unlock()
		switch st {
		case stateClosed:
			return "", io.EOF
		case stateFailed:
			return "", err
		case stateCanceled:
			return "", ErrCanceled
		}
		select {
		case <-s.notify:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Cancel abandons the stream: buffered chunks are discarded and OnCancel
// fires. Canceling a terminal stream does nothing.
func (s *Stream) Cancel() {
	s.mu.Lock()
	if s.st != stateOpen {
		s.mu.Unlock()
		return
	}
	s.st = stateCanceled
	s.queue = nil
	s.mu.Unlock()
	s.wake()
	if s.hooks.OnCancel != nil {
		s.hooks.OnCancel()
	}
	if s.hooks.OnTerminal != nil {
		s.hooks.OnTerminal()
	}
}

// Terminal reports whether the stream was closed, failed or canceled.
func (s *Stream) Terminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st != stateOpen
}

// Err returns the failure passed to Fail, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Chunks iterates the stream. Breaking out of the loop, or ctx ending,
// cancels the stream. A failure is yielded once as the final element.
func (s *Stream) Chunks(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for {
			c, err := s.Next(ctx)
			if err == io.EOF {
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					s.Cancel()
				}
				yield("", err)
				return
			}
			if !yield(c, nil) {
				s.Cancel()
				return
			}
		}
	}
}

// Collect reads the stream to the end and returns the concatenated text.
// On failure the text read so far is returned with the error.
func (s *Stream) Collect(ctx context.Context) (string, error) {
	var b strings.Builder
	for c, err := range s.Chunks(ctx) {
		if err != nil {
			return b.String(), err
		}
		b.WriteString(c)
	}
	return b.String(), nil
}

// Enqueue appends a chunk. It reports false if the stream is terminal.
func (k *Sink) Enqueue(chunk string) bool {
	s := k.s
	s.mu.Lock()
	if s.st != stateOpen {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, chunk)
	s.mu.Unlock()
	s.wake()
	return true
}

// Close ends the stream normally; buffered chunks remain readable.
func (k *Sink) Close() bool { return k.finish(stateClosed, nil) }

// Fail ends the stream with err. Buffered chunks remain readable before err.
func (k *Sink) Fail(err error) bool {
	if err == nil {
		err = errors.New("stream failed")
	}
	return k.finish(stateFailed, err)
}

// Open reports whether the stream still accepts chunks.
func (k *Sink) Open() bool {
	k.s.mu.Lock()
	defer k.s.mu.Unlock()
	return k.s.st == stateOpen
}

func (k *Sink) finish(st state, err error) bool {
	s := k.s
	s.mu.Lock()
	if s.st != stateOpen {
		s.mu.Unlock()
		return false
	}
	s.st = st
	s.err = err
	s.mu.Unlock()
	s.wake()
	if s.hooks.OnTerminal != nil {
		s.hooks.OnTerminal()
	}
	return true
}
