package worker

import (
	"bufio"
	"io"
	"sync"

	"inferbridge/internal/errcode"
	"inferbridge/internal/protocol"
)

// maxLineBytes bounds a single NDJSON message (chat histories can be long).
const maxLineBytes = 16 << 20

func newLineScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	return sc
}

// lineWriter writes one JSON document per line, serialized across callers.
type lineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lineWriter) writeLine(b []byte) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if _, err := lw.w.Write(append(b, '\n')); err != nil {
		return err
	}
	return nil
}

func errcodeOf(err error) *errcode.Error {
	return errcode.FromError(errcode.PhaseOther, err)
}

// malformedEvent reports an undecodable inbound line as a local error event.
func malformedEvent(err error) protocol.Event {
	return protocol.ErrorEvent(errcodeOf(err))
}
