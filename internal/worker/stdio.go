package worker

import (
	"context"
	"io"

	"github.com/rs/zerolog"

	"inferbridge/internal/protocol"
	"inferbridge/internal/supervisor"
)

// ServeStdio runs sup as a child-process worker: commands are read as NDJSON
// from r and events written as NDJSON to w. Malformed lines are answered with
// an UNKNOWN error event and otherwise ignored. It returns when r reaches EOF
// or ctx ends, after the engine was unloaded.
func ServeStdio(ctx context.Context, r io.Reader, w io.Writer, sup *supervisor.Supervisor, log zerolog.Logger) error {
	lw := &lineWriter{w: w}
	emit := func(ev protocol.Event) {
		b, err := protocol.MarshalEvent(ev)
		if err != nil {
			log.Error().Err(err).Msg("worker: encode event")
			return
		}
		if err := lw.writeLine(b); err != nil {
			log.Error().Err(err).Msg("worker: write event")
		}
	}

	cmds := make(chan protocol.Command)
	readErr := make(chan error, 1)
	go func() {
		defer close(cmds)
		sc := newLineScanner(r)
		for sc.Scan() {
			line := sc.Bytes()
			if len(line) == 0 {
				continue
			}
			cmd, err := protocol.UnmarshalCommand(line)
			if err != nil {
				log.Warn().Err(err).Msg("worker: rejected command")
				emit(malformedEvent(err))
				continue
			}
			select {
			case cmds <- cmd:
			case <-ctx.Done():
				readErr <- ctx.Err()
				return
			}
		}
		readErr <- sc.Err()
	}()

	err := sup.Serve(ctx, cmds, emit)
	if err != nil {
		return err
	}
	select {
	case rerr := <-readErr:
		return rerr
	default:
		return nil
	}
}
