package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/rs/zerolog"

	"inferbridge/internal/protocol"
)

// ProcessConfig describes how to launch a child worker.
type ProcessConfig struct {
	// Bin is the executable; Args are passed verbatim (e.g. "worker", flags).
	Bin  string
	Args []string
	Env  []string
}

// Process is a worker running in a child process.
type Process struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	lw    *lineWriter
	out   chan protocol.Event
	done  chan struct{}
	log   zerolog.Logger
	once  sync.Once
	procs *ProcManager

	// stderrDone is closed once the child's stderr has been drained. Wait
	// must not run before that.
	stderrDone chan struct{}
}

// StartProcess launches the child and starts reading its events. The child
// is registered with procs (if non-nil) so it can be killed on shutdown.
func StartProcess(ctx context.Context, cfg ProcessConfig, procs *ProcManager, log zerolog.Logger) (*Process, error) {
	if cfg.Bin == "" {
		return nil, errors.New("worker binary not configured")
	}
	cmd := exec.Command(cfg.Bin, cfg.Args...)
	if len(cfg.Env) > 0 {
		cmd.Env = cfg.Env
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}
	p := &Process{
		cmd:        cmd,
		stdin:      stdin,
		lw:         &lineWriter{w: stdin},
		out:        make(chan protocol.Event, pipeEventBuffer),
		done:       make(chan struct{}),
		log:        log.With().Int("worker_pid", cmd.Process.Pid).Logger(),
		procs:      procs,
		stderrDone: make(chan struct{}),
	}
	if procs != nil {
		procs.Add(cmd)
	}
	p.log.Info().Str("bin", cfg.Bin).Msg("worker process started")
	go p.forwardStderr(stderr)
	go p.readEvents(stdout)
	return p, nil
}

func (p *Process) readEvents(stdout io.Reader) {
	defer func() {
		<-p.stderrDone
		err := p.cmd.Wait()
		if p.procs != nil {
			p.procs.Remove(p.cmd)
		}
		p.log.Info().AnErr("exit", err).Msg("worker process exited")
		p.close()
		close(p.out)
	}()
	sc := newLineScanner(stdout)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		ev, err := protocol.UnmarshalEvent(line)
		if err != nil {
			p.log.Warn().Err(err).Msg("worker process: malformed event")
			ev = malformedEvent(err)
		}
		select {
		case p.out <- ev:
		case <-p.done:
		}
	}
	if err := sc.Err(); err != nil {
		p.log.Warn().Err(err).Msg("worker process: read events")
	}
}

// forwardStderr relays the child's log lines. JSON lines written by the
// child's zerolog keep their level; anything else is logged at info.
func (p *Process) forwardStderr(r io.Reader) {
	defer close(p.stderrDone)
	sc := newLineScanner(r)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec struct {
			Level   string `json:"level"`
			Message string `json:"message"`
		}
		if json.Unmarshal(line, &rec) != nil {
			p.log.Info().Str("stream", "stderr").Msg(string(line))
			continue
		}
		lvl, err := zerolog.ParseLevel(rec.Level)
		if err != nil || lvl == zerolog.NoLevel {
			lvl = zerolog.InfoLevel
		}
		p.log.WithLevel(lvl).Str("stream", "stderr").RawJSON("child", line).Msg(rec.Message)
	}
	if err := sc.Err(); err != nil {
		p.log.Warn().Err(err).Msg("worker process: read stderr")
	}
}

// Send writes cmd to the child's stdin.
func (p *Process) Send(cmd protocol.Command) error {
	select {
	case <-p.done:
		return ErrWorkerGone
	default:
	}
	b, err := protocol.MarshalCommand(cmd)
	if err != nil {
		return err
	}
	if err := p.lw.writeLine(b); err != nil {
		return fmt.Errorf("%w: %v", ErrWorkerGone, err)
	}
	return nil
}

// Events delivers decoded events. It is closed when the child exits.
func (p *Process) Events() <-chan protocol.Event { return p.out }

// Terminate kills the child unconditionally.
func (p *Process) Terminate() error {
	p.close()
	_ = p.stdin.Close()
	if p.cmd.Process != nil {
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, errProcessDone) {
			return err
		}
	}
	return nil
}

func (p *Process) close() {
	p.once.Do(func() { close(p.done) })
}
