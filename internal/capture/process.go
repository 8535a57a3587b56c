package capture

import (
	"os/exec"
	"time"

	"github.com/airwavehq/aircheck/internal/procgroup"
)

// process abstracts one running muxer so tests can drive the worker without
// spawning ffmpeg.
type process interface {
	// Start launches the process. Errors here are spawn failures.
	Start() error
	// Done yields the process exit exactly once.
	Done() <-chan error
	// Stop requests graceful termination and escalates to a forced kill
	// after grace. It blocks until the process has exited.
	Stop(grace time.Duration)
}

// ProcessFactory builds a process from a muxer argv.
type ProcessFactory func(argv []string) process

// NewExecProcess is the production ProcessFactory: an exec.Cmd in its own
// process group.
func NewExecProcess(argv []string) process {
	return &execProcess{argv: argv}
}

type execProcess struct {
	argv   []string
	cmd    *exec.Cmd
	waitCh chan error
	doneCh chan error
}

func (p *execProcess) Start() error {
	p.cmd = exec.Command(p.argv[0], p.argv[1:]...) // #nosec G204 -- argv is built internally
	procgroup.Set(p.cmd)
	if err := p.cmd.Start(); err != nil {
		return err
	}
	p.waitCh = make(chan error, 1)
	p.doneCh = make(chan error, 1)
	go func() {
		err := p.cmd.Wait()
		p.waitCh <- err
		p.doneCh <- err
	}()
	return nil
}

func (p *execProcess) Done() <-chan error { return p.doneCh }

func (p *execProcess) Stop(grace time.Duration) {
	_ = procgroup.Terminate(p.cmd, p.waitCh, grace)
}
