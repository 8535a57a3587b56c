// Package procgroup manages the lifetime of external muxer processes. The
// muxer may spawn helpers of its own, so signals address the whole process
// group rather than the direct child.
package procgroup

import (
	"os/exec"
	"time"
)

// Set configures cmd to start as the leader of a new process group.
// Mandatory for Terminate to reap the whole tree.
func Set(cmd *exec.Cmd) {
	set(cmd)
}

// Terminate gracefully stops a process group: it sends the termination
// signal, waits for the process to exit via waitCh, and escalates to a
// forced kill after grace. The error from waitCh is consumed and returned.
// Safe to call with a nil command.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	signalTerm(cmd)
	select {
	case err := <-waitCh:
		return err
	case <-time.After(grace):
		signalKill(cmd)
		// The wait channel must always be drained so the child is reaped.
		return <-waitCh
	}
}
