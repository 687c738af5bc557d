package runner

import (
	"os/exec"
	"syscall"
	"time"
)

// terminate stops a running tool cooperatively first, then by force.
// SIGTERM goes to the whole process group so escalation wrappers like
// sudo cannot leave orphaned children behind; after grace elapses the
// group is SIGKILLed. exited must be closed by the goroutine waiting
// on the command.
func terminate(cmd *exec.Cmd, grace time.Duration, exited <-chan struct{}) {
	if cmd.Process == nil {
		return
	}
	pgid := -cmd.Process.Pid

	_ = syscall.Kill(pgid, syscall.SIGTERM)
	select {
	case <-exited:
		return
	case <-time.After(grace):
	}
	_ = syscall.Kill(pgid, syscall.SIGKILL)
	<-exited
}
