//go:build windows

package process

import (
	"errors"
	"os"
	"os/exec"
)

// Windows cannot deliver POSIX signals; every stop signal terminates.
var signals = map[string]os.Signal{
	"SIGTERM": os.Kill,
	"SIGINT":  os.Interrupt,
	"SIGQUIT": os.Kill,
	"SIGHUP":  os.Kill,
	"SIGKILL": os.Kill,
}

func setProcAttr(cmd *exec.Cmd) {}

func signalGroup(p *os.Process, _ os.Signal) error {
	return killGroup(p)
}

func killGroup(p *os.Process) error {
	err := p.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
