package cmd

import (
	"github.com/pkg/errors"

	"switchtec-mrpc/command"
)

// Exit codes, one per step of the health check.
const (
	ExitOK           = 0
	ExitOpen         = 1 // also usage and configuration errors
	ExitEcho         = 2
	ExitEchoMismatch = 3
	ExitSetMeas      = 4
	ExitGetTemp      = 5
)

// ExitCode maps err to the exit code of the step that produced it.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var mismatch *command.EchoMismatchError
	if errors.As(err, &mismatch) {
		return ExitEchoMismatch
	}

	var cerr *command.CommandError
	if errors.As(err, &cerr) {
		switch cerr.Op {
		case "echo_cmd":
			return ExitEcho
		case "dietemp_set_meas":
			return ExitSetMeas
		case "dietemp_get":
			return ExitGetTemp
		}
	}
	return ExitOpen
}
