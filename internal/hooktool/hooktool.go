// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package hooktool runs the hook tools Juju makes available to a charm
// process, such as state-get or juju-log.
package hooktool

import (
	"bytes"
	"os/exec"
	"strings"

	"github.com/juju/errors"
)

//go:generate go run go.uber.org/mock/mockgen -package mocks -destination mocks/runner_mock.go github.com/juju/ops/internal/hooktool Runner

// Runner runs a hook tool and returns its standard output.
type Runner interface {
	Run(name string, stdin []byte, args ...string) ([]byte, error)
}

// NewRunner returns a Runner that executes hook tools found on PATH.
func NewRunner() Runner {
	return execRunner{}
}

type execRunner struct{}

// Run is part of the Runner interface.
func (execRunner) Run(name string, stdin []byte, args ...string) ([]byte, error) {
	cmd := exec.Command(name, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, errors.Annotatef(err, "running %s: %s", name, msg)
		}
		return nil, errors.Annotatef(err, "running %s", name)
	}
	return out, nil
}

// Available reports whether the named hook tool can be found on PATH.
func Available(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
