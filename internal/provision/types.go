// Package provision runs the provisioning pipeline for one target: wine
// environment, CPython, pip, MinGW, PATH, link configuration and a final
// smoke test.
package provision

import (
	"context"
	"fmt"
	"time"

	"winbuilder/internal/target"
)

// State is the furthest point a target reached.
type State int

const (
	StateNotStarted State = iota
	StateEnvironmentReady
	StateInterpreterReady
	StateToolchainReady
	StatePathPublished
	StateLinked
	StateVerified
	StateFailed
)

var stateNames = map[State]string{
	StateNotStarted:       "not-started",
	StateEnvironmentReady: "environment-ready",
	StateInterpreterReady: "interpreter-ready",
	StateToolchainReady:   "toolchain-ready",
	StatePathPublished:    "path-published",
	StateLinked:           "linked",
	StateVerified:         "verified",
	StateFailed:           "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ParseState is the inverse of State.String.
func ParseState(name string) (State, bool) {
	for s, n := range stateNames {
		if n == name {
			return s, true
		}
	}
	return StateNotStarted, false
}

// Step names a pipeline stage.
type Step string

const (
	StepEnvironment Step = "environment"
	StepInterpreter Step = "interpreter"
	StepPip         Step = "pip"
	StepToolchain   Step = "toolchain"
	StepPath        Step = "path"
	StepLink        Step = "link"
	StepPointFix    Step = "point-fix"
	StepVerify      Step = "verify"
)

// StepError ties a failure to the step that produced it.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Result is the outcome of provisioning one target.
type Result struct {
	EnvironmentID string
	Fingerprint   string
	Spec          target.Spec
	State         State
	FailedStep    Step
	Err           error
	Actions       []string          // changes made, in order
	Warnings      []string          // non-fatal problems
	Versions      map[string]string // tool name to reported version
	StartedAt     time.Time
	FinishedAt    time.Time
}

// OK reports whether the target reached StateVerified.
func (r Result) OK() bool {
	return r.State == StateVerified && r.Err == nil
}

// Summary is the outcome of a batch, one result per target in input order.
type Summary struct {
	Results []Result
}

// Failed counts the targets that did not complete.
func (s Summary) Failed() int {
	n := 0
	for _, r := range s.Results {
		if !r.OK() {
			n++
		}
	}
	return n
}

// FirstError returns the error of the first failed target, or nil.
func (s Summary) FirstError() error {
	for _, r := range s.Results {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}

// Recorder receives every finished result.
type Recorder interface {
	Record(ctx context.Context, r Result) error
}

// FingerprintSource knows the fingerprint an environment was last
// provisioned with. A Recorder may implement it to enable drift warnings.
type FingerprintSource interface {
	LastFingerprint(ctx context.Context, envID string) (string, bool, error)
}
