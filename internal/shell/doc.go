// Package shell abstracts external tool invocation behind the Runner
// interface. Every lifecycle component receives a Runner, so orchestration
// logic can be exercised against the scripted fake in shelltest instead of
// real privileged tools.
//
// A non-zero exit status is not a Go error: Run reports it in Result and the
// caller decides what it means. Go errors are reserved for commands that
// could not be started and for context cancellation.
package shell
