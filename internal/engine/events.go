package engine

import (
	"time"

	"github.com/rdmontgomery/exa/pkg/core"
)

// EventKind identifies a lifecycle event.
type EventKind string

// Event kinds in the order they occur.
const (
	EventBuildStarted  EventKind = "build_started"
	EventBuildSkipped  EventKind = "build_skipped"
	EventBuildFinished EventKind = "build_finished"
	EventJobStarted    EventKind = "job_started"
	EventJobFinished   EventKind = "job_finished"
	EventStepStarted   EventKind = "step_started"
	EventStepFinished  EventKind = "step_finished"
)

// Event is one lifecycle notification. Build is set on build events, Job
// on job and step events, and Step on step events. The payloads are
// copies; consumers may hold them across goroutines.
type Event struct {
	Kind  EventKind        `json:"event"`
	Time  time.Time        `json:"time"`
	Build *core.Build      `json:"build,omitempty"`
	Job   *core.Job        `json:"job,omitempty"`
	Step  *core.StepResult `json:"step,omitempty"`
}

func buildEvent(kind EventKind, b *core.Build) Event {
	cp := *b
	return Event{Kind: kind, Time: time.Now().UTC(), Build: &cp}
}

func jobEvent(kind EventKind, j *core.Job) Event {
	cp := *j
	return Event{Kind: kind, Time: time.Now().UTC(), Job: &cp}
}

func stepEvent(kind EventKind, j *core.Job, s *core.StepResult) Event {
	jc, sc := *j, *s
	return Event{Kind: kind, Time: time.Now().UTC(), Job: &jc, Step: &sc}
}
