package multipart

import (
	"errors"
	"fmt"
)

// Phase is a stage of the upload lifecycle.
type Phase string

// Lifecycle phases.
const (
	PhaseIdle         Phase = "idle"
	PhaseInitiated    Phase = "initiated"
	PhaseTransferring Phase = "transferring"
	PhaseFinalizing   Phase = "finalizing"
	PhaseCompleted    Phase = "completed"
	PhaseAborting     Phase = "aborting"
	PhaseAborted      Phase = "aborted"
)

// ErrIllegalTransition is returned for a phase change the lifecycle does not allow.
var ErrIllegalTransition = errors.New("illegal lifecycle transition")

var transitions = map[Phase][]Phase{
	PhaseIdle:         {PhaseInitiated},
	PhaseInitiated:    {PhaseTransferring, PhaseAborting},
	PhaseTransferring: {PhaseFinalizing, PhaseAborting},
	PhaseFinalizing:   {PhaseCompleted, PhaseAborting},
	PhaseAborting:     {PhaseAborted},
}

// lifecycle tracks the phase of one upload run and every phase it went through.
type lifecycle struct {
	history []Phase
}

func newLifecycle() *lifecycle {
	return &lifecycle{history: []Phase{PhaseIdle}}
}

func (l *lifecycle) current() Phase {
	return l.history[len(l.history)-1]
}

func (l *lifecycle) to(next Phase) error {
	from := l.current()
	for _, allowed := range transitions[from] {
		if allowed == next {
			l.history = append(l.history, next)
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, next)
}

func (l *lifecycle) phases() []Phase {
	return append([]Phase(nil), l.history...)
}

// Terminal reports whether no further transition is possible from p.
func (p Phase) Terminal() bool {
	return len(transitions[p]) == 0
}
