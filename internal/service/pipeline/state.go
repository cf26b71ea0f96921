package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sudarshan922/insta-first-aid/internal/models"
)

// State is the lifecycle state of one pipeline invocation.
type State int

const (
	// StateDetecting - classifying the query.
	StateDetecting State = iota
	// StateGenerating - producing instructions.
	StateGenerating
	// StateSynthesizing - producing audio.
	StateSynthesizing
	// StateSucceeded - guidance returned (possibly without audio).
	StateSucceeded
	// StateNotEmergency - query was not an emergency; nothing generated.
	StateNotEmergency
	// StateFailed - a stage failed and no guidance was returned.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateDetecting:
		return "DETECTING"
	case StateGenerating:
		return "GENERATING"
	case StateSynthesizing:
		return "SYNTHESIZING"
	case StateSucceeded:
		return "SUCCEEDED"
	case StateNotEmergency:
		return "NOT_EMERGENCY"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true for SUCCEEDED, NOT_EMERGENCY and FAILED.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateNotEmergency || s == StateFailed
}

// StageState returns the state an invocation is in while stage runs.
func StageState(stage string) (State, bool) {
	switch stage {
	case models.StageDetect:
		return StateDetecting, true
	case models.StageGenerate:
		return StateGenerating, true
	case models.StageSynthesize:
		return StateSynthesizing, true
	default:
		return 0, false
	}
}

// Errors for invalid state transitions.
var (
	ErrInvocationFinished = errors.New("invocation already finished")
	ErrInvalidTransition  = errors.New("invalid state transition")
)

// Lifecycle is the state machine of a single invocation.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	DETECTING → GENERATING → SYNTHESIZING → SUCCEEDED
//	    │            │              │
//	    │            └──────────────┴──→ SUCCEEDED (audio disabled)
//	    └──→ NOT_EMERGENCY
//
//	any non-terminal state ──→ FAILED
//
// With the keywords audio source the invocation enters SYNTHESIZING as soon
// as generation starts, because both stages run together. Failures are
// reported with StageState of the failing stage rather than the lifecycle
// state.
type Lifecycle struct {
	mu           sync.RWMutex
	invocationId string
	state        State
}

// NewLifecycle creates a lifecycle in DETECTING state.
func NewLifecycle(invocationId string) *Lifecycle {
	return &Lifecycle{
		invocationId: invocationId,
		state:        StateDetecting,
	}
}

// InvocationId returns the invocation ID.
func (l *Lifecycle) InvocationId() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.invocationId
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// BeginGeneration moves DETECTING → GENERATING.
func (l *Lifecycle) BeginGeneration() error {
	return l.transition(StateGenerating, StateDetecting)
}

// BeginSynthesis moves GENERATING → SYNTHESIZING.
func (l *Lifecycle) BeginSynthesis() error {
	return l.transition(StateSynthesizing, StateGenerating)
}

// MarkNotEmergency moves DETECTING → NOT_EMERGENCY.
func (l *Lifecycle) MarkNotEmergency() error {
	return l.transition(StateNotEmergency, StateDetecting)
}

// Succeed moves GENERATING or SYNTHESIZING → SUCCEEDED.
func (l *Lifecycle) Succeed() error {
	return l.transition(StateSucceeded, StateGenerating, StateSynthesizing)
}

// Fail moves the invocation to FAILED. Returns true if the state changed,
// false if it was already terminal.
func (l *Lifecycle) Fail() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return false
	}
	l.state = StateFailed
	return true
}

func (l *Lifecycle) transition(to State, from ...State) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.IsTerminal() {
		return ErrInvocationFinished
	}
	for _, f := range from {
		if l.state == f {
			l.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %v → %v", ErrInvalidTransition, l.state, to)
}
