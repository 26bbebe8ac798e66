package services

import "fmt"

// SubmissionState is a step of a listing submission.
type SubmissionState int

const (
	StateIdle SubmissionState = iota
	StateValidating
	StateRejected
	StateUploading
	StateWriting
	StateDone
	StateFailed
)

func (s SubmissionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateRejected:
		return "rejected"
	case StateUploading:
		return "uploading"
	case StateWriting:
		return "writing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further step follows s until Reset.
func (s SubmissionState) Terminal() bool {
	return s == StateDone || s == StateRejected || s == StateFailed
}

// Transition is reported to a StateObserver. Pending is the number of images in
// flight when entering StateUploading.
type Transition struct {
	From    SubmissionState
	To      SubmissionState
	Pending int
}

// StateObserver receives every transition of a submission.
type StateObserver func(Transition)

var allowedTransitions = map[SubmissionState][]SubmissionState{
	StateIdle:       {StateValidating},
	StateValidating: {StateRejected, StateFailed, StateUploading, StateWriting},
	StateUploading:  {StateWriting, StateFailed},
	StateWriting:    {StateDone, StateFailed},
	StateDone:       {StateIdle},
	StateRejected:   {StateIdle},
	StateFailed:     {StateIdle},
}

// Submission tracks the state of one submit attempt. It is not safe for concurrent use.
type Submission struct {
	state    SubmissionState
	observer StateObserver
}

// NewSubmission returns a submission in StateIdle.
func NewSubmission(observer StateObserver) *Submission {
	return &Submission{state: StateIdle, observer: observer}
}

// State returns the current state.
func (m *Submission) State() SubmissionState {
	return m.state
}

// To moves to next, or returns an error if the transition is not allowed.
func (m *Submission) To(next SubmissionState, pending int) error {
	for _, allowed := range allowedTransitions[m.state] {
		if allowed == next {
			t := Transition{From: m.state, To: next, Pending: pending}
			m.state = next
			if m.observer != nil {
				m.observer(t)
			}
			return nil
		}
	}
	return fmt.Errorf("invalid submission transition %s -> %s", m.state, next)
}

// Reset returns a finished submission to StateIdle so the user can resubmit.
func (m *Submission) Reset() error {
	if !m.state.Terminal() {
		return fmt.Errorf("cannot reset submission in state %s", m.state)
	}
	return m.To(StateIdle, 0)
}

// must is used by the service for transitions it drives itself.
func (m *Submission) must(next SubmissionState, pending int) {
	if err := m.To(next, pending); err != nil {
		panic(err)
	}
}
