package flight

import "time"

type Status string

const (
	StatusQueued  Status = "QUEUED"
	StatusReady   Status = "READY"
	StatusRunning Status = "RUNNING"
	// StatusSuccess means every step completed in the DO direction.
	StatusSuccess Status = "SUCCESS"
	// StatusError means the flight failed but every completed step was
	// successfully undone.
	StatusError Status = "ERROR"
	// StatusFatal means undo itself could not complete; the system is left
	// in a state that needs operator repair.
	StatusFatal Status = "FATAL"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusError, StatusFatal:
		return true
	}
	return false
}

type Direction string

const (
	DirectionDo   Direction = "DO"
	DirectionUndo Direction = "UNDO"
)

// State is the persisted flight row. StepIndex is the next step to run in
// the current direction; checkpoints advance it only after the prior step's
// completion (and working-map snapshot) are durable.
type State struct {
	FlightID     string
	FlightType   string
	Status       Status
	StepIndex    int
	Direction    Direction
	Inputs       FlightMap
	Working      FlightMap
	ErrorCode    string
	ErrorMessage string
	Submitted    time.Time
	Completed    *time.Time
}

func (s *State) clone() *State {
	cp := *s
	cp.Inputs = s.Inputs.Clone()
	cp.Working = s.Working.Clone()
	if s.Completed != nil {
		t := *s.Completed
		cp.Completed = &t
	}
	return &cp
}
