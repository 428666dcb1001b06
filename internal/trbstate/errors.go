package trbstate

import "fmt"

// ErrThresholdsNotConsistent is returned by NewWorkerLoad when busy_threshold
// is smaller than free_threshold.
type ErrThresholdsNotConsistent struct {
	ConnectionName string
	BusyThreshold  int
	FreeThreshold  int
}

func (e *ErrThresholdsNotConsistent) Error() string {
	return fmt.Sprintf("dfo: worker %q has busy_threshold %d < free_threshold %d",
		e.ConnectionName, e.BusyThreshold, e.FreeThreshold)
}

// ErrNoSlotsAvailable is returned by AddAssignment when the worker is
// currently quarantined (in_error).
type ErrNoSlotsAvailable struct {
	ConnectionName string
	TriggerNumber  uint64
}

func (e *ErrNoSlotsAvailable) Error() string {
	return fmt.Sprintf("dfo: no slots available on %q for trigger %d", e.ConnectionName, e.TriggerNumber)
}

// ErrAssignmentNotFound is returned by CompleteAssignment when no in-flight
// assignment matches the given trigger number.
type ErrAssignmentNotFound struct {
	ConnectionName string
	TriggerNumber  uint64
}

func (e *ErrAssignmentNotFound) Error() string {
	return fmt.Sprintf("dfo: assigned trigger decision %d not found on %q", e.TriggerNumber, e.ConnectionName)
}
