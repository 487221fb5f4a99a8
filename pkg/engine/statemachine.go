package engine

import "github.com/taskcast/taskcast/pkg/models"

// allowedTransitions is the full lifecycle table. Terminal statuses have no
// entry; a self-transition is never listed.
var allowedTransitions = map[models.TaskStatus][]models.TaskStatus{
	models.StatusPending: {models.StatusRunning, models.StatusCancelled},
	models.StatusRunning: {models.StatusCompleted, models.StatusFailed, models.StatusTimeout, models.StatusCancelled},
}

// CanTransition reports whether the status change from → to is legal.
func CanTransition(from, to models.TaskStatus) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
func IsTerminal(status models.TaskStatus) bool {
	switch status {
	case models.StatusCompleted, models.StatusFailed, models.StatusTimeout, models.StatusCancelled:
		return true
	}
	return false
}

// AllowedTransitions returns the statuses legally reachable from the given
// status. Terminal statuses return an empty slice.
func AllowedTransitions(from models.TaskStatus) []models.TaskStatus {
	allowed := allowedTransitions[from]
	out := make([]models.TaskStatus, len(allowed))
	copy(out, allowed)
	return out
}
