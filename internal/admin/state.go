package admin

import "github.com/insikl/messaging-admin-ambassador/internal/models"

// IsRunning: production or maintenance.
func IsRunning(state int) bool {
	return state == models.StateRunning || state == models.StateMaintenance
}

// IsStartingInProgress covers the clean store and store start phases.
func IsStartingInProgress(state int) bool {
	return state == models.StateCleanStore || state == models.StateStartingInStore
}

// IsMaintenanceMode also holds while the server is still starting.
func IsMaintenanceMode(state int) bool {
	return state == models.StateMaintenance || IsStartingInProgress(state)
}

func IsStopping(state int) bool {
	return state == models.StateStopping
}

func IsStopped(state int) bool {
	return state == models.StateStopped
}

// IsErrorMode means normal operations are not possible: the server is down
// or its state is unknown.
func IsErrorMode(state int) bool {
	return state >= models.StateStopped || state < 0
}

// IsWarnMode is any state other than production that is not an error.
func IsWarnMode(state int) bool {
	return state != models.StateRunning && !IsErrorMode(state)
}

// IsHAWarnMode flags an HA pair that lost synchronization.
func IsHAWarnMode(haMode string) bool {
	return haMode == "UNSYNC"
}

// IsHAErrorMode flags a node that cannot resynchronize with its pair.
func IsHAErrorMode(haRole string) bool {
	return haRole == "UNSYNC_ERROR"
}

// HAWarning describes an unsynchronized HA role, or returns "" when the
// pair is healthy or HA is not configured.
func HAWarning(ha *models.HAInfo) string {
	if ha == nil || !ha.Enabled {
		return ""
	}
	switch {
	case IsHAErrorMode(ha.NewRole):
		return "HA synchronization failed, role " + ha.NewRole
	case IsHAWarnMode(ha.NewRole):
		return "HA pair is not synchronized"
	}
	return ""
}

// IsUp is the condition a restart waits for.
func IsUp(state int) bool {
	if IsErrorMode(state) || IsStopping(state) {
		return false
	}
	return IsRunning(state) || IsMaintenanceMode(state)
}

// DescribeState gives a short label for a state code when the server did
// not send a StateDescription.
func DescribeState(state int) string {
	switch state {
	case models.StateRunning:
		return "Running (production)"
	case models.StateStopping:
		return "Stopping"
	case models.StateMaintenance:
		return "Running (maintenance)"
	case models.StateStandby:
		return "Standby"
	case models.StateCleanStore:
		return "Cleaning store"
	case models.StateStartingInStore:
		return "Starting"
	case models.StateStopped:
		return "Stopped"
	}
	if state < 0 {
		return "Unknown"
	}
	return "Initializing"
}
