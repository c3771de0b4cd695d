package health

import (
	"fmt"
	"time"
)

// Level grades a Status
type Level string

// Levels from best to worst
const (
	LevelHealthy   Level = "healthy"
	LevelDegraded  Level = "degraded"
	LevelUnhealthy Level = "unhealthy"
)

// severity orders levels; anything unrecognised counts as unhealthy
func (l Level) severity() int {
	switch l {
	case LevelHealthy:
		return 0
	case LevelDegraded:
		return 1
	default:
		return 2
	}
}

func newStatus(component string, level Level, message string) Status {
	return Status{
		Component: component,
		Healthy:   level == LevelHealthy,
		Status:    level,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy returns a healthy status
func NewHealthy(component, message string) Status {
	return newStatus(component, LevelHealthy, message)
}

// NewDegraded returns a degraded status
func NewDegraded(component, message string) Status {
	return newStatus(component, LevelDegraded, message)
}

// NewUnhealthy returns an unhealthy status
func NewUnhealthy(component, message string) Status {
	return newStatus(component, LevelUnhealthy, message)
}

// Aggregate grades component by its worst sub-status and keeps a copy of
// subs. The message counts the sub-statuses at that grade.
func Aggregate(component string, subs []Status) Status {
	if len(subs) == 0 {
		return NewHealthy(component, "no components reporting")
	}

	worst, count := LevelHealthy, 0
	for _, s := range subs {
		switch sev := s.Status.severity(); {
		case sev > worst.severity():
			worst, count = s.Status, 1
		case sev == worst.severity():
			count++
		}
	}
	if worst.severity() == LevelUnhealthy.severity() {
		worst = LevelUnhealthy
	}

	var status Status
	if worst == LevelHealthy {
		status = newStatus(component, worst, fmt.Sprintf("all %d components healthy", len(subs)))
	} else {
		status = newStatus(component, worst, fmt.Sprintf("%d of %d components %s", count, len(subs), worst))
	}
	status.SubStatuses = append([]Status(nil), subs...)
	return status
}
