package models

import "fmt"

// CaseStatus is the cached projection of a case's consent timestamps and admin actions.
type CaseStatus string

const (
	StatusGuardianPending  CaseStatus = "GUARDIAN_PENDING"
	StatusCaregiverPending CaseStatus = "CAREGIVER_PENDING"
	StatusInProgress       CaseStatus = "IN_PROGRESS"
	StatusCompleted        CaseStatus = "COMPLETED"
	StatusCanceled         CaseStatus = "CANCELED"
)

// Transition names an event that moves a case between statuses.
type Transition string

const (
	TransitionGuardianAgree  Transition = "guardian_agree"
	TransitionCaregiverAgree Transition = "caregiver_agree"
	TransitionComplete       Transition = "complete"
	TransitionForceEnd       Transition = "force_end"
)

// transitions is the single table of legal moves. Anything absent is illegal.
var transitions = map[CaseStatus]map[Transition]CaseStatus{
	StatusGuardianPending: {
		TransitionGuardianAgree: StatusCaregiverPending,
		TransitionForceEnd:      StatusCanceled,
	},
	StatusCaregiverPending: {
		TransitionCaregiverAgree: StatusInProgress,
		TransitionForceEnd:       StatusCanceled,
	},
	StatusInProgress: {
		TransitionComplete: StatusCompleted,
		TransitionForceEnd: StatusCanceled,
	},
}

// ParseCaseStatus validates a stored status string.
func ParseCaseStatus(s string) (CaseStatus, error) {
	switch st := CaseStatus(s); st {
	case StatusGuardianPending, StatusCaregiverPending, StatusInProgress, StatusCompleted, StatusCanceled:
		return st, nil
	}
	return "", fmt.Errorf("unknown case status %q", s)
}

// Terminal reports whether no further transition is possible.
func (s CaseStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// Next returns the status reached by applying t, or false if t is illegal from s.
func (s CaseStatus) Next(t Transition) (CaseStatus, bool) {
	next, ok := transitions[s][t]
	return next, ok
}
