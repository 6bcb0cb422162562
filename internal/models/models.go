// Package models defines the data structures used across the application.
// These map to the PostgreSQL schema in internal/database.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Actor is the explicit identity behind a guardian or admin request.
// Caregivers never carry an Actor; they are identified by their access token.
type Actor struct {
	ID    uuid.UUID `json:"id"`
	Admin bool      `json:"admin"`
}

// Case is the central aggregate of a caregiving engagement.
type Case struct {
	ID         uuid.UUID `json:"id" db:"id"`
	GuardianID uuid.UUID `json:"guardian_id" db:"guardian_id"`

	PatientName  string  `json:"patient_name" db:"patient_name"`
	HospitalName *string `json:"hospital_name,omitempty" db:"hospital_name"`
	Diagnosis    *string `json:"diagnosis,omitempty" db:"diagnosis"`
	DailyWage    int64   `json:"daily_wage" db:"daily_wage"`

	StartDate       time.Time  `json:"start_date" db:"start_date"`
	EndDateExpected time.Time  `json:"end_date_expected" db:"end_date_expected"`
	EndDateFinal    *time.Time `json:"end_date_final,omitempty" db:"end_date_final"`

	CaregiverName      *string `json:"caregiver_name,omitempty" db:"caregiver_name"`
	CaregiverContact   *string `json:"caregiver_contact,omitempty" db:"caregiver_contact"`
	CaregiverBirthDate *string `json:"caregiver_birth_date,omitempty" db:"caregiver_birth_date"`
	// CaregiverBankInfo holds the sealed (encrypted) bank details, never plaintext.
	CaregiverBankInfo *string `json:"-" db:"caregiver_bank_info"`

	GuardianAgreedAt  *time.Time `json:"guardian_agreed_at,omitempty" db:"guardian_agreed_at"`
	CaregiverAgreedAt *time.Time `json:"caregiver_agreed_at,omitempty" db:"caregiver_agreed_at"`

	Status CaseStatus `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
	// Version increments on every update; writers must present the version they read.
	Version int64 `json:"-" db:"version"`
}

// EffectiveEnd returns EndDateFinal if set, else EndDateExpected.
func (c *Case) EffectiveEnd() time.Time {
	if c.EndDateFinal != nil {
		return *c.EndDateFinal
	}
	return c.EndDateExpected
}

// CaseInput is the request body for creating a case
type CaseInput struct {
	PatientName     string  `json:"patient_name"`
	HospitalName    *string `json:"hospital_name,omitempty"`
	Diagnosis       *string `json:"diagnosis,omitempty"`
	DailyWage       int64   `json:"daily_wage"`
	StartDate       string  `json:"start_date"`
	EndDateExpected string  `json:"end_date_expected"`
}

// CaregiverAgreement is the payload a caregiver submits through their link.
type CaregiverAgreement struct {
	Name          string `json:"name"`
	Contact       string `json:"contact"`
	BirthDate     string `json:"birth_date"`
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	AccountHolder string `json:"account_holder,omitempty"`
}

// BankInfo is the plaintext form of Case.CaregiverBankInfo.
type BankInfo struct {
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	AccountHolder string `json:"account_holder,omitempty"`
}

// AccessToken binds an anonymous caregiver session to exactly one case.
type AccessToken struct {
	Token     string     `json:"token" db:"token"`
	CaseID    uuid.UUID  `json:"case_id" db:"case_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// Expired reports whether the token has an expiry that lies before now.
func (t *AccessToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && t.ExpiresAt.Before(now)
}

// CareLog is the daily log a caregiver writes, one per (case, date).
type CareLog struct {
	ID            uuid.UUID `json:"id" db:"id"`
	CaseID        uuid.UUID `json:"case_id" db:"case_id"`
	Date          time.Time `json:"date" db:"log_date"`
	Items         []string  `json:"items" db:"items"`
	Memo          string    `json:"memo" db:"memo"`
	IsActive      bool      `json:"is_active" db:"is_active"`
	SignatureData *string   `json:"signature_data,omitempty" db:"signature_data"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// Signed reports whether the log carries a signature and is therefore locked.
func (l *CareLog) Signed() bool {
	return l.SignatureData != nil
}

// CareLogInput is the request body for writing a daily log.
// Content is accepted for clients still posting the legacy single-field format.
type CareLogInput struct {
	Items     []string `json:"items"`
	Memo      string   `json:"memo"`
	Content   string   `json:"content,omitempty"`
	Signature *string  `json:"signature,omitempty"`
}

// Payment records what the guardian paid for the case (at most one per case).
type Payment struct {
	ID          uuid.UUID `json:"id" db:"id"`
	CaseID      uuid.UUID `json:"case_id" db:"case_id"`
	TotalAmount int64     `json:"total_amount" db:"total_amount"`
	PaidAt      time.Time `json:"paid_at" db:"paid_at"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// PaymentInput is the request body for saving a payment
type PaymentInput struct {
	TotalAmount int64  `json:"total_amount"`
	PaidAt      string `json:"paid_at"`
}

// ActivityAction enumerates the audited admin and guardian actions.
type ActivityAction string

const (
	ActionChangePeriod ActivityAction = "CHANGE_PERIOD"
	ActionForceEnd     ActivityAction = "FORCE_END"
	ActionDelete       ActivityAction = "DELETE_CASE"
	ActionExtend       ActivityAction = "EXTEND_CASE"
	ActionEarlyEnd     ActivityAction = "EARLY_END"
	ActionLinkResend   ActivityAction = "LINK_RESEND"
	ActionComplete     ActivityAction = "COMPLETE"
)

// ActivityLog is an append-only audit record.
type ActivityLog struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	CaseID    uuid.UUID       `json:"case_id" db:"case_id"`
	ActorID   uuid.UUID       `json:"actor_id" db:"actor_id"`
	Action    ActivityAction  `json:"action" db:"action"`
	Meta      json.RawMessage `json:"meta,omitempty" db:"meta"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Readiness is the outcome of a document readiness check.
type Readiness struct {
	OK      bool     `json:"ok"`
	Missing []string `json:"missing,omitempty"`
}

// TokenResolution is what a caregiver link resolves to.
// NextView tells the caller where to navigate: the agreement form or the log view.
type TokenResolution struct {
	Case              *Case      `json:"case"`
	CaregiverAgreedAt *time.Time `json:"caregiver_agreed_at,omitempty"`
	NextView          string     `json:"next_view"`
}

const (
	ViewAgreement = "agreement"
	ViewLogs      = "logs"
)

// CareLogView is the caregiver's log list: dates that may be listed so far and the logs written.
type CareLogView struct {
	ListableDates []string  `json:"listable_dates"`
	Logs          []CareLog `json:"logs"`
}

// DocumentData is the validated input handed to the rendering collaborator.
type DocumentData struct {
	Case    *Case     `json:"case"`
	Bank    *BankInfo `json:"bank,omitempty"`
	Logs    []CareLog `json:"logs"`
	Payment *Payment  `json:"payment"`
}

// MerkleProof contains the Merkle proof for a specific activity entry
type MerkleProof struct {
	LeafHash string      `json:"leaf_hash"`
	Root     string      `json:"root"`
	Proof    []ProofStep `json:"proof"`
	Index    int         `json:"index"`
	Verified bool        `json:"verified"`
}

// ProofStep is a single step in a Merkle proof path
type ProofStep struct {
	Hash     string `json:"hash"`
	Position string `json:"position"` // "left" | "right"
}

// HealthStatus represents the server health check response
type HealthStatus struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Uptime   string `json:"uptime"`
	Database string `json:"database"`
}
