package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// AdmissionStatus is the persisted top-level status of an admission record.
type AdmissionStatus string

const (
	AdmissionStatusUnderReview AdmissionStatus = "under_review"
	AdmissionStatusApproved    AdmissionStatus = "approved"
	AdmissionStatusRejected    AdmissionStatus = "rejected"
	AdmissionStatusTransferred AdmissionStatus = "transferred"
)

// TransferApproval tracks the student's answer to a transfer offer.
type TransferApproval string

const (
	TransferPendingStudentApproval TransferApproval = "pending_student_approval"
	TransferAcceptedByStudent      TransferApproval = "accepted_by_student"
	TransferRejectedByStudent      TransferApproval = "rejected_by_student"
)

// Valid reports whether the approval is a known value.
func (a TransferApproval) Valid() bool {
	switch a {
	case TransferPendingStudentApproval, TransferAcceptedByStudent, TransferRejectedByStudent:
		return true
	}
	return false
}

// IsResponse reports whether a student may answer an offer with this value.
func (a TransferApproval) IsResponse() bool {
	return a == TransferAcceptedByStudent || a == TransferRejectedByStudent
}

// AdmissionState is the lifecycle stage of an admission. Only the types in
// this file implement it, so a record cannot carry a transfer target without
// being in a transfer stage.
type AdmissionState interface {
	Status() AdmissionStatus
	admissionState()
}

// UnderReview awaits a decision by the owning school.
type UnderReview struct{}

// Approved has been accepted by the owning school.
type Approved struct{}

// Rejected is terminal. ByStudent is set when the record was rejected because
// the student declined a transfer offer; ToSchoolID then names the school
// that made the declined offer.
type Rejected struct {
	ByStudent  bool
	ToSchoolID string
}

// TransferOffered marks a record offered to another school.
type TransferOffered struct {
	ToSchoolID string
	Approval   TransferApproval
}

func (UnderReview) Status() AdmissionStatus     { return AdmissionStatusUnderReview }
func (Approved) Status() AdmissionStatus        { return AdmissionStatusApproved }
func (Rejected) Status() AdmissionStatus        { return AdmissionStatusRejected }
func (TransferOffered) Status() AdmissionStatus { return AdmissionStatusTransferred }

func (UnderReview) admissionState()     {}
func (Approved) admissionState()        {}
func (Rejected) admissionState()        {}
func (TransferOffered) admissionState() {}

// ErrIllegalAdmissionState is returned when persisted columns describe an
// impossible combination.
var ErrIllegalAdmissionState = errors.New("illegal admission state")

// DecodeAdmissionState rebuilds the lifecycle variant from flat columns.
func DecodeAdmissionState(status AdmissionStatus, toSchoolID string, approval TransferApproval) (AdmissionState, error) {
	switch status {
	case AdmissionStatusUnderReview, AdmissionStatusApproved:
		if toSchoolID != "" || approval != "" {
			return nil, fmt.Errorf("%w: %s with transfer fields", ErrIllegalAdmissionState, status)
		}
		if status == AdmissionStatusApproved {
			return Approved{}, nil
		}
		return UnderReview{}, nil
	case AdmissionStatusRejected:
		switch approval {
		case "":
			if toSchoolID != "" {
				return nil, fmt.Errorf("%w: rejected with transfer target but no response", ErrIllegalAdmissionState)
			}
			return Rejected{}, nil
		case TransferRejectedByStudent:
			if toSchoolID == "" {
				return nil, fmt.Errorf("%w: student rejection without transfer target", ErrIllegalAdmissionState)
			}
			return Rejected{ByStudent: true, ToSchoolID: toSchoolID}, nil
		default:
			return nil, fmt.Errorf("%w: rejected with transfer status %q", ErrIllegalAdmissionState, approval)
		}
	case AdmissionStatusTransferred:
		if toSchoolID == "" {
			return nil, fmt.Errorf("%w: transferred without target school", ErrIllegalAdmissionState)
		}
		if approval != TransferPendingStudentApproval && approval != TransferAcceptedByStudent {
			return nil, fmt.Errorf("%w: transferred with transfer status %q", ErrIllegalAdmissionState, approval)
		}
		return TransferOffered{ToSchoolID: toSchoolID, Approval: approval}, nil
	}
	return nil, fmt.Errorf("%w: unknown status %q", ErrIllegalAdmissionState, status)
}

// EncodeAdmissionState flattens a lifecycle variant into persisted columns.
func EncodeAdmissionState(state AdmissionState) (AdmissionStatus, string, TransferApproval) {
	switch s := state.(type) {
	case TransferOffered:
		return AdmissionStatusTransferred, s.ToSchoolID, s.Approval
	case Rejected:
		if s.ByStudent {
			return AdmissionStatusRejected, s.ToSchoolID, TransferRejectedByStudent
		}
		return AdmissionStatusRejected, "", ""
	case Approved:
		return AdmissionStatusApproved, "", ""
	default:
		return AdmissionStatusUnderReview, "", ""
	}
}

// SubjectResult is one line of an applicant's academic results.
type SubjectResult struct {
	Subject string `json:"subject"`
	Grade   string `json:"grade"`
	Score   *int   `json:"score,omitempty"`
}

// AcademicRecord is the applicant's academic snapshot captured at admission.
type AcademicRecord struct {
	FullName       string          `json:"fullName"`
	Gender         string          `json:"gender,omitempty"`
	DateOfBirth    string          `json:"dateOfBirth,omitempty"`
	SchoolName     string          `json:"schoolName,omitempty"`
	IndexNumber    string          `json:"indexNumber,omitempty"`
	AggregateScore *int            `json:"aggregateScore,omitempty"`
	Results        []SubjectResult `json:"results,omitempty"`
}

// Value implements driver.Valuer storing the record as JSONB.
func (r AcademicRecord) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// Scan implements sql.Scanner.
func (r *AcademicRecord) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*r = AcademicRecord{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("academic record: unsupported scan type %T", src)
	}
	return json.Unmarshal(raw, r)
}

// ALevelCombination is the subject group chosen by an A-Level applicant.
type ALevelCombination struct {
	Group  string `json:"group"`
	Choice string `json:"choice"`
}

// CompletedAdmission is one applicant's admission record owned by one school.
type CompletedAdmission struct {
	ID          string
	SchoolID    string
	ApplicantID string
	Data        AcademicRecord
	TargetClass string
	Combination *ALevelCombination
	State       AdmissionState
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Status returns the persisted status of the current state.
func (a *CompletedAdmission) Status() AdmissionStatus {
	if a.State == nil {
		return AdmissionStatusUnderReview
	}
	return a.State.Status()
}

// PendingOffer returns the transfer offer when the record awaits the student's answer.
func (a *CompletedAdmission) PendingOffer() (TransferOffered, bool) {
	offer, ok := a.State.(TransferOffered)
	if !ok || offer.Approval != TransferPendingStudentApproval {
		return TransferOffered{}, false
	}
	return offer, true
}

type admissionJSON struct {
	ID                 string             `json:"id"`
	SchoolID           string             `json:"schoolId"`
	ApplicantID        string             `json:"applicantId"`
	Data               AcademicRecord     `json:"data"`
	Status             AdmissionStatus    `json:"status"`
	TargetClass        string             `json:"targetClass"`
	Combination        *ALevelCombination `json:"combination,omitempty"`
	TransferToSchoolID string             `json:"transferToSchoolId,omitempty"`
	TransferStatus     TransferApproval   `json:"transferStatus,omitempty"`
	Timestamp          time.Time          `json:"timestamp"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

// MarshalJSON emits the flat wire form.
func (a CompletedAdmission) MarshalJSON() ([]byte, error) {
	status, to, approval := EncodeAdmissionState(a.State)
	return json.Marshal(admissionJSON{
		ID:                 a.ID,
		SchoolID:           a.SchoolID,
		ApplicantID:        a.ApplicantID,
		Data:               a.Data,
		Status:             status,
		TargetClass:        a.TargetClass,
		Combination:        a.Combination,
		TransferToSchoolID: to,
		TransferStatus:     approval,
		Timestamp:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	})
}

// UnmarshalJSON validates the flat wire form into a lifecycle variant.
func (a *CompletedAdmission) UnmarshalJSON(raw []byte) error {
	var payload admissionJSON
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	state, err := DecodeAdmissionState(payload.Status, payload.TransferToSchoolID, payload.TransferStatus)
	if err != nil {
		return err
	}
	*a = CompletedAdmission{
		ID:          payload.ID,
		SchoolID:    payload.SchoolID,
		ApplicantID: payload.ApplicantID,
		Data:        payload.Data,
		TargetClass: payload.TargetClass,
		Combination: payload.Combination,
		State:       state,
		CreatedAt:   payload.Timestamp,
		UpdatedAt:   payload.UpdatedAt,
	}
	return nil
}

// AdmissionDecision is a school's review outcome for an under-review record.
type AdmissionDecision string

const (
	AdmissionDecisionApprove AdmissionDecision = "approve"
	AdmissionDecisionReject  AdmissionDecision = "reject"
)
