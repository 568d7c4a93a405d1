package models

import "time"

// ProposalGender describes the student mix offered by a proposal.
type ProposalGender string

const (
	ProposalGenderMale   ProposalGender = "Male"
	ProposalGenderFemale ProposalGender = "Female"
	ProposalGenderMixed  ProposalGender = "Mixed"
)

// Valid reports whether the gender is a supported value.
func (g ProposalGender) Valid() bool {
	switch g {
	case ProposalGenderMale, ProposalGenderFemale, ProposalGenderMixed:
		return true
	}
	return false
}

// ProposalStatus captures marketplace visibility of a proposal.
type ProposalStatus string

const (
	ProposalStatusOpen   ProposalStatus = "open"
	ProposalStatusClosed ProposalStatus = "closed"
)

// TransferProposal is a school's public offer of a batch of students.
type TransferProposal struct {
	ID                string         `db:"id" json:"id"`
	ProposingSchoolID string         `db:"proposing_school_id" json:"proposingSchoolId"`
	NumberOfStudents  int            `db:"number_of_students" json:"numberOfStudents"`
	Gender            ProposalGender `db:"gender" json:"gender"`
	Grade             string         `db:"grade" json:"grade"`
	Description       string         `db:"description" json:"description,omitempty"`
	Status            ProposalStatus `db:"status" json:"status"`
	CreatedAt         time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updatedAt"`
}

// ProposalFilter constrains proposal listings.
type ProposalFilter struct {
	Status          ProposalStatus
	ProposingSchool string
	ExcludingSchool string
}

// NegotiationMessage is one entry in a negotiation thread.
type NegotiationMessage struct {
	ID            string    `db:"id" json:"id"`
	NegotiationID string    `db:"negotiation_id" json:"-"`
	Seq           int64     `db:"seq" json:"-"`
	SenderID      string    `db:"sender_id" json:"senderId"`
	SenderName    string    `db:"sender_name" json:"senderName"`
	Content       string    `db:"content" json:"content"`
	Timestamp     time.Time `db:"created_at" json:"timestamp"`
}

// TransferNegotiation is a private thread between a proposing school and one
// interested school about one proposal.
type TransferNegotiation struct {
	ID                 string               `db:"id" json:"id"`
	ProposalID         string               `db:"proposal_id" json:"proposalId"`
	ProposingSchoolID  string               `db:"proposing_school_id" json:"proposingSchoolId"`
	InterestedSchoolID string               `db:"interested_school_id" json:"interestedSchoolId"`
	CreatedAt          time.Time            `db:"created_at" json:"createdAt"`
	Messages           []NegotiationMessage `db:"-" json:"messages"`
}

// HasParty reports whether schoolID is one of the negotiating schools.
func (n *TransferNegotiation) HasParty(schoolID string) bool {
	return schoolID != "" && (n.ProposingSchoolID == schoolID || n.InterestedSchoolID == schoolID)
}

// Counterparty returns the other school in the negotiation.
func (n *TransferNegotiation) Counterparty(schoolID string) string {
	if n.ProposingSchoolID == schoolID {
		return n.InterestedSchoolID
	}
	return n.ProposingSchoolID
}
