package models

// SchoolIdentity is the resolved identity of a tenant school.
type SchoolIdentity struct {
	ID     string `db:"id" json:"id"`
	Name   string `db:"name" json:"name"`
	Active bool   `db:"active" json:"active"`
}

// StudentIdentity is the resolved identity of a student or applicant.
type StudentIdentity struct {
	ID       string `db:"id" json:"id"`
	FullName string `db:"full_name" json:"fullName"`
	SchoolID string `db:"school_id" json:"schoolId,omitempty"`
}
