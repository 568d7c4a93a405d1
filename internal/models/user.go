package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleSuperAdmin  UserRole = "SUPERADMIN"
	RoleSchoolAdmin UserRole = "SCHOOL_ADMIN"
	RoleStudent     UserRole = "STUDENT"
)

// User is an account able to act for a school or as a student.
// School admins carry SchoolID; students carry StudentID.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"full_name"`
	Role         UserRole   `db:"role" json:"role"`
	SchoolID     *string    `db:"school_id" json:"school_id,omitempty"`
	StudentID    *string    `db:"student_id" json:"student_id,omitempty"`
	Active       bool       `db:"active" json:"active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Info returns the public view of the account with its tenant binding.
func (u *User) Info() UserInfo {
	info := UserInfo{ID: u.ID, Email: u.Email, FullName: u.FullName, Role: u.Role}
	if u.SchoolID != nil {
		info.SchoolID = *u.SchoolID
	}
	if u.StudentID != nil {
		info.StudentID = *u.StudentID
	}
	return info
}
