// Package dataset turns raw tabular rows into validated user records.
package dataset

import "strings"

// Role is a backend user role. Matching is case-insensitive.
type Role string

const (
	RoleTeamMember    Role = "TEAM MEMBER"
	RoleManager       Role = "MANAGER"
	RoleMonitor       Role = "MONITOR"
	RoleAdministrator Role = "ADMINISTRATOR"
	RoleCompanyAdmin  Role = "COMPANY ADMINISTRATOR"
)

var validRoles = map[string]Role{
	string(RoleTeamMember):    RoleTeamMember,
	string(RoleManager):       RoleManager,
	string(RoleMonitor):       RoleMonitor,
	string(RoleAdministrator): RoleAdministrator,
	string(RoleCompanyAdmin):  RoleCompanyAdmin,
}

// ParseRole matches a raw value against the fixed role set, case-insensitively.
func ParseRole(raw string) (Role, bool) {
	role, ok := validRoles[strings.ToUpper(strings.TrimSpace(raw))]
	return role, ok
}

// UserRecord is one normalized row of the uploaded dataset. Records are never
// mutated in place; transformations return new records.
type UserRecord struct {
	Email        string
	FirstName    string
	LastName     string
	JobTitle     string
	MobileNumber string
	Teams        []string
	Role         Role
}

// WithTeams returns a copy of the record with a replaced team list.
func (r UserRecord) WithTeams(teams []string) UserRecord {
	out := r
	out.Teams = append([]string(nil), teams...)
	return out
}

// Canonical field names for the review file and header mapping.
const (
	FieldEmail        = "email"
	FieldFirstName    = "first name"
	FieldLastName     = "last name"
	FieldJobTitle     = "job title"
	FieldMobileNumber = "mobile number"
	FieldTeams        = "teams"
	FieldUserRole     = "user role"
)

// CanonicalHeaders is the expected header set for an exact-match submission.
func CanonicalHeaders() map[string]bool {
	return map[string]bool{
		FieldEmail:        true,
		FieldFirstName:    true,
		FieldLastName:     true,
		FieldJobTitle:     true,
		FieldMobileNumber: true,
		FieldTeams:        true,
		FieldUserRole:     true,
	}
}

// RejectedRow is a row that failed validation, with every reason collected.
type RejectedRow struct {
	Index   int // 1-based data row number, excluding the header
	Row     map[string]string
	Reasons []string
}

// ValidationResult partitions a dataset into valid records and rejected rows.
type ValidationResult struct {
	Valid   []UserRecord
	Invalid []RejectedRow
	Skipped int // entirely blank rows, neither valid nor invalid
}
