package dataset

import (
	"fmt"
	"strings"
)

// ValidateDataset applies the per-row rules in order, collecting every failing
// reason for a complete error message. It is pure: no I/O, no external calls.
// existingEmails is the set of emails already present in the backend,
// lower-cased by the caller or not (comparison here is case-insensitive).
func ValidateDataset(rows []map[string]string, existingEmails map[string]bool) ValidationResult {
	existing := make(map[string]bool, len(existingEmails))
	for e := range existingEmails {
		existing[strings.ToLower(strings.TrimSpace(e))] = true
	}

	// First occurrence of an email claims it; later rows are duplicates.
	seen := make(map[string]bool)

	var result ValidationResult
	for i, row := range rows {
		if isBlankRow(row) {
			result.Skipped++
			continue
		}

		var reasons []string

		email := strings.TrimSpace(row[FieldEmail])
		lower := strings.ToLower(email)
		switch {
		case email == "":
			reasons = append(reasons, "missing email")
		case seen[lower]:
			reasons = append(reasons, "duplicate email")
		case existing[lower]:
			reasons = append(reasons, "email already exists")
		default:
			seen[lower] = true
		}

		firstName := strings.TrimSpace(row[FieldFirstName])
		if firstName == "" {
			reasons = append(reasons, "missing first name")
		}
		lastName := strings.TrimSpace(row[FieldLastName])
		if lastName == "" {
			reasons = append(reasons, "missing last name")
		}

		role, ok := ParseRole(row[FieldUserRole])
		if !ok {
			reasons = append(reasons, fmt.Sprintf("unknown role: %s", strings.TrimSpace(row[FieldUserRole])))
		}

		mobile := strings.TrimSpace(row[FieldMobileNumber])
		if mobile == "" {
			mobile = "0"
		}

		teams := SplitTeams(row[FieldTeams])
		if len(teams) == 0 {
			reasons = append(reasons, "no teams specified")
		}

		if len(reasons) > 0 {
			result.Invalid = append(result.Invalid, RejectedRow{
				Index:   i + 1,
				Row:     row,
				Reasons: reasons,
			})
			continue
		}

		result.Valid = append(result.Valid, UserRecord{
			Email:        email,
			FirstName:    firstName,
			LastName:     lastName,
			JobTitle:     strings.TrimSpace(row[FieldJobTitle]),
			MobileNumber: mobile,
			Teams:        teams,
			Role:         role,
		})
	}

	return result
}

// SplitTeams splits a raw teams cell on the literal | separator, trimming each
// piece and discarding empties.
func SplitTeams(raw string) []string {
	var teams []string
	for _, piece := range strings.Split(raw, "|") {
		piece = strings.TrimSpace(piece)
		if piece != "" {
			teams = append(teams, piece)
		}
	}
	return teams
}

func isBlankRow(row map[string]string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
