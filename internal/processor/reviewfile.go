package processor

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/provtools/userbot/internal/dataset"
)

// ReviewFileName is the fixed name of the generated review file. It never
// changes so later runs can locate and re-fingerprint it.
const ReviewFileName = "userbot-review.csv"

var reviewHeaders = []string{
	"Email", "First Name", "Last Name", "Job Title", "Mobile Number", "Teams", "User Role",
}

// WriteReviewCSV renders the post-split valid records as the review file a
// human inspects before approving.
func WriteReviewCSV(records []dataset.UserRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(reviewHeaders); err != nil {
		return nil, fmt.Errorf("write review header: %w", err)
	}
	for _, rec := range records {
		row := []string{
			rec.Email,
			rec.FirstName,
			rec.LastName,
			rec.JobTitle,
			rec.MobileNumber,
			strings.Join(rec.Teams, "|"),
			string(rec.Role),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write review row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush review file: %w", err)
	}
	return buf.Bytes(), nil
}
