// Package fingerprint gives attached files a stable content identity so a
// later run can tell whether the bytes a human approved are still the bytes
// on the ticket.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint identifies one attached file. Two fingerprints are equal iff
// Filename and ContentHash both match; SizeBytes is informational only.
type Fingerprint struct {
	Filename    string `json:"filename"`
	ContentHash string `json:"content_hash"`
	SizeBytes   int64  `json:"size_bytes"`
}

// New computes the fingerprint of a file's raw bytes. Pure and deterministic.
func New(filename string, content []byte) Fingerprint {
	sum := sha256.Sum256(content)
	return Fingerprint{
		Filename:    filename,
		ContentHash: hex.EncodeToString(sum[:]),
		SizeBytes:   int64(len(content)),
	}
}

// ShortHash returns a short digest prefix for human-readable messages.
func (f Fingerprint) ShortHash() string {
	if len(f.ContentHash) < 12 {
		return f.ContentHash
	}
	return f.ContentHash[:12]
}

// Diff is the outcome of comparing the current attachment set against the one
// recorded in an approval request.
type Diff struct {
	Valid    bool
	Added    []string
	Removed  []string
	Modified []string
}

// Compare builds filename-to-digest maps for both sides and reports every
// filename that was added, removed, or modified. Valid is true iff all three
// lists are empty.
func Compare(current, recorded []Fingerprint) Diff {
	currentByName := make(map[string]string, len(current))
	for _, f := range current {
		currentByName[f.Filename] = f.ContentHash
	}
	recordedByName := make(map[string]string, len(recorded))
	for _, f := range recorded {
		recordedByName[f.Filename] = f.ContentHash
	}

	diff := Diff{}
	for _, f := range current {
		recordedHash, ok := recordedByName[f.Filename]
		switch {
		case !ok:
			diff.Added = append(diff.Added, f.Filename)
		case recordedHash != f.ContentHash:
			diff.Modified = append(diff.Modified, f.Filename)
		}
	}
	for _, f := range recorded {
		if _, ok := currentByName[f.Filename]; !ok {
			diff.Removed = append(diff.Removed, f.Filename)
		}
	}

	diff.Valid = len(diff.Added) == 0 && len(diff.Removed) == 0 && len(diff.Modified) == 0
	return diff
}
