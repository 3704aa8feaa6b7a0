// Package domain contains entities without logic, just meta-data.
package domain

import "errors"

const MaxDisplayNameLen = 64

var ErrDisplayNameEmpty = errors.New("display name empty")

type SubjectID string

// VerifiedIdentity is the trusted output of the identity verifier.
// It is produced fresh per request and never sourced from the request
// body; client-supplied identity fields are ignored everywhere.
type VerifiedIdentity struct {
	Subject     SubjectID
	DisplayName string
	Email       string
}

// SanitizeDisplayName strips control characters and caps the length.
// Unlike room ids, display names keep their case and spacing.
func SanitizeDisplayName(raw string) string {
	out := make([]rune, 0, len(raw))
	for _, r := range raw {
		if r < 0x20 || r == 0x7f {
			continue
		}
		out = append(out, r)
		if len(out) >= MaxDisplayNameLen {
			break
		}
	}
	return string(out)
}
