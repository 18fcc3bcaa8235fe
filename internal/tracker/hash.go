package tracker

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"

	"gtm-datalayer/internal/model"
)

// Hash normalizes and digests an identifying value before it leaves the
// pipeline. Empty or whitespace-only input yields ok=false; an empty string
// is never hashed. caseNormalize lower-cases the value (emails) and is left
// off for phone numbers.
func Hash(value string, caseNormalize bool) (digest string, ok bool) {
	v := strings.TrimSpace(norm.NFKC.String(value))
	if v == "" {
		return "", false
	}
	if caseNormalize {
		v = strings.ToLower(v)
	}
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:]), true
}

// HashUserData digests email and phone. Returns nil when neither is present.
// Callers build the event payload only after this returns.
func HashUserData(email, phone string) *model.UserData {
	var u model.UserData
	if d, ok := Hash(email, true); ok {
		u.EmailSHA256 = d
	}
	if d, ok := Hash(phone, false); ok {
		u.PhoneSHA256 = d
	}
	if u.IsEmpty() {
		return nil
	}
	return &u
}
