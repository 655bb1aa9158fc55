package util

import (
	"regexp"
	"strings"

	apperrors "github.com/openclaw/wa-orchestrator-go/internal/errors"
)

// E.164 length bounds, without the leading plus.
const (
	PhoneMinDigits = 8
	PhoneMaxDigits = 15
)

var nonDigits = regexp.MustCompile(`[^\d]`)

// SessionDirPattern matches directory names that are valid session ids.
var SessionDirPattern = regexp.MustCompile(`^\d{8,15}$`)

// Digits strips everything but ASCII digits.
func Digits(s string) string {
	return nonDigits.ReplaceAllString(s, "")
}

// NormalizePhone reduces s to digits and validates E.164 bounds.
func NormalizePhone(s string) (string, error) {
	n := Digits(s)
	if len(n) < PhoneMinDigits || len(n) > PhoneMaxDigits {
		return "", apperrors.Validation("phone must be 8-15 digits (E.164 without separator)")
	}
	return n, nil
}

// FormatCode groups a pairing code as XXXX-XXXX for display.
func FormatCode(code string) string {
	if code == "" {
		return ""
	}
	var b strings.Builder
	for i, r := range code {
		if i > 0 && i%4 == 0 {
			b.WriteByte('-')
		}
		b.WriteRune(r)
	}
	return b.String()
}
