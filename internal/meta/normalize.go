package meta

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var hashedValue = regexp.MustCompile(`^[a-f0-9]{64}$`)

func HashSHA256(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// IsHashed reports whether value already is a hex SHA-256 digest.
func IsHashed(value string) bool {
	return hashedValue.MatchString(strings.ToLower(value))
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeText lower-cases and strips accents, for names and cities.
func NormalizeText(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(s))
	}
	return out
}

func NormalizeCode(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// SplitFullName splits on the first run of whitespace:
// "João da Silva" gives "João" and "da Silva".
func SplitFullName(fullName string) (first, last string) {
	parts := strings.Fields(fullName)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}

func hashWith(value string, normalize func(string) string) string {
	if value == "" {
		return ""
	}
	if IsHashed(value) {
		return strings.ToLower(value)
	}
	n := normalize(value)
	if n == "" {
		return ""
	}
	return HashSHA256(n)
}
