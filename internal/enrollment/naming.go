package enrollment

import (
	"crypto/md5" // #nosec G501 -- fingerprint for a name, not a security boundary
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

const (
	prefixLead       = "v"
	userHashLength   = 6
	randomSuffixLen  = 4
	maxPrefixLength  = 10
	base36Alphabet   = "0123456789abcdefghijklmnopqrstuvwxyz"
	fallbackPrefixID = "anonymous"
)

// PrefixGenerator derives the short name prefix the service attaches to an
// enrolled voice. Prefixes share a stable per-user part so a user's voices
// group together, and a random part so repeated enrollments differ.
type PrefixGenerator struct {
	random io.Reader
}

// NewPrefixGenerator returns a generator reading randomness from random, or
// from crypto/rand when random is nil.
func NewPrefixGenerator(random io.Reader) *PrefixGenerator {
	if random == nil {
		random = rand.Reader
	}

	return &PrefixGenerator{random: random}
}

// Generate returns at most ten lowercase ASCII letters and digits.
func (g *PrefixGenerator) Generate(userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		userID = fallbackPrefixID
	}

	sum := md5.Sum([]byte(userID)) // #nosec G401
	userHash := hex.EncodeToString(sum[:])[:userHashLength]

	randomBytes := make([]byte, randomSuffixLen)

	_, err := io.ReadFull(g.random, randomBytes)
	if err != nil {
		return "", fmt.Errorf("failed to read random suffix: %w", err)
	}

	suffix := make([]byte, randomSuffixLen)
	for i, b := range randomBytes {
		suffix[i] = base36Alphabet[int(b)%len(base36Alphabet)]
	}

	return sanitizePrefix(prefixLead + userHash + string(suffix)), nil
}

func sanitizePrefix(raw string) string {
	var builder strings.Builder

	for _, r := range strings.ToLower(raw) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			builder.WriteRune(r)
		}

		if builder.Len() == maxPrefixLength {
			break
		}
	}

	return builder.String()
}
