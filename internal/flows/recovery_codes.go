package flows

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// RecoveryCodeAlphabet omits characters that are easy to misread (0/O, 1/I).
const RecoveryCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewRecoveryCodes returns count random codes of length characters.
func NewRecoveryCodes(count, length int) ([]string, error) {
	max := big.NewInt(int64(len(RecoveryCodeAlphabet)))
	codes := make([]string, 0, count)
	seen := make(map[string]struct{}, count)

	for len(codes) < count {
		var b strings.Builder
		b.Grow(length)
		for i := 0; i < length; i++ {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return nil, err
			}
			b.WriteByte(RecoveryCodeAlphabet[n.Int64()])
		}
		code := b.String()
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	return codes, nil
}

// NormalizeRecoveryCode uppercases and strips separators users tend to type.
func NormalizeRecoveryCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	return strings.NewReplacer("-", "", " ", "").Replace(code)
}

// LooksLikeRecoveryCode reports whether a normalized code can possibly match.
func LooksLikeRecoveryCode(code string, length int) bool {
	if len(code) != length {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(RecoveryCodeAlphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}

// HashRecoveryCodes hashes every code with hash.
func HashRecoveryCodes(codes []string, hash func(string) (string, error)) ([]string, error) {
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		h, err := hash(c)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

// MatchRecoveryCode returns the stored hash matching code, if any.
func MatchRecoveryCode(code string, hashes []string, verify func(code, hash string) (bool, error)) (string, bool) {
	for _, h := range hashes {
		ok, err := verify(code, h)
		if err == nil && ok {
			return h, true
		}
	}
	return "", false
}
