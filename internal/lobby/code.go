// internal/lobby/code.go
package lobby

import "math/rand/v2"

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 6
)

// randomCode draws one candidate code. Uniqueness is the caller's job.
func randomCode(intn func(int) int) string {
	if intn == nil {
		intn = rand.IntN
	}
	b := make([]byte, codeLength)
	for i := range b {
		b[i] = codeAlphabet[intn(len(codeAlphabet))]
	}
	return string(b)
}

// ValidCode reports whether s has the shape of a lobby code.
func ValidCode(s string) bool {
	if len(s) != codeLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'A' && c <= 'Z') && !(c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}
