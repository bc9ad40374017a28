package challenge

import (
	"crypto/rand"
	"fmt"
	"math/big"

	dErrors "sign-gateway/pkg/domainerrors"
)

const codeDigits = 6

var codeSpace = big.NewInt(1_000_000)

// GenerateCode draws a fresh 6-digit challenge code from crypto/rand.
// Leading zeros are preserved.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "generating challenge code")
	}
	return fmt.Sprintf("%0*d", codeDigits, n), nil
}
