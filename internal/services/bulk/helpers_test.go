package bulk

import (
	"crypto/sha256"
	"encoding/hex"
)

func hashBytes(b []byte) (string, error) {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
