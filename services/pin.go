package services

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
)

const (
	pinMin  = 1000
	pinSpan = 9000
)

// GeneratePin returns a 4-digit PIN in [1000, 9999] drawn from crypto/rand.
func GeneratePin() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(pinSpan))
	if err != nil {
		return "", fmt.Errorf("failed to generate pin: %w", err)
	}
	return strconv.Itoa(pinMin + int(n.Int64())), nil
}

// HashPin is the deterministic digest stored in place of a PIN.
func HashPin(pin string) string {
	sum := sha256.Sum256([]byte(pin))
	return hex.EncodeToString(sum[:])
}

// IsPinFormat reports whether pin is exactly four ASCII digits.
func IsPinFormat(pin string) bool {
	if len(pin) != 4 {
		return false
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return false
		}
	}
	return true
}
