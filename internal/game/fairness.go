package game

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
)

const (
	MIN_MULTIPLIER     = 1.00
	MAX_MULTIPLIER     = 1000000.00
	DEFAULT_HOUSE_EDGE = 0.01 // 1%
)

// GenerateSeed creates a cryptographically secure random server seed
func GenerateSeed() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// HashCommitment binds the server seed to a round before betting opens.
// The commitment is SHA256(seed:roundID), so the seed cannot be swapped
// for a different round after the fact.
func HashCommitment(seed string, roundID int64) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s:%d", seed, roundID)
	return hex.EncodeToString(h.Sum(nil))
}

// DeriveCrashPoint maps (seed, roundID) to the crash multiplier.
//
// HMAC-SHA256 keyed by the seed over the decimal round id yields 64
// uniform bits; those become r in [0,1). A draw inside the house edge
// busts instantly at 1.00, otherwise the multiplier is
// (1-edge)/(1-r) floored to two decimals. The floor (not round-nearest)
// is part of the contract: independent verifiers must agree bit-for-bit.
func DeriveCrashPoint(seed string, roundID int64, houseEdge float64) float64 {
	mac := hmac.New(sha256.New, []byte(seed))
	fmt.Fprintf(mac, "%d", roundID)
	sum := mac.Sum(nil)

	r := float64(binary.BigEndian.Uint64(sum[:8])) / float64(1<<63) / 2

	if r < houseEdge {
		return MIN_MULTIPLIER
	}

	crash := (1.0 - houseEdge) / (1.0 - r)
	crash = math.Floor(crash*100) / 100

	if crash < MIN_MULTIPLIER {
		return MIN_MULTIPLIER
	}
	if crash > MAX_MULTIPLIER {
		return MAX_MULTIPLIER
	}
	return crash
}

// VerifyCommitment recomputes the commitment for a revealed seed and
// compares it against the published hash.
func VerifyCommitment(seed string, roundID int64, commitment string) bool {
	expected := HashCommitment(seed, roundID)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(commitment)) == 1
}
