package solana

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/blocto/solana-go-sdk/common"
	"github.com/mr-tron/base58"
)

// Address errors.
var (
	// ErrInvalidPublicKey is returned when a string is not a 32-byte base58 key.
	ErrInvalidPublicKey = errors.New("invalid public key")

	// ErrNoViableBump is returned when no bump seed yields an off-curve address.
	ErrNoViableBump = errors.New("unable to find a viable program address bump seed")

	// ErrSeedTooLong is returned when a PDA seed exceeds 32 bytes.
	ErrSeedTooLong = errors.New("seed exceeds 32 bytes")
)

const (
	publicKeyLength = 32
	maxSeedLength   = 32
)

// ParsePublicKey decodes a base58 address, rejecting anything that is not exactly 32 bytes.
func ParsePublicKey(s string) (common.PublicKey, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return common.PublicKey{}, fmt.Errorf("%w: %q: %v", ErrInvalidPublicKey, s, err)
	}
	if len(raw) != publicKeyLength {
		return common.PublicKey{}, fmt.Errorf("%w: %q decodes to %d bytes", ErrInvalidPublicKey, s, len(raw))
	}
	return common.PublicKeyFromBytes(raw), nil
}

// IsOnCurve reports whether the key is a valid ed25519 point, i.e. can have a private key.
func IsOnCurve(pk common.PublicKey) bool {
	return isOnCurve(pk[:])
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}

// FindProgramAddress derives a Program Derived Address using the Solana algorithm:
// hash(seeds || bump || programID || "ProgramDerivedAddress"), walking the bump
// down from 255 until the hash falls off the ed25519 curve.
func FindProgramAddress(seeds [][]byte, programID common.PublicKey) (common.PublicKey, uint8, error) {
	for _, seed := range seeds {
		if len(seed) > maxSeedLength {
			return common.PublicKey{}, 0, ErrSeedTooLong
		}
	}

	for bump := byte(255); bump > 0; bump-- {
		data := make([]byte, 0, 64)
		for _, seed := range seeds {
			data = append(data, seed...)
		}
		data = append(data, bump)
		data = append(data, programID[:]...)
		data = append(data, []byte("ProgramDerivedAddress")...)

		hash := sha256.Sum256(data)

		if !isOnCurve(hash[:]) {
			return common.PublicKeyFromBytes(hash[:]), bump, nil
		}
	}

	return common.PublicKey{}, 0, ErrNoViableBump
}
