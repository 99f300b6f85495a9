package protocol

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/babylon-markets/a2a/types"
)

// Challenge verification errors.
var (
	ErrStaleTimestamp  = errors.New("protocol: handshake timestamp too old")
	ErrFutureTimestamp = errors.New("protocol: handshake timestamp in the future")
	ErrBadSignature    = errors.New("protocol: malformed signature")
	ErrAddressMismatch = errors.New("protocol: signature does not recover to claimed address")
)

// FreshnessWindow bounds how far a handshake timestamp may drift from the
// verifier's clock.
type FreshnessWindow struct {
	MaxAge  time.Duration // how far in the past a timestamp may lie
	MaxSkew time.Duration // allowed future clock skew
}

// DefaultFreshnessWindow matches the upstream platform defaults.
func DefaultFreshnessWindow() FreshnessWindow {
	return FreshnessWindow{MaxAge: 5 * time.Minute, MaxSkew: 30 * time.Second}
}

// BuildChallenge produces the canonical human-readable challenge string.
// Both sides must build it byte-for-byte identically; timestamp is Unix
// milliseconds.
func BuildChallenge(address string, tokenID uint64, timestampMs int64) string {
	return fmt.Sprintf("A2A Authentication\n\nAgent: %s\nToken: %d\nTimestamp: %d",
		address, tokenID, timestampMs)
}

// RecoverSigner recovers the address that produced an EIP-191 personal-sign
// signature over the challenge string. Accepts signatures with or without a
// 0x prefix and with either 0/1 or 27/28 recovery ids.
func RecoverSigner(challenge, signature string) (common.Address, error) {
	sigHex := strings.TrimPrefix(signature, "0x")
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrBadSignature, len(sig))
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig = append([]byte(nil), sig...)
		sig[crypto.RecoveryIDOffset] -= 27
	}

	hash := accounts.TextHash([]byte(challenge))
	pubKey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}

// VerifyCredentials checks timestamp freshness and that the signature over
// the recomputed challenge recovers to the claimed address. Token ownership
// is a separate registry check.
func VerifyCredentials(creds types.AgentCredentials, now time.Time, window FreshnessWindow) error {
	ts := time.UnixMilli(creds.Timestamp)
	if now.Sub(ts) > window.MaxAge {
		return ErrStaleTimestamp
	}
	if ts.Sub(now) > window.MaxSkew {
		return ErrFutureTimestamp
	}

	challenge := BuildChallenge(creds.Address, creds.TokenID, creds.Timestamp)
	recovered, err := RecoverSigner(challenge, creds.Signature)
	if err != nil {
		return err
	}
	if !strings.EqualFold(recovered.Hex(), creds.Address) {
		return ErrAddressMismatch
	}
	return nil
}
