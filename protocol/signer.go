package protocol

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer produces signatures over handshake challenges. The engine consumes
// signatures; wallet custody lives behind this boundary.
type Signer interface {
	// Sign returns a hex-encoded EIP-191 personal-sign signature.
	Sign(message string) (string, error)
	// Address returns the checksummed address the signatures recover to.
	Address() string
}

// KeySigner signs with an in-process secp256k1 private key. Suitable for
// local agents and tests; production agents plug in a wallet-backed Signer.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address string
}

// NewKeySigner parses a hex private key (with or without 0x prefix).
func NewKeySigner(privateKeyHex string) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &KeySigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey).Hex(),
	}, nil
}

// GenerateKeySigner creates a signer with a fresh random key.
func GenerateKeySigner() (*KeySigner, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &KeySigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey).Hex(),
	}, nil
}

// Sign implements Signer.
func (s *KeySigner) Sign(message string) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), s.key)
	if err != nil {
		return "", fmt.Errorf("sign challenge: %w", err)
	}
	// Wallets emit 27/28 recovery ids; match them.
	sig[crypto.RecoveryIDOffset] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// Address implements Signer.
func (s *KeySigner) Address() string {
	return s.address
}
