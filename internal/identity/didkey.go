// Package identity implements the node's self-certifying identifiers
// (did:key), HTTP request signing/verification, and unit proof
// sign/verify, per the protocol's identity and signature layer.
package identity

import (
	"crypto/ed25519"
	"fmt"

	"github.com/mr-tron/base58"
)

// multicodec prefix for Ed25519 public keys, per the did:key method spec:
// varint-encoded 0xed01.
var ed25519Multicodec = []byte{0xed, 0x01}

// DID derives a did:key identifier from an Ed25519 public key.
func DID(pub ed25519.PublicKey) string {
	buf := make([]byte, 0, len(ed25519Multicodec)+len(pub))
	buf = append(buf, ed25519Multicodec...)
	buf = append(buf, pub...)
	return "did:key:z" + base58.Encode(buf)
}

// DecodeDID decodes a did:key identifier back to its Ed25519 public key.
func DecodeDID(did string) (ed25519.PublicKey, error) {
	const prefix = "did:key:z"
	if len(did) <= len(prefix) || did[:len(prefix)] != prefix {
		return nil, fmt.Errorf("identity: %q is not a did:key identifier", did)
	}
	return decodeMultikey(did[len(prefix)-1:])
}

// DecodePublicKeyMultibase decodes an agent profile's public_key_multibase
// field, the same "z" + base58btc(0xed 0x01 || key) multikey encoding used
// by did:key, but without requiring the did:key: identifier wrapper. Used
// by RequireAuth, which verifies against the registered key rather than
// one decoded from the caller's identifier (spec §4.2).
func DecodePublicKeyMultibase(mb string) (ed25519.PublicKey, error) {
	return decodeMultikey(mb)
}

// decodeMultikey decodes a "z"-prefixed base58btc multikey value shared by
// did:key identifiers and bare public_key_multibase fields.
func decodeMultikey(z string) (ed25519.PublicKey, error) {
	if len(z) == 0 || z[0] != 'z' {
		return nil, fmt.Errorf("identity: multikey value must start with 'z', got %q", z)
	}
	raw, err := base58.Decode(z[1:])
	if err != nil {
		return nil, fmt.Errorf("identity: invalid base58btc in %q: %w", z, err)
	}
	if len(raw) != len(ed25519Multicodec)+ed25519.PublicKeySize {
		return nil, fmt.Errorf("identity: unexpected key length in %q", z)
	}
	if raw[0] != ed25519Multicodec[0] || raw[1] != ed25519Multicodec[1] {
		return nil, fmt.Errorf("identity: %q is not an Ed25519 multikey", z)
	}
	return ed25519.PublicKey(raw[len(ed25519Multicodec):]), nil
}

// NewKeypair generates a fresh Ed25519 keypair and its did:key identifier.
func NewKeypair() (pub ed25519.PublicKey, priv ed25519.PrivateKey, did string, err error) {
	pub, priv, err = ed25519.GenerateKey(nil)
	if err != nil {
		return nil, nil, "", fmt.Errorf("identity: generate keypair: %w", err)
	}
	return pub, priv, DID(pub), nil
}

// KeypairFromSeed reconstructs a deterministic keypair from a 32-byte seed,
// used to keep the node's identifier stable across restarts.
func KeypairFromSeed(seed []byte) (pub ed25519.PublicKey, priv ed25519.PrivateKey, did string, err error) {
	if len(seed) != ed25519.SeedSize {
		return nil, nil, "", fmt.Errorf("identity: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv = ed25519.NewKeyFromSeed(seed)
	pub = priv.Public().(ed25519.PublicKey)
	return pub, priv, DID(pub), nil
}

// EncodeSignature encodes a raw 64-byte Ed25519 signature in the protocol's
// "z" + base58btc wire form.
func EncodeSignature(sig []byte) string {
	return "z" + base58.Encode(sig)
}

// DecodeSignature decodes a wire-form signature back to raw bytes.
func DecodeSignature(s string) ([]byte, error) {
	if len(s) == 0 || s[0] != 'z' {
		return nil, fmt.Errorf("identity: signature must be prefixed with 'z', got %q", s)
	}
	raw, err := base58.Decode(s[1:])
	if err != nil {
		return nil, fmt.Errorf("identity: invalid base58btc signature: %w", err)
	}
	if len(raw) != ed25519.SignatureSize {
		return nil, fmt.Errorf("identity: signature must be %d bytes, got %d", ed25519.SignatureSize, len(raw))
	}
	return raw, nil
}
