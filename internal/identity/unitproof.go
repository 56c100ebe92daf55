package identity

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/semanticweft/node/internal/models"
)

// SignUnit produces a Proof for u using priv, whose did:key identifier is
// did. u.Proof is ignored for the purposes of signing (the proof is never
// signed over itself) and the returned Proof is not attached to u — callers
// assign it explicitly, keeping Unit immutable-by-convention at the call
// site.
func SignUnit(u models.Unit, did string, priv ed25519.PrivateKey, now time.Time) (*models.Proof, error) {
	u.Proof = nil
	canon, err := canonicalizeUnit(u)
	if err != nil {
		return nil, err
	}
	sig := ed25519.Sign(priv, canon)
	return &models.Proof{
		Method:    did + "#" + did,
		CreatedAt: now.UTC(),
		Value:     EncodeSignature(sig),
	}, nil
}

// VerifyUnitProof verifies u.Proof against the public key embedded in its
// own proof.method. It returns an error if there is no proof, the method is
// malformed, or the signature does not verify.
func VerifyUnitProof(u models.Unit) error {
	if u.Proof == nil {
		return fmt.Errorf("identity: unit has no proof")
	}
	did, _, _ := strings.Cut(u.Proof.Method, "#")
	pub, err := DecodeDID(did)
	if err != nil {
		return fmt.Errorf("identity: proof.method: %w", err)
	}
	sig, err := DecodeSignature(u.Proof.Value)
	if err != nil {
		return err
	}
	u.Proof = nil
	canon, err := canonicalizeUnit(u)
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, canon, sig) {
		return fmt.Errorf("identity: unit proof does not verify")
	}
	return nil
}

func canonicalizeUnit(u models.Unit) ([]byte, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("identity: marshal unit for signing: %w", err)
	}
	return Canonicalize(data)
}
