package bundle

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/agentguard/agentguard/pkg/schema"
)

// hexSignature matches exactly 64 case-insensitive hex characters, the
// wire format for a bundle signature.
var hexSignature = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// canonicalize serializes a bundle the way the signer does: the signature
// field removed, top-level keys sorted lexicographically. Only the
// top-level sort is canonical; nested object/array encoding uses
// encoding/json's default order, and both Sign and Verify route through
// this same function, so the HMAC is self-consistent. Nested keys are
// NOT sorted; deep canonicalization would be a wire-incompatible scheme
// change.
func canonicalize(b *schema.PolicyBundle) ([]byte, error) {
	withSig, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("bundle: canonicalizing for signature: %w", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(withSig, &fields); err != nil {
		return nil, fmt.Errorf("bundle: canonicalizing for signature: %w", err)
	}
	delete(fields, "signature")

	// encoding/json sorts map[string]T keys lexicographically on encode,
	// giving exactly the top-level-only canonical order this function
	// needs.
	return json.Marshal(fields)
}

// Sign computes the HMAC-SHA256 signature of a bundle under secret,
// returning it as lowercase hex. It does not mutate the bundle.
func Sign(b *schema.PolicyBundle, secret []byte) (string, error) {
	canonical, err := canonicalize(b)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// SignBundle computes a bundle's signature and writes it back into the
// bundle's Signature field.
func SignBundle(b *schema.PolicyBundle, secret []byte) error {
	sig, err := Sign(b, secret)
	if err != nil {
		return err
	}
	b.Signature = sig
	return nil
}

// Verify recomputes the expected signature and compares it against
// b.Signature in constant time. Every failure mode (missing signature,
// malformed hex, mismatch) collapses to the single generic
// ErrSignatureInvalid so an attacker cannot distinguish which check
// failed.
func Verify(b *schema.PolicyBundle, secret []byte) error {
	candidate := strings.ToLower(b.Signature)
	if !hexSignature.MatchString(candidate) {
		return ErrSignatureInvalid
	}

	expected, err := Sign(b, secret)
	if err != nil {
		return ErrSignatureInvalid
	}

	if subtle.ConstantTimeCompare([]byte(candidate), []byte(expected)) != 1 {
		return ErrSignatureInvalid
	}
	return nil
}
