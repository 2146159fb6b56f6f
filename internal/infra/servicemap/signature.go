package servicemap

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"toolgate/internal/domain"
)

// Sign computes the manifest MAC: lowercase hex HMAC-SHA256 over the
// canonical payload of the document. The document may or may not already
// carry a signature field; it is ignored either way.
func Sign(raw []byte, key string) (string, error) {
	canonical, err := CanonicalPayload(raw)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks a signed manifest document against the shared key. It
// returns a *domain.SignatureError on any mismatch, missing signature, or
// undecodable hex; nothing in the payload may be trusted until Verify
// returns nil.
func Verify(raw []byte, key string) error {
	var envelope struct {
		ID        string `json:"id"`
		Signature string `json:"signature"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode manifest envelope: %w", err)
	}
	if envelope.Signature == "" {
		return &domain.SignatureError{ManifestID: envelope.ID, Reason: "missing signature"}
	}
	got, err := hex.DecodeString(envelope.Signature)
	if err != nil {
		return &domain.SignatureError{ManifestID: envelope.ID, Reason: "signature is not hex"}
	}
	wantHex, err := Sign(raw, key)
	if err != nil {
		return err
	}
	want, err := hex.DecodeString(wantHex)
	if err != nil {
		return fmt.Errorf("decode computed signature: %w", err)
	}
	if !hmac.Equal(got, want) {
		return &domain.SignatureError{ManifestID: envelope.ID, Reason: "signature mismatch"}
	}
	return nil
}
