package payment

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
)

// Signature computes the gateway signature: hex(SHA-512(orderID + statusCode + grossAmount + serverKey)).
func Signature(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

// VerifySignature compares the provided signature byte-for-byte with the expected one.
func VerifySignature(orderID, statusCode, grossAmount, provided, serverKey string) bool {
	expected := Signature(orderID, statusCode, grossAmount, serverKey)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1
}

// Verifier binds VerifySignature to the configured server key.
type Verifier struct {
	serverKey string
}

func NewVerifier(serverKey string) *Verifier {
	return &Verifier{serverKey: serverKey}
}

func (v *Verifier) Verify(orderID, statusCode, grossAmount, signature string) bool {
	if v.serverKey == "" {
		return false
	}
	return VerifySignature(orderID, statusCode, grossAmount, signature, v.serverKey)
}
