package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"hash"
	"strings"
)

// verifyHexHMAC checks a hex-encoded HMAC signature over payload.
func verifyHexHMAC(payload []byte, signatureHex, secret string, hashFunc func() hash.Hash) bool {
	sig := strings.TrimSpace(signatureHex)
	if sig == "" || strings.TrimSpace(secret) == "" {
		return false
	}
	decoded, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}
	mac := hmac.New(hashFunc, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), decoded)
}

// verifySHA256HMAC is the stripe-style scheme (v1=<hex> pairs allowed).
func verifySHA256HMAC(payload []byte, signatureHeader, secret string) bool {
	header := strings.TrimSpace(signatureHeader)
	if header == "" {
		return false
	}
	// Accept both a bare hex signature and a comma-separated k=v header.
	for _, part := range strings.Split(header, ",") {
		candidate := strings.TrimSpace(part)
		if idx := strings.IndexByte(candidate, '='); idx >= 0 && !isHex(candidate) {
			candidate = candidate[idx+1:]
		}
		if verifyHexHMAC(payload, candidate, secret, sha256.New) {
			return true
		}
	}
	return false
}

// verifySHA512HMAC is the paystack scheme (x-paystack-signature).
func verifySHA512HMAC(payload []byte, signatureHeader, secret string) bool {
	return verifyHexHMAC(payload, signatureHeader, secret, sha512.New)
}

// verifySharedSecret compares the header against a configured verification
// hash in constant time (flutterwave verif-hash / mpesa shared token).
func verifySharedSecret(signatureHeader, secret string) bool {
	sig := strings.TrimSpace(signatureHeader)
	want := strings.TrimSpace(secret)
	if sig == "" || want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(sig), []byte(want)) == 1
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
