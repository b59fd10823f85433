package security

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"

	"github.com/rs/zerolog"
)

// Hash names the digest the signing authority uses. SHA-1 is the legacy
// scheme most billing services still sign with; new deployments should
// configure SHA-256.
type Hash string

const (
	HashSHA1   Hash = "sha1"
	HashSHA256 Hash = "sha256"
)

// Verifier checks that a purchase payload was signed by the configured
// authority. It fails closed: any missing input, malformed encoding or
// cryptographic failure yields false, never an error or a panic, because
// an unverifiable purchase must be treated as not entitled rather than
// crash the reconciliation pipeline.
type Verifier struct {
	publicKey *rsa.PublicKey
	hash      crypto.Hash
	logger    zerolog.Logger
}

// NewVerifier builds a Verifier from a base64-encoded DER (PKIX) public
// key. A bad key is a configuration error and is reported eagerly.
func NewVerifier(base64PublicKey string, hash Hash, logger zerolog.Logger) (*Verifier, error) {
	if base64PublicKey == "" {
		return nil, fmt.Errorf("public key is empty")
	}

	der, err := base64.StdEncoding.DecodeString(base64PublicKey)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}

	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}

	rsaKey, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, want RSA", parsed)
	}

	var h crypto.Hash
	switch hash {
	case HashSHA256:
		h = crypto.SHA256
	case HashSHA1, "":
		h = crypto.SHA1
	default:
		return nil, fmt.Errorf("unsupported signature hash %q", hash)
	}

	return &Verifier{publicKey: rsaKey, hash: h, logger: logger}, nil
}

// Verify reports whether signature is a valid signature over payload.
func (v *Verifier) Verify(payload, signature string) bool {
	if payload == "" || signature == "" {
		v.logger.Warn().Msg("purchase verification failed: missing data")
		return false
	}

	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		v.logger.Warn().Err(err).Msg("purchase verification failed: signature is not base64")
		return false
	}

	digest := v.digest([]byte(payload))
	if err := rsa.VerifyPKCS1v15(v.publicKey, v.hash, digest, sig); err != nil {
		v.logger.Warn().Msg("purchase verification failed: signature mismatch")
		return false
	}
	return true
}

func (v *Verifier) digest(payload []byte) []byte {
	switch v.hash {
	case crypto.SHA256:
		sum := sha256.Sum256(payload)
		return sum[:]
	default:
		sum := sha1.Sum(payload)
		return sum[:]
	}
}
