package documents

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const minSigningKeyLen = 32

// attestation is the claim set sealed into a signature token.
type attestation struct {
	jwt.RegisteredClaims
	DocumentID    string `json:"doc"`
	ContentSHA256 string `json:"content_sha256"`
}

// Signer issues signature tokens under a simulated certificate authority.
// Tokens are HS256 JWS values over the document id, content digest, signer
// and certificate serial, so any change to a signed field breaks them.
type Signer struct {
	key    []byte
	issuer string
}

func NewSigner(key []byte, issuer string) (*Signer, error) {
	if len(key) < minSigningKeyLen {
		return nil, errors.Newf("signing key must be at least %d bytes", minSigningKeyLen)
	}
	if issuer == "" {
		return nil, errors.New("signing issuer is required")
	}
	return &Signer{key: key, issuer: issuer}, nil
}

// ContentHash returns the hex SHA-256 of content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// serial fingerprints the caller's certificate token. Without one the serial
// is random.
func serial(certToken string) string {
	if certToken == "" {
		id := uuid.New()
		return hex.EncodeToString(id[:])
	}
	sum := sha256.Sum256([]byte(certToken))
	return hex.EncodeToString(sum[:16])
}

// Sign produces the signature for a document whose content hashes to digest.
// at is truncated to microseconds to match what Postgres stores.
func (s *Signer) Sign(documentID, signerID uuid.UUID, digest, certToken string, at time.Time) (*Signature, error) {
	at = at.UTC().Truncate(time.Microsecond)
	cert := Certificate{
		Issuer:    s.issuer,
		Subject:   "professional:" + signerID.String(),
		Serial:    serial(certToken),
		Algorithm: jwt.SigningMethodHS256.Alg(),
		IssuedAt:  at,
	}

	claims := attestation{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   cert.Issuer,
			Subject:  signerID.String(),
			ID:       cert.Serial,
			IssuedAt: jwt.NewNumericDate(at),
		},
		DocumentID:    documentID.String(),
		ContentSHA256: digest,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return nil, errors.Wrap(err, "sign attestation")
	}

	return &Signature{
		DocumentID:    documentID,
		SignerID:      signerID,
		Token:         token,
		ContentSHA256: digest,
		Certificate:   cert,
		SignedAt:      at,
	}, nil
}

// Verify checks that sig was issued by this signer for the given document and
// that its sealed fields match the stored ones.
func (s *Signer) Verify(sig *Signature) error {
	var claims attestation
	_, err := jwt.ParseWithClaims(sig.Token, &claims, func(*jwt.Token) (interface{}, error) {
		return s.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(s.issuer))
	if err != nil {
		return errors.Wrap(err, "verify signature token")
	}
	switch {
	case claims.DocumentID != sig.DocumentID.String():
		return errors.New("signature token belongs to another document")
	case claims.Subject != sig.SignerID.String():
		return errors.New("signature token names another signer")
	case claims.ContentSHA256 != sig.ContentSHA256:
		return errors.New("signature token seals another content digest")
	case claims.ID != sig.Certificate.Serial:
		return errors.New("signature token was issued under another certificate")
	}
	return nil
}
