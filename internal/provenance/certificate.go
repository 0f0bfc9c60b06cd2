package provenance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Certificate attests that an artifact was produced by this engine, by which
// provider, and with what quality score. Callers persisting artifacts can
// later prove the artifact was not altered since generation.
type Certificate struct {
	ID           uuid.UUID `json:"id"`
	ArtifactHash string    `json:"artifact_hash"`
	Provider     string    `json:"provider"`
	Quality      float64   `json:"quality"`
	CacheHit     bool      `json:"cache_hit"`
	IssuedAt     time.Time `json:"issued_at"`
	Signature    string    `json:"signature"`
}

// Service issues and verifies artifact certificates
type Service struct {
	signingKey []byte
}

// NewService creates a certificate service with the given signing key
func NewService(signingKey string) *Service {
	return &Service{signingKey: []byte(signingKey)}
}

// Issue creates a signed certificate for the artifact
func (s *Service) Issue(artifact, provider string, quality float64, cacheHit bool) Certificate {
	cert := Certificate{
		ID:           uuid.New(),
		ArtifactHash: computeHash([]byte(artifact)),
		Provider:     provider,
		Quality:      quality,
		CacheHit:     cacheHit,
		IssuedAt:     time.Now().UTC(),
	}
	cert.Signature = s.sign(chain(cert))
	return cert
}

// Verify reports whether the certificate matches the artifact and carries a
// valid signature
func (s *Service) Verify(artifact string, cert Certificate) bool {
	if computeHash([]byte(artifact)) != cert.ArtifactHash {
		return false
	}
	expected := s.sign(chain(cert))
	return hmac.Equal([]byte(expected), []byte(cert.Signature))
}

// chain concatenates the fields covered by the signature
func chain(cert Certificate) string {
	return fmt.Sprintf("%s:%s:%s:%f:%t:%s",
		cert.ID.String(),
		cert.ArtifactHash,
		cert.Provider,
		cert.Quality,
		cert.CacheHit,
		cert.IssuedAt.Format(time.RFC3339Nano),
	)
}

// computeHash computes SHA-256 hash
func computeHash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// sign creates an HMAC-SHA256 signature
func (s *Service) sign(data string) string {
	h := hmac.New(sha256.New, s.signingKey)
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}
