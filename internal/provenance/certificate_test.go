package provenance

import (
	"testing"
)

func TestIssueAndVerify(t *testing.T) {
	svc := NewService("test-signing-key")
	artifact := "export function Button() { return <button>Click</button> }"

	cert := svc.Issue(artifact, "gemini-flash", 87.5, false)

	if cert.ArtifactHash == "" {
		t.Error("expected artifact hash to be set")
	}
	if cert.Signature == "" {
		t.Error("expected signature to be set")
	}
	if cert.Provider != "gemini-flash" {
		t.Errorf("expected provider gemini-flash, got %s", cert.Provider)
	}
	if cert.Quality != 87.5 {
		t.Errorf("expected quality 87.5, got %f", cert.Quality)
	}
	if cert.IssuedAt.IsZero() {
		t.Error("expected issued_at to be set")
	}
	if !svc.Verify(artifact, cert) {
		t.Error("expected certificate to verify against original artifact")
	}
}

func TestVerifyDetectsTamperedArtifact(t *testing.T) {
	svc := NewService("test-signing-key")
	artifact := "export function Card() { return <div/> }"

	cert := svc.Issue(artifact, "deepseek-v3", 92.0, false)

	if svc.Verify(artifact+" // modified", cert) {
		t.Error("expected verification to fail for a modified artifact")
	}
}

func TestVerifyDetectsTamperedFields(t *testing.T) {
	svc := NewService("test-signing-key")
	artifact := "export function Nav() { return <nav/> }"

	cert := svc.Issue(artifact, "deepseek-v3", 71.0, false)
	cert.Quality = 99.0

	if svc.Verify(artifact, cert) {
		t.Error("expected verification to fail when quality was altered")
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	issuer := NewService("key-one")
	verifier := NewService("key-two")
	artifact := "export function Footer() { return <footer/> }"

	cert := issuer.Issue(artifact, "gemini-pro", 80.0, true)

	if verifier.Verify(artifact, cert) {
		t.Error("expected verification to fail with a different signing key")
	}
}
