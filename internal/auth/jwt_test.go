package auth

import (
	"strings"
	"testing"
	"time"
)

func TestVerifyRoundTrip(t *testing.T) {
	v := NewVerifier([]byte("test-secret"), "roomcast", "roomcast-clients")

	token, err := v.Issue("alice", time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	claims, err := v.Verify(token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if claims.MemberID != "alice" {
		t.Fatalf("member id = %q, want alice", claims.MemberID)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer := NewVerifier([]byte("secret-a"), "roomcast", "roomcast-clients")
	verifier := NewVerifier([]byte("secret-b"), "roomcast", "roomcast-clients")

	token, err := issuer.Issue("alice", time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	if _, err := verifier.Verify(token); err == nil {
		t.Fatal("token with wrong secret accepted")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	v := NewVerifier([]byte("test-secret"), "roomcast", "roomcast-clients")

	token, err := v.Issue("alice", -time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	if _, err := v.Verify(token); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	issuer := NewVerifier([]byte("test-secret"), "someone-else", "roomcast-clients")
	verifier := NewVerifier([]byte("test-secret"), "roomcast", "roomcast-clients")

	token, err := issuer.Issue("alice", time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	if _, err := verifier.Verify(token); err == nil || !strings.Contains(err.Error(), "issuer") {
		t.Fatalf("wrong issuer accepted: %v", err)
	}
}

func TestVerifyRejectsMissingMemberID(t *testing.T) {
	v := NewVerifier([]byte("test-secret"), "roomcast", "roomcast-clients")

	token, err := v.Issue("", time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	if _, err := v.Verify(token); err == nil {
		t.Fatal("token without member id accepted")
	}
}
