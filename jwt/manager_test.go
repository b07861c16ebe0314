package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

func newEdManager(t *testing.T) *Manager {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	m, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		Issuer:        "authcore",
		Audience:      "api",
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestAccessRoundTrip(t *testing.T) {
	m := newEdManager(t)

	token, err := m.CreateAccess("u1", "owner@example.com", "patron")
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	claims, err := m.ParseAccess(token)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if claims.Subject != "u1" || claims.Email != "owner@example.com" || claims.Role != "patron" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestRefreshCarriesFamilyAndJTI(t *testing.T) {
	m := newEdManager(t)

	token, err := m.CreateRefresh("u1", "e@x.io", "employe", "fam-1", "jti-1", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("create refresh: %v", err)
	}
	claims, err := m.ParseRefresh(token)
	if err != nil {
		t.Fatalf("parse refresh: %v", err)
	}
	if claims.ID != "jti-1" || claims.FamilyID != "fam-1" {
		t.Fatalf("unexpected refresh claims: %+v", claims)
	}
}

func TestParsersRejectOtherPurposes(t *testing.T) {
	m := newEdManager(t)

	access, _ := m.CreateAccess("u1", "e@x.io", "patron")
	refresh, _ := m.CreateRefresh("u1", "e@x.io", "patron", "fam", "jti", time.Now().Add(time.Hour))
	action, _ := m.CreateDeviceAction("u1", "d1", ActionTrust, time.Hour)

	if _, err := m.ParseRefresh(access); !errors.Is(err, ErrWrongPurpose) {
		t.Fatalf("expected access token to be refused as refresh, got %v", err)
	}
	if _, err := m.ParseAccess(refresh); !errors.Is(err, ErrWrongPurpose) {
		t.Fatalf("expected refresh token to be refused as access, got %v", err)
	}
	if _, err := m.ParseAccess(action); !errors.Is(err, ErrWrongPurpose) {
		t.Fatalf("expected action token to be refused as access, got %v", err)
	}
}

func TestDeviceActionExpiry(t *testing.T) {
	m := newEdManager(t)

	token, err := m.CreateDeviceAction("u1", "d1", ActionRevoke, -time.Minute)
	if err != nil {
		t.Fatalf("create device action: %v", err)
	}
	if _, err := m.ParseDeviceAction(token); !errors.Is(err, gjwt.ErrTokenExpired) {
		t.Fatalf("expected expired action token, got %v", err)
	}
	if _, err := m.CreateDeviceAction("u1", "d1", "delete", time.Hour); err == nil {
		t.Fatal("expected unknown action to be rejected")
	}
}

func TestParseRejectsWrongAlgorithm(t *testing.T) {
	m := newEdManager(t)

	claims := AccessClaims{Purpose: PurposeAccess, RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "u1",
		Issuer:    "authcore",
		Audience:  gjwt.ClaimStrings{"api"},
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	tok := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims)
	token, err := tok.SignedString([]byte("secret-secret-secret-secret-1234"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := m.ParseAccess(token); err == nil {
		t.Fatal("expected wrong algorithm to be rejected")
	}
}

func TestHS256RequiresLongSecret(t *testing.T) {
	if _, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: []byte("short")}); err == nil {
		t.Fatal("expected short hs256 secret to be rejected")
	}
	m, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: []byte("0123456789abcdef0123456789abcdef")})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	token, err := m.CreateAccess("u1", "e@x.io", "patron")
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	if _, err := m.ParseAccess(token); err != nil {
		t.Fatalf("parse access: %v", err)
	}
}
