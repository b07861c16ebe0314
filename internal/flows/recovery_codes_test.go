package flows

import (
	"strings"
	"testing"
)

func TestNewRecoveryCodes(t *testing.T) {
	codes, err := NewRecoveryCodes(10, 8)
	if err != nil {
		t.Fatalf("NewRecoveryCodes: %v", err)
	}
	if len(codes) != 10 {
		t.Fatalf("expected 10 codes, got %d", len(codes))
	}
	seen := map[string]bool{}
	for _, c := range codes {
		if !LooksLikeRecoveryCode(c, 8) {
			t.Fatalf("malformed code %q", c)
		}
		if seen[c] {
			t.Fatalf("duplicate code %q", c)
		}
		seen[c] = true
	}
}

func TestNormalizeRecoveryCode(t *testing.T) {
	if got := NormalizeRecoveryCode(" abcd-efgh "); got != "ABCDEFGH" {
		t.Fatalf("unexpected normalization %q", got)
	}
	if LooksLikeRecoveryCode("ABCDEFG0", 8) {
		t.Fatal("0 is not in the alphabet")
	}
}

func TestMatchRecoveryCode(t *testing.T) {
	hash := func(c string) (string, error) { return "h:" + c, nil }
	verify := func(c, h string) (bool, error) { return h == "h:"+c, nil }

	hashes, err := HashRecoveryCodes([]string{"AAAA2222", "BBBB3333"}, hash)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	matched, ok := MatchRecoveryCode("BBBB3333", hashes, verify)
	if !ok || !strings.HasSuffix(matched, "BBBB3333") {
		t.Fatalf("expected match, got %q %v", matched, ok)
	}
	if _, ok := MatchRecoveryCode("CCCC4444", hashes, verify); ok {
		t.Fatal("unexpected match")
	}
}
