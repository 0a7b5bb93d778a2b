package models

import (
	"errors"
	"reflect"
	"testing"
)

func TestValidateContactID(t *testing.T) {
	if err := ValidateContactID("14E3emyRk2UUV1ZBpX4eyxXTg9HSqJCrM"); err != nil {
		t.Fatalf("valid base58 id rejected: %v", err)
	}
	for name, id := range map[string]string{
		"empty":            "",
		"whitespace":       "   ",
		"base58 alphabet?": "0OIl",
	} {
		if err := ValidateContactID(id); !errors.Is(err, ErrInvalidContactID) {
			t.Fatalf("%s: expected ErrInvalidContactID, got %v", name, err)
		}
	}
}

func TestValidPeerAddrsFiltersGarbage(t *testing.T) {
	got := ValidPeerAddrs([]string{
		"/ip4/127.0.0.1/tcp/60000",
		"not-a-multiaddr",
		"/dns4/node.example.org/tcp/443/wss",
		"",
	})
	want := []string{
		"/ip4/127.0.0.1/tcp/60000",
		"/dns4/node.example.org/tcp/443/wss",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("filtered to %v, want %v", got, want)
	}
}

func TestNormalizeRecoveryPhrase(t *testing.T) {
	got := NormalizeRecoveryPhrase("  Legal  WINNER\tthank ")
	if got != "legal winner thank" {
		t.Fatalf("normalized to %q", got)
	}
}

func TestValidateRecoveryPhrase(t *testing.T) {
	valid := "legal winner thank year wave sausage worth useful legal winner thank yellow"
	if err := ValidateRecoveryPhrase("  " + valid + "  "); err != nil {
		t.Fatalf("valid mnemonic rejected: %v", err)
	}
	// same words, broken checksum
	invalid := "legal winner thank year wave sausage worth useful legal winner thank thank"
	if err := ValidateRecoveryPhrase(invalid); !errors.Is(err, ErrInvalidRecoveryPhrase) {
		t.Fatalf("expected ErrInvalidRecoveryPhrase, got %v", err)
	}
}
