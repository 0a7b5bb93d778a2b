package models

import (
	"errors"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/multiformats/go-multiaddr"
	"github.com/tyler-smith/go-bip39"
)

var (
	ErrInvalidContactID      = errors.New("contact id is not a valid base58 identifier")
	ErrInvalidRecoveryPhrase = errors.New("recovery phrase failed bip39 validation")
)

// ValidateContactID checks that an id the daemon handed us has the base58
// shape daemon identities use. Structural only; no key material is verified
// in the view process.
func ValidateContactID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrInvalidContactID
	}
	if _, err := base58.Decode(id); err != nil {
		return ErrInvalidContactID
	}
	return nil
}

// ValidPeerAddrs filters a daemon-reported peer list down to parseable
// multiaddrs. The daemon owns the network; the client only refuses to render
// garbage.
func ValidPeerAddrs(addrs []string) []string {
	out := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		if _, err := multiaddr.NewMultiaddr(addr); err == nil {
			out = append(out, addr)
		}
	}
	return out
}

// NormalizeRecoveryPhrase lowercases and collapses whitespace so checksum
// validation sees the canonical form.
func NormalizeRecoveryPhrase(phrase string) string {
	return strings.Join(strings.Fields(strings.ToLower(phrase)), " ")
}

// ValidateRecoveryPhrase runs bip39 checksum validation locally, so an
// invalid mnemonic never leaves the view process in a restore call.
func ValidateRecoveryPhrase(phrase string) error {
	if !bip39.IsMnemonicValid(NormalizeRecoveryPhrase(phrase)) {
		return ErrInvalidRecoveryPhrase
	}
	return nil
}
