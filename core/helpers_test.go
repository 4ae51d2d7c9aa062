package core

import (
	"testing"

	"github.com/sp-consortium/settlementd/crypto"
)

func generateTestKeyPair(t *testing.T) (crypto.PrivateKey, crypto.PublicKey, error) {
	t.Helper()
	return crypto.GenerateKeyPair()
}
