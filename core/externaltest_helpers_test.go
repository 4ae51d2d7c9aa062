package core_test

import (
	"testing"

	"github.com/sp-consortium/settlementd/crypto"
)

func testKeyPair(t *testing.T) (crypto.PrivateKey, crypto.PublicKey, error) {
	t.Helper()
	return crypto.GenerateKeyPair()
}
