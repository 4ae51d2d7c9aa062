package config_test

import (
	"testing"

	"github.com/sp-consortium/settlementd/config"
)

func TestLoadTLSConfigNilPassthrough(t *testing.T) {
	tlsCfg, err := config.LoadTLSConfig(nil)
	if err != nil {
		t.Fatalf("LoadTLSConfig(nil): %v", err)
	}
	if tlsCfg != nil {
		t.Error("expected a nil TLS config to produce a nil *tls.Config")
	}
}

func TestLoadTLSConfigAllEmptyPassthrough(t *testing.T) {
	tlsCfg, err := config.LoadTLSConfig(&config.TLSConfig{})
	if err != nil {
		t.Fatalf("LoadTLSConfig(empty): %v", err)
	}
	if tlsCfg != nil {
		t.Error("expected an all-empty TLS config to produce a nil *tls.Config")
	}
}

func TestLoadTLSConfigMissingFiles(t *testing.T) {
	_, err := config.LoadTLSConfig(&config.TLSConfig{
		CACert:   "/nonexistent/ca.pem",
		NodeCert: "/nonexistent/node.pem",
		NodeKey:  "/nonexistent/node.key",
	})
	if err == nil {
		t.Error("expected an error when the referenced PEM files do not exist")
	}
}
