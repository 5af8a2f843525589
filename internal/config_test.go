package internal

import (
	"strings"
	"testing"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestPinningConfig_MissingJWTIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Pinning.JWT = ""
	if err := cfg.Pinning.Validate(); err != nil {
		t.Fatalf("missing JWT must not fail config validation: %v", err)
	}
}

func TestPinningConfig_RequiresEndpoints(t *testing.T) {
	cfg := PinningConfig{}
	if err := cfg.Validate(); err == nil {
		t.Fatal("missing endpoints should fail validation")
	}
}

func TestChainConfig_DisabledSkipsValidation(t *testing.T) {
	cfg := ChainConfig{}
	if cfg.Enabled() {
		t.Fatal("empty contract address should disable the mirror")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled chain config should pass: %v", err)
	}
}

func TestChainConfig_EnabledRequiresKeyAndRPC(t *testing.T) {
	cfg := ChainConfig{
		ContractAddress: "0x1111111111111111111111111111111111111111",
		ChainID:         sepoliaChainID,
	}
	if !cfg.Enabled() {
		t.Fatal("contract address should enable the mirror")
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("enabled mirror without rpc_url and private_key should fail")
	}
}

func TestChainConfig_RejectsMalformedContractAddress(t *testing.T) {
	cfg := ChainConfig{
		ContractAddress: "not-an-address",
		RPCURL:          "http://localhost:8545",
		PrivateKey:      "ab",
		ChainID:         sepoliaChainID,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("malformed contract address should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}
