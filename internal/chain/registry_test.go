package chain

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestABIParses(t *testing.T) {
	parsed, err := ParseABI()
	if err != nil {
		t.Fatalf("parse ABI: %v", err)
	}

	for _, name := range []string{"grantAccess", "revokeAccess", "hasAccess", "getAccessCount"} {
		if _, ok := parsed.Methods[name]; !ok {
			t.Errorf("missing method %q", name)
		}
	}
	for _, name := range []string{"AccessGranted", "AccessRevoked"} {
		if _, ok := parsed.Events[name]; !ok {
			t.Errorf("missing event %q", name)
		}
	}
}

func TestPackGrantAccess(t *testing.T) {
	parsed, err := ParseABI()
	if err != nil {
		t.Fatalf("parse ABI: %v", err)
	}

	doctor := common.HexToAddress("0x1111111111111111111111111111111111111111")
	data, err := parsed.Pack("grantAccess", doctor, "bafybeigdyrztestcid")
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	if len(data) < 4 {
		t.Fatalf("packed payload too short: %d bytes", len(data))
	}

	method, err := parsed.MethodById(data[:4])
	if err != nil {
		t.Fatalf("method by id: %v", err)
	}
	if method.Name != "grantAccess" {
		t.Fatalf("selector resolved to %q, want grantAccess", method.Name)
	}
}
