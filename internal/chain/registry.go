// Package chain mirrors grant/revoke operations to an on-chain access
// registry contract. The contract is an independent source of truth and
// is never reconciled with the local ledger.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// registryABI covers the access-registry surface: two mutators, two
// views, and the corresponding events.
const registryABI = `[
	{"type":"function","name":"grantAccess","stateMutability":"nonpayable","inputs":[{"name":"doctor","type":"address"},{"name":"ipfsHash","type":"string"}],"outputs":[]},
	{"type":"function","name":"revokeAccess","stateMutability":"nonpayable","inputs":[{"name":"doctor","type":"address"},{"name":"ipfsHash","type":"string"}],"outputs":[]},
	{"type":"function","name":"hasAccess","stateMutability":"view","inputs":[{"name":"patient","type":"address"},{"name":"doctor","type":"address"},{"name":"ipfsHash","type":"string"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"getAccessCount","stateMutability":"view","inputs":[{"name":"ipfsHash","type":"string"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"event","name":"AccessGranted","inputs":[{"name":"patient","type":"address","indexed":true},{"name":"doctor","type":"address","indexed":true},{"name":"ipfsHash","type":"string","indexed":false}],"anonymous":false},
	{"type":"event","name":"AccessRevoked","inputs":[{"name":"patient","type":"address","indexed":true},{"name":"doctor","type":"address","indexed":true},{"name":"ipfsHash","type":"string","indexed":false}],"anonymous":false}
]`

// Registry is a bound access-registry contract with a signing identity.
type Registry struct {
	contract *bind.BoundContract
	signer   *bind.TransactOpts
}

// ParseABI returns the parsed registry ABI. Exported for callers that
// need to decode AccessGranted/AccessRevoked logs.
func ParseABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(registryABI))
}

// NewRegistry dials the RPC endpoint and binds the contract at addr.
// privKeyHex signs mutating calls; chainID must match the endpoint.
func NewRegistry(ctx context.Context, rpcURL, addr, privKeyHex string, chainID *big.Int) (*Registry, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}

	parsed, err := ParseABI()
	if err != nil {
		return nil, fmt.Errorf("chain: parse ABI: %w", err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(privKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("chain: parse private key: %w", err)
	}
	signer, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, fmt.Errorf("chain: build transactor: %w", err)
	}

	contract := bind.NewBoundContract(common.HexToAddress(addr), parsed, client, client, client)
	return &Registry{contract: contract, signer: signer}, nil
}

func (r *Registry) transactOpts(ctx context.Context) *bind.TransactOpts {
	opts := *r.signer
	opts.Context = ctx
	return &opts
}

// GrantAccess records on chain that grantee may read the content.
func (r *Registry) GrantAccess(ctx context.Context, grantee, cid string) error {
	// The ledger does not wait for inclusion; the transaction hash is
	// not tracked.
	if _, err := r.contract.Transact(r.transactOpts(ctx), "grantAccess", common.HexToAddress(grantee), cid); err != nil {
		return fmt.Errorf("chain: grantAccess: %w", err)
	}
	return nil
}

// RevokeAccess records on chain that grantee may no longer read the content.
func (r *Registry) RevokeAccess(ctx context.Context, grantee, cid string) error {
	if _, err := r.contract.Transact(r.transactOpts(ctx), "revokeAccess", common.HexToAddress(grantee), cid); err != nil {
		return fmt.Errorf("chain: revokeAccess: %w", err)
	}
	return nil
}

// HasAccess reads the on-chain grant state for a (patient, doctor, cid)
// triple.
func (r *Registry) HasAccess(ctx context.Context, owner, grantee, cid string) (bool, error) {
	var out []any
	err := r.contract.Call(&bind.CallOpts{Context: ctx}, &out, "hasAccess",
		common.HexToAddress(owner), common.HexToAddress(grantee), cid)
	if err != nil {
		return false, fmt.Errorf("chain: hasAccess: %w", err)
	}
	v, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("chain: hasAccess: unexpected result type %T", out[0])
	}
	return v, nil
}

// AccessCount reads how many grants exist on chain for a content identifier.
func (r *Registry) AccessCount(ctx context.Context, cid string) (*big.Int, error) {
	var out []any
	err := r.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getAccessCount", cid)
	if err != nil {
		return nil, fmt.Errorf("chain: getAccessCount: %w", err)
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: getAccessCount: unexpected result type %T", out[0])
	}
	return v, nil
}
