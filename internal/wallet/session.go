// Package wallet implements the identity-provider adapter: an explicit
// session over a wallet's JSON-RPC interface that yields the acting
// principal and pins the expected network.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/ostrander/medvault/internal/apperr"
)

// SepoliaChainID is the expected network (chain id 11155111).
const SepoliaChainID = "0xaa36a7"

// chainNotAddedCode is the provider error for wallet_switchEthereumChain
// when the target chain is unknown to the wallet.
const chainNotAddedCode = 4902

// connectedKey is the settings flag used for auto-reconnect.
const connectedKey = "wallet_connected"

// Identity is the principal obtained from a successful connect.
type Identity struct {
	Address string `json:"address"`
	Network string `json:"network"` // "sepolia" or "unknown"
}

// Caller abstracts the JSON-RPC transport (satisfied by *rpc.Client).
type Caller interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
}

// SettingsStore persists the connected flag between restarts.
type SettingsStore interface {
	SetSetting(key, value string) error
	GetSetting(key string) (string, bool, error)
	DeleteSetting(key string) error
}

// Session holds the process-wide wallet session with an explicit
// connect/disconnect lifecycle. It is injected into the components that
// need the acting principal rather than living in package state.
type Session struct {
	mu       sync.Mutex
	rpc      Caller
	settings SettingsStore
	logger   *slog.Logger

	current *Identity
}

// Dial connects the session transport to a wallet JSON-RPC endpoint.
func Dial(ctx context.Context, rpcURL string, settings SettingsStore, logger *slog.Logger) (*Session, error) {
	client, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("wallet: dial %s: %w", rpcURL, err)
	}
	return NewSession(client, settings, logger), nil
}

// NewSession creates a session over an existing transport.
func NewSession(caller Caller, settings SettingsStore, logger *slog.Logger) *Session {
	return &Session{rpc: caller, settings: settings, logger: logger}
}

// Connect requests the wallet's accounts, verifies the active network
// (switching or adding Sepolia as needed), and activates the session.
func (s *Session) Connect(ctx context.Context) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var accounts []string
	if err := s.rpc.CallContext(ctx, &accounts, "eth_requestAccounts"); err != nil {
		return Identity{}, fmt.Errorf("wallet: connect failed: %w", err)
	}
	if len(accounts) == 0 {
		return Identity{}, fmt.Errorf("wallet: no accounts available")
	}

	var chainID string
	if err := s.rpc.CallContext(ctx, &chainID, "eth_chainId"); err != nil {
		return Identity{}, fmt.Errorf("wallet: read chain id: %w", err)
	}
	if chainID != SepoliaChainID {
		if err := s.switchToSepolia(ctx); err != nil {
			return Identity{}, err
		}
	}

	id := Identity{Address: accounts[0], Network: "sepolia"}
	s.current = &id
	if err := s.settings.SetSetting(connectedKey, "true"); err != nil {
		s.logger.Warn("wallet: persist connected flag failed", slog.String("error", err.Error()))
	}
	s.logger.Info("wallet connected", slog.String("address", id.Address))
	return id, nil
}

// switchToSepolia asks the wallet to activate Sepolia, adding the chain
// first when the wallet does not know it (provider error 4902).
func (s *Session) switchToSepolia(ctx context.Context) error {
	err := s.rpc.CallContext(ctx, nil, "wallet_switchEthereumChain",
		map[string]string{"chainId": SepoliaChainID})
	if err == nil {
		return nil
	}

	var rpcErr rpc.Error
	if !errors.As(err, &rpcErr) || rpcErr.ErrorCode() != chainNotAddedCode {
		return fmt.Errorf("wallet: switch chain: %w", err)
	}

	addErr := s.rpc.CallContext(ctx, nil, "wallet_addEthereumChain", map[string]any{
		"chainId":   SepoliaChainID,
		"chainName": "Sepolia Testnet",
		"rpcUrls":   []string{},
		"nativeCurrency": map[string]any{
			"name":     "Sepolia ETH",
			"symbol":   "ETH",
			"decimals": 18,
		},
		"blockExplorerUrls": []string{"https://sepolia.etherscan.io"},
	})
	if addErr != nil {
		return fmt.Errorf("wallet: add chain: %w", addErr)
	}
	return nil
}

// Resume re-establishes the session at startup when a previous run left
// the connected flag set. Failure is not fatal; the caller can connect
// explicitly later.
func (s *Session) Resume(ctx context.Context) {
	v, ok, err := s.settings.GetSetting(connectedKey)
	if err != nil || !ok || v != "true" {
		return
	}
	if _, err := s.Connect(ctx); err != nil {
		s.logger.Warn("wallet: auto-reconnect failed", slog.String("error", err.Error()))
	}
}

// Current returns the active principal's address.
func (s *Session) Current() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return "", apperr.ErrNoSession
	}
	return s.current.Address, nil
}

// Identity returns the full active identity.
func (s *Session) Identity() (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Identity{}, apperr.ErrNoSession
	}
	return *s.current, nil
}

// Disconnect tears the session down and clears the reconnect flag.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return
	}
	s.logger.Info("wallet disconnected", slog.String("address", s.current.Address))
	s.current = nil
	if err := s.settings.DeleteSetting(connectedKey); err != nil {
		s.logger.Warn("wallet: clear connected flag failed", slog.String("error", err.Error()))
	}
}
