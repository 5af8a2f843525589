package internal

import (
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/ostrander/medvault/internal/models"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Sepolia network id for signing mirror transactions.
const sepoliaChainID = 11155111

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Pinning PinningConfig     `yaml:"pinning"`
	SQLite  SQLiteConfig      `yaml:"sqlite"`
	Wallet  WalletConfig      `yaml:"wallet"`
	Chain   ChainConfig       `yaml:"chain"`
	Intake  IntakeConfig      `yaml:"intake"`
	Auth    AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Pinning.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Wallet.Validate(); err != nil {
		return err
	}
	if err := c.Chain.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// PinningConfig holds the IPFS pinning service endpoints and credentials.
// JWT may be empty; uploads then fail with a credentials error while the
// rest of the application keeps working.
type PinningConfig struct {
	APIURL     string `yaml:"api_url"`
	GatewayURL string `yaml:"gateway_url"`
	JWT        string `yaml:"jwt"`
}

// Validate validates the pinning configuration.
func (c *PinningConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.APIURL, validation.Required),
		validation.Field(&c.GatewayURL, validation.Required),
	)
}

// SQLiteConfig holds SQLite ledger configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// WalletConfig holds the JSON-RPC endpoint of the wallet provider.
type WalletConfig struct {
	RPCURL string `yaml:"rpc_url"`
}

// Validate validates the wallet configuration.
func (c *WalletConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.RPCURL, validation.Required),
	)
}

// ChainConfig holds the optional on-chain access registry settings.
// Mirroring is enabled when ContractAddress is set; the registry then
// needs an RPC endpoint and a signing key.
type ChainConfig struct {
	RPCURL          string `yaml:"rpc_url"`
	ContractAddress string `yaml:"contract_address"`
	PrivateKey      string `yaml:"private_key"`
	ChainID         int64  `yaml:"chain_id"`
}

// Enabled returns true when the on-chain mirror should be started.
func (c *ChainConfig) Enabled() bool {
	return c.ContractAddress != ""
}

// Validate validates the chain configuration.
func (c *ChainConfig) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if err := models.ValidateAddress(c.ContractAddress); err != nil {
		return fmt.Errorf("chain: contract_address: %w", err)
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.RPCURL, validation.Required),
		validation.Field(&c.PrivateKey, validation.Required),
		validation.Field(&c.ChainID, validation.Required),
	)
}

// IntakeConfig holds the optional drop-directory watcher settings.
// The watcher is disabled when Path is empty.
type IntakeConfig struct {
	Path string `yaml:"path"`
}

// Enabled returns true when the intake watcher should be started.
func (c *IntakeConfig) Enabled() bool {
	return c.Path != ""
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Pinning: PinningConfig{
			APIURL:     "https://api.pinata.cloud",
			GatewayURL: "https://gateway.pinata.cloud",
		},
		SQLite: SQLiteConfig{
			Path: "./medvault.db",
		},
		Wallet: WalletConfig{
			RPCURL: "http://127.0.0.1:8545",
		},
		Chain: ChainConfig{
			ChainID: sepoliaChainID,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
