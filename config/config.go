package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/text/unicode/norm"

	"omnipool/crypto"
	"omnipool/native/pool"
)

// DefaultSignerCount is the number of co-signer keys generated for a fresh
// development deployment.
const DefaultSignerCount = 3

// Config describes one pool deployment.
type Config struct {
	Instance         string          `toml:"Instance"`
	ChainID          uint64          `toml:"ChainID"`
	DataDir          string          `toml:"DataDir"`
	Owner            string          `toml:"Owner"`
	OwnerKeystore    string          `toml:"OwnerKeystore,omitempty"`
	Signers          []string        `toml:"Signers"`
	Whitelist        []string        `toml:"Whitelist"`
	USDT             string          `toml:"USDT,omitempty"`
	MultiChainAssets []string        `toml:"MultiChainAssets"`
	Gateway          string          `toml:"Gateway"`
	Assets           []AssetConfig   `toml:"assets"`
	Routers          []RouterConfig  `toml:"routers"`
	Balances         []BalanceConfig `toml:"balances"`
}

// AssetConfig names a token so logs and metrics can use its symbol.
type AssetConfig struct {
	Symbol  string `toml:"Symbol"`
	Address string `toml:"Address"`
}

// RouterConfig registers an aggregation router served by a fixed-rate venue.
type RouterConfig struct {
	Address string       `toml:"Address"`
	Rates   []RateConfig `toml:"rates"`
}

// RateConfig quotes Num/Den units of Dst per unit of Src. Amounts are base-10
// strings so 256-bit values survive TOML.
type RateConfig struct {
	Src string `toml:"Src"`
	Dst string `toml:"Dst"`
	Num string `toml:"Num"`
	Den string `toml:"Den"`
}

// BalanceConfig seeds the asset ledger when the data directory is empty.
// Router inventory for the fixed-rate venue is provisioned this way.
type BalanceConfig struct {
	Holder string `toml:"Holder"`
	Asset  string `toml:"Asset"`
	Amount string `toml:"Amount"`
}

// Balance is a parsed BalanceConfig.
type Balance struct {
	Holder common.Address
	Asset  common.Address
	Amount *big.Int
}

// Rate is a parsed RateConfig.
type Rate struct {
	Src common.Address
	Dst common.Address
	Num *big.Int
	Den *big.Int
}

// Load reads the deployment config at path. A missing file is replaced by a
// development default with freshly generated keys.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}
	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config: unknown key %q in %s", undecoded[0].String(), path)
	}
	cfg.applyDefaults()
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./omnipool-data"
	}
	if c.ChainID == 0 {
		c.ChainID = 1
	}
	if c.Whitelist == nil {
		c.Whitelist = []string{}
	}
	if len(c.MultiChainAssets) == 0 && strings.TrimSpace(c.USDT) != "" {
		c.MultiChainAssets = []string{c.USDT}
	}
	for i := range c.Assets {
		c.Assets[i].Symbol = NormalizeSymbol(c.Assets[i].Symbol)
	}
}

// NormalizeSymbol folds compatibility characters and case so "ＵＳＤＴ" and
// "usdt" name the same asset.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(norm.NFKC.String(symbol)))
}

// InstanceAddress returns the parsed pool instance address.
func (c *Config) InstanceAddress() (common.Address, error) {
	return crypto.ParseAddress(c.Instance)
}

// GatewayAddress returns the parsed settlement gateway address.
func (c *Config) GatewayAddress() (common.Address, error) {
	return crypto.ParseAddress(c.Gateway)
}

// Genesis converts the registry section into engine genesis values.
func (c *Config) Genesis() (pool.Genesis, error) {
	owner, err := crypto.ParseAddress(c.Owner)
	if err != nil {
		return pool.Genesis{}, fmt.Errorf("config: Owner: %w", err)
	}
	signers, err := parseAddresses("Signers", c.Signers)
	if err != nil {
		return pool.Genesis{}, err
	}
	whitelist, err := parseAddresses("Whitelist", c.Whitelist)
	if err != nil {
		return pool.Genesis{}, err
	}
	multiChain, err := parseAddresses("MultiChainAssets", c.MultiChainAssets)
	if err != nil {
		return pool.Genesis{}, err
	}
	return pool.Genesis{Owner: owner, Signers: signers, Whitelist: whitelist, MultiChainAssets: multiChain}, nil
}

// RouterRates returns the venue rates per router address.
func (c *Config) RouterRates() (map[common.Address][]Rate, error) {
	out := make(map[common.Address][]Rate, len(c.Routers))
	for i, r := range c.Routers {
		router, err := crypto.ParseAddress(r.Address)
		if err != nil {
			return nil, fmt.Errorf("config: routers[%d].Address: %w", i, err)
		}
		rates := make([]Rate, 0, len(r.Rates))
		for j, rc := range r.Rates {
			rate, err := rc.parse(c)
			if err != nil {
				return nil, fmt.Errorf("config: routers[%d].rates[%d]: %w", i, j, err)
			}
			rates = append(rates, rate)
		}
		out[router] = rates
	}
	return out, nil
}

func (rc RateConfig) parse(c *Config) (Rate, error) {
	src, err := c.ResolveAsset(rc.Src)
	if err != nil {
		return Rate{}, fmt.Errorf("Src: %w", err)
	}
	dst, err := c.ResolveAsset(rc.Dst)
	if err != nil {
		return Rate{}, fmt.Errorf("Dst: %w", err)
	}
	num, err := parseAmount(rc.Num)
	if err != nil {
		return Rate{}, fmt.Errorf("Num: %w", err)
	}
	den, err := parseAmount(rc.Den)
	if err != nil {
		return Rate{}, fmt.Errorf("Den: %w", err)
	}
	if den.Sign() == 0 {
		return Rate{}, fmt.Errorf("Den must be positive")
	}
	return Rate{Src: src, Dst: dst, Num: num, Den: den}, nil
}

// GenesisBalances returns the parsed ledger seed.
func (c *Config) GenesisBalances() ([]Balance, error) {
	out := make([]Balance, 0, len(c.Balances))
	for i, b := range c.Balances {
		holder, err := crypto.ParseAddress(b.Holder)
		if err != nil {
			return nil, fmt.Errorf("config: balances[%d].Holder: %w", i, err)
		}
		asset, err := c.ResolveAsset(b.Asset)
		if err != nil {
			return nil, fmt.Errorf("config: balances[%d].Asset: %w", i, err)
		}
		amount, err := parseAmount(b.Amount)
		if err != nil {
			return nil, fmt.Errorf("config: balances[%d].Amount: %w", i, err)
		}
		out = append(out, Balance{Holder: holder, Asset: asset, Amount: amount})
	}
	return out, nil
}

// ResolveAsset accepts a hex address, a configured symbol or "NATIVE".
func (c *Config) ResolveAsset(ref string) (common.Address, error) {
	symbol := NormalizeSymbol(ref)
	if symbol == "NATIVE" {
		return pool.NativeAsset, nil
	}
	for _, a := range c.Assets {
		if NormalizeSymbol(a.Symbol) == symbol {
			return crypto.ParseAddress(a.Address)
		}
	}
	return crypto.ParseAddress(ref)
}

// AssetLabel returns the configured symbol for asset or its hex form.
func (c *Config) AssetLabel(asset common.Address) string {
	if asset == pool.NativeAsset {
		return "NATIVE"
	}
	for _, a := range c.Assets {
		if addr, err := crypto.ParseAddress(a.Address); err == nil && addr == asset {
			return a.Symbol
		}
	}
	return asset.Hex()
}

func parseAddresses(field string, values []string) ([]common.Address, error) {
	out := make([]common.Address, 0, len(values))
	for i, v := range values {
		addr, err := crypto.ParseAddress(v)
		if err != nil {
			return nil, fmt.Errorf("config: %s[%d]: %w", field, i, err)
		}
		out = append(out, addr)
	}
	return out, nil
}

func parseAmount(v string) (*big.Int, error) {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", v)
	}
	return amount, nil
}

// createDefault writes a single-host development deployment: an owner key
// that is also the only whitelisted relayer, and DefaultSignerCount
// co-signer keystores next to the config file.
func createDefault(path string) (*Config, error) {
	dir := filepath.Dir(path)
	owner, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	ownerKeystore := filepath.Join(dir, "owner.keystore")
	ownerAddr, err := crypto.SaveToKeystore(ownerKeystore, owner, "")
	if err != nil {
		return nil, err
	}
	signers := make([]string, 0, DefaultSignerCount)
	for i := 0; i < DefaultSignerCount; i++ {
		key, err := crypto.GeneratePrivateKey()
		if err != nil {
			return nil, err
		}
		addr, err := crypto.SaveToKeystore(filepath.Join(dir, fmt.Sprintf("signer-%d.keystore", i+1)), key, "")
		if err != nil {
			return nil, err
		}
		signers = append(signers, addr.Hex())
	}
	cfg := &Config{
		Instance:      ethcrypto.CreateAddress(ownerAddr, 0).Hex(),
		ChainID:       1,
		DataDir:       filepath.Join(dir, "omnipool-data"),
		Owner:         ownerAddr.Hex(),
		OwnerKeystore: ownerKeystore,
		Signers:       signers,
		Whitelist:     []string{ownerAddr.Hex()},
		Gateway:       ethcrypto.CreateAddress(ownerAddr, 1).Hex(),
	}
	cfg.applyDefaults()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
