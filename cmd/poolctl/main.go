package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"omnipool/cmd/internal/passphrase"
	"omnipool/crypto"
	"omnipool/native/pool"
	"omnipool/services/poold"
)

const (
	defaultPassEnv   = "POOLCTL_KEYSTORE_PASS"
	defaultSecretEnv = "POOLD_HMAC_SECRET"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	var err error
	switch os.Args[1] {
	case "keygen":
		err = runKeygen(os.Args[2:])
	case "address":
		err = runAddress(os.Args[2:])
	case "digest":
		err = runDigest(os.Args[2:])
	case "sign":
		err = runSign(os.Args[2:])
	case "token":
		err = runToken(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: poolctl <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  keygen    create an encrypted signer keystore")
	fmt.Fprintln(os.Stderr, "  address   print the address held by a keystore")
	fmt.Fprintln(os.Stderr, "  digest    print the order digest a co-signer approves")
	fmt.Fprintln(os.Stderr, "  sign      sign an order digest with a keystore")
	fmt.Fprintln(os.Stderr, "  token     issue a poold bearer token")
}

func runKeygen(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	keystorePath := fs.String("keystore", "signer.keystore", "Output path for the keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	force := fs.Bool("force", false, "Overwrite an existing keystore file")
	_ = fs.Parse(args)

	if _, err := os.Stat(*keystorePath); err == nil && !*force {
		return fmt.Errorf("keystore %s already exists; use -force to overwrite", *keystorePath)
	}
	pass, err := passphrase.NewSource(*passEnv, passphrase.WithPrompt("New signer keystore passphrase: "), passphrase.WithConfirmation()).Get()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	addr, err := crypto.SaveToKeystore(*keystorePath, key, pass)
	if err != nil {
		return err
	}
	fmt.Println(addr.Hex())
	return nil
}

func runAddress(args []string) error {
	fs := flag.NewFlagSet("address", flag.ExitOnError)
	keystorePath := fs.String("keystore", "signer.keystore", "Path to the keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	_ = fs.Parse(args)

	key, err := loadKey(*keystorePath, *passEnv)
	if err != nil {
		return err
	}
	fmt.Println(key.Address().Hex())
	return nil
}

func runDigest(args []string) error {
	fs := flag.NewFlagSet("digest", flag.ExitOnError)
	var opts orderFlags
	opts.register(fs)
	_ = fs.Parse(args)

	req, err := opts.request()
	if err != nil {
		return err
	}
	digest, err := req.Digest()
	if err != nil {
		return err
	}
	fmt.Println(digest.Hex())
	return nil
}

func runSign(args []string) error {
	fs := flag.NewFlagSet("sign", flag.ExitOnError)
	keystorePath := fs.String("keystore", "signer.keystore", "Path to the keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	var opts orderFlags
	opts.register(fs)
	_ = fs.Parse(args)

	req, err := opts.request()
	if err != nil {
		return err
	}
	digest, err := req.Digest()
	if err != nil {
		return err
	}
	key, err := loadKey(*keystorePath, *passEnv)
	if err != nil {
		return err
	}
	sig, err := crypto.SignPersonal(key, digest)
	if err != nil {
		return err
	}
	fmt.Printf("signer:    %s\n", key.Address().Hex())
	fmt.Printf("digest:    %s\n", digest.Hex())
	fmt.Printf("signature: 0x%s\n", hex.EncodeToString(sig))
	return nil
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	secretEnv := fs.String("secret-env", defaultSecretEnv, "Environment variable containing the HMAC secret")
	subject := fs.String("subject", "", "Caller address the token authenticates")
	issuer := fs.String("issuer", "", "Token issuer")
	audience := fs.String("audience", "", "Token audience")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	_ = fs.Parse(args)

	secret := strings.TrimSpace(os.Getenv(*secretEnv))
	if secret == "" {
		return fmt.Errorf("%s is not set", *secretEnv)
	}
	addr, err := crypto.ParseAddress(*subject)
	if err != nil {
		return fmt.Errorf("subject: %w", err)
	}
	token, err := poold.IssueToken(secret, addr, *issuer, *audience, *ttl, time.Now())
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func loadKey(path, passEnv string) (*crypto.PrivateKey, error) {
	pass, err := passphrase.NewSource(passEnv).Get()
	if err != nil {
		return nil, err
	}
	return crypto.LoadFromKeystore(path, pass)
}

// orderFlags holds the fields of every order message. Each domain reads the
// subset it signs.
type orderFlags struct {
	domain    string
	recipient string
	asset     string
	amount    string
	fee       string
	destRef   string
	expire    string
	orderID   string
	contract  string
	chainID   string
}

func (o *orderFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&o.domain, "domain", pool.DomainPool, "Order domain (POOL, FEE, ETHER, ERC20, SWAP_POOL, SWAP_USER, OMNI, USER, SWAP_BRIDGE)")
	fs.StringVar(&o.recipient, "recipient", "", "Recipient, or the credited user for OMNI and SWAP_BRIDGE")
	fs.StringVar(&o.asset, "asset", "", "Asset address (source asset for swaps)")
	fs.StringVar(&o.amount, "amount", "0", "Amount in base units")
	fs.StringVar(&o.fee, "fee", "0", "Fee in base units")
	fs.StringVar(&o.destRef, "dest-ref", "", "32-byte destination reference for OMNI and SWAP_BRIDGE")
	fs.StringVar(&o.expire, "expire", "", "Order expiry as a unix timestamp")
	fs.StringVar(&o.orderID, "order-id", "", "Order id")
	fs.StringVar(&o.contract, "contract", "", "Pool instance address")
	fs.StringVar(&o.chainID, "chain-id", "", "Chain id for ETHER and ERC20")
}

func (o orderFlags) request() (pool.AuthRequest, error) {
	recipient, err := crypto.ParseAddress(o.recipient)
	if err != nil {
		return pool.AuthRequest{}, fmt.Errorf("recipient: %w", err)
	}
	contract, err := crypto.ParseAddress(o.contract)
	if err != nil {
		return pool.AuthRequest{}, fmt.Errorf("contract: %w", err)
	}
	amount, err := parseUint("amount", o.amount)
	if err != nil {
		return pool.AuthRequest{}, err
	}
	fee, err := parseUint("fee", o.fee)
	if err != nil {
		return pool.AuthRequest{}, err
	}
	expire, err := parseUint("expire", o.expire)
	if err != nil {
		return pool.AuthRequest{}, err
	}
	id, err := parseUint("order-id", o.orderID)
	if err != nil {
		return pool.AuthRequest{}, err
	}

	domain := strings.ToUpper(strings.TrimSpace(o.domain))
	if domain == pool.DomainEther {
		chainID, err := parseUint("chain-id", o.chainID)
		if err != nil {
			return pool.AuthRequest{}, err
		}
		return pool.EtherRequest(recipient, amount, expire, id, contract, chainID), nil
	}
	asset, err := parseAsset(o.asset)
	if err != nil {
		return pool.AuthRequest{}, err
	}
	switch domain {
	case pool.DomainPool, pool.DomainFee:
		return pool.WithdrawRequest(domain, recipient, amount, asset, expire, id, contract), nil
	case pool.DomainERC20:
		chainID, err := parseUint("chain-id", o.chainID)
		if err != nil {
			return pool.AuthRequest{}, err
		}
		return pool.ERC20Request(recipient, amount, asset, expire, id, contract, chainID), nil
	case pool.DomainSwapPool, pool.DomainSwapUser:
		return pool.SwapRequest(domain, recipient, amount, asset, fee, expire, id, contract), nil
	case pool.DomainOmni, pool.DomainSwapBridge:
		ref, err := pool.ParseDestinationRef(o.destRef)
		if err != nil {
			return pool.AuthRequest{}, fmt.Errorf("dest-ref: %w", err)
		}
		return pool.OmniRequest(domain, recipient, amount, asset, ref, fee, expire, id, contract), nil
	case pool.DomainUser:
		return pool.UserWithdrawRequest(recipient, amount, asset, fee, expire, id, contract), nil
	default:
		return pool.AuthRequest{}, fmt.Errorf("unknown domain %q", o.domain)
	}
}

func parseAsset(raw string) (common.Address, error) {
	if strings.EqualFold(strings.TrimSpace(raw), "NATIVE") {
		return pool.NativeAsset, nil
	}
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("asset: %w", err)
	}
	return addr, nil
}

func parseUint(field, raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%s is required", field)
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || v.Sign() < 0 {
		return nil, errors.New(field + " must be a non-negative integer")
	}
	return v, nil
}
