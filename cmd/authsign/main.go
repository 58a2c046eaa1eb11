// Command authsign produces request headers proving an identity authorized
// one marketplace invocation. It is a development companion to marketd.
//
//	authsign jwt -secret s3cret -identity seller create_listing seller nft 100 2
//	authsign evm -key <hex> buy_listing 0xBuyer 7
//	authsign keygen
package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Aidin1998/lotmarket/api"
	"github.com/Aidin1998/lotmarket/internal/auth"
	"github.com/Aidin1998/lotmarket/pkg/models"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "jwt":
		err = runJWT(os.Args[2:])
	case "evm":
		err = runEVM(os.Args[2:])
	case "keygen":
		err = runKeygen()
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "authsign:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: authsign jwt|evm [flags] <function> [args...]")
	fmt.Fprintln(os.Stderr, "       authsign keygen")
}

// invocationFrom reads the function name and its arguments. Arguments are
// taken in their canonical form: decimal integers for amounts and ids.
func invocationFrom(fs *flag.FlagSet, contract string) (auth.Invocation, error) {
	if fs.NArg() < 1 {
		return auth.Invocation{}, fmt.Errorf("missing function name")
	}
	args := make([]any, 0, fs.NArg()-1)
	for _, a := range fs.Args()[1:] {
		args = append(args, a)
	}
	return auth.NewInvocation(models.Identity(contract), models.Operation(fs.Arg(0)), args...), nil
}

func runJWT(argv []string) error {
	fs := flag.NewFlagSet("jwt", flag.ExitOnError)
	contract := fs.String("contract", "lotmarket", "marketplace address")
	identity := fs.String("identity", "", "identity authorizing the call")
	secret := fs.String("secret", os.Getenv("MARKETD_AUTH_JWT_SECRET"), "shared HS256 secret")
	issuer := fs.String("issuer", "lotmarket", "token issuer")
	ttl := fs.Duration("ttl", 5*time.Minute, "token lifetime")
	if err := fs.Parse(argv); err != nil {
		return err
	}
	if *identity == "" || *secret == "" {
		return fmt.Errorf("-identity and -secret are required")
	}
	inv, err := invocationFrom(fs, *contract)
	if err != nil {
		return err
	}
	token, err := auth.NewJWTIssuer([]byte(*secret), *issuer, *ttl).Issue(models.Identity(*identity), inv)
	if err != nil {
		return err
	}
	return emit(inv, map[string]string{
		api.HeaderIdentity: *identity,
		"Authorization":    "Bearer " + token,
	})
}

func runEVM(argv []string) error {
	fs := flag.NewFlagSet("evm", flag.ExitOnError)
	contract := fs.String("contract", "lotmarket", "marketplace address")
	keyHex := fs.String("key", os.Getenv("AUTHSIGN_EVM_KEY"), "hex secp256k1 private key")
	nonce := fs.String("nonce", "", "nonce to sign (random when empty)")
	if err := fs.Parse(argv); err != nil {
		return err
	}
	key, err := crypto.HexToECDSA(*keyHex)
	if err != nil {
		return fmt.Errorf("invalid -key: %w", err)
	}
	inv, err := invocationFrom(fs, *contract)
	if err != nil {
		return err
	}
	if *nonce == "" {
		*nonce = uuid.NewString()
	}
	sig, err := auth.SignEVM(key, inv, *nonce)
	if err != nil {
		return err
	}
	return emit(inv, map[string]string{
		api.HeaderIdentity:  string(auth.EVMIdentity(key)),
		api.HeaderSignature: sig,
		api.HeaderNonce:     *nonce,
	})
}

func runKeygen() error {
	key, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(map[string]string{
		"private_key": hex.EncodeToString(crypto.FromECDSA(key)),
		"address":     string(auth.EVMIdentity(key)),
	})
}

func emit(inv auth.Invocation, headers map[string]string) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Invocation string            `json:"invocation"`
		Headers    map[string]string `json:"headers"`
	}{inv.String(), headers})
}
