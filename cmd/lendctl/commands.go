package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"intentlend/cmd/internal/passphrase"
	engineconfig "intentlend/config"
	"intentlend/crypto"
	"intentlend/native/intents"
)

// signedIntent is the output of the sign commands and the shape expected by
// the matcher when it assembles a match request.
type signedIntent struct {
	Signer    string        `json:"signer"`
	Hash      string        `json:"hash"`
	Signature hexutil.Bytes `json:"signature"`
}

func runKeygen(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	path := fs.String("out", "signer.keystore", "Output path for the keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	light := fs.Bool("light", false, "Use cheap scrypt parameters (development keys only)")
	force := fs.Bool("force", false, "Overwrite an existing keystore file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if !*force {
		if _, err := os.Stat(*path); err == nil {
			return fmt.Errorf("keystore file %s already exists (use --force to overwrite)", *path)
		} else if !os.IsNotExist(err) {
			return err
		}
	}
	pass, err := passphrase.NewSource(*passEnv, "new keystore").WithConfirmation().Get()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	params := crypto.StandardKeystore
	if *light {
		params = crypto.LightKeystore
	}
	if err := crypto.SaveToKeystore(*path, key, pass, params); err != nil {
		return fmt.Errorf("failed to write keystore: %w", err)
	}
	return printAddress(out, key.Address())
}

func runAddress(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("address", flag.ContinueOnError)
	path := fs.String("keystore", "signer.keystore", "Keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := loadKey(*path, *passEnv)
	if err != nil {
		return err
	}
	return printAddress(out, key.Address())
}

type intentFlags struct {
	keystore *string
	passEnv  *string
	config   *string
	intent   *string
}

func newIntentFlags(name string, withKey bool) (*flag.FlagSet, intentFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	f := intentFlags{
		config: fs.String("config", defaultConfig, "Engine TOML config carrying the signing domain"),
		intent: fs.String("intent", "-", "Intent JSON file, or - for stdin"),
	}
	if withKey {
		f.keystore = fs.String("keystore", "signer.keystore", "Keystore file")
		f.passEnv = fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	}
	return fs, f
}

func runSignBorrow(args []string, out io.Writer) error {
	fs, f := newIntentFlags("sign-borrow", true)
	if err := fs.Parse(args); err != nil {
		return err
	}
	var intent intents.BorrowIntent
	domain, key, err := prepareSigning(f, &intent)
	if err != nil {
		return err
	}
	if key.Address() != intent.Borrower {
		return fmt.Errorf("keystore address %s does not match borrower %s", key.Address(), intent.Borrower)
	}
	hash, err := intent.Hash(domain)
	if err != nil {
		return err
	}
	sig, err := intents.SignBorrowIntent(key, &intent, domain)
	if err != nil {
		return err
	}
	return writeSigned(out, key.Address(), hash, sig)
}

func runSignLend(args []string, out io.Writer) error {
	fs, f := newIntentFlags("sign-lend", true)
	if err := fs.Parse(args); err != nil {
		return err
	}
	var intent intents.LendIntent
	domain, key, err := prepareSigning(f, &intent)
	if err != nil {
		return err
	}
	hash, err := intent.Hash(domain)
	if err != nil {
		return err
	}
	sig, err := intents.SignLendIntent(key, &intent, domain)
	if err != nil {
		return err
	}
	if key.Address() != intent.LenderSigner {
		fmt.Fprintf(os.Stderr, "note: %s signs for contract signer %s; it must be a configured delegate owner\n", key.Address(), intent.LenderSigner)
	}
	return writeSigned(out, key.Address(), hash, sig)
}

func runHash(args []string, out io.Writer) error {
	fs, f := newIntentFlags("hash", false)
	kind := fs.String("kind", "borrow", "Intent kind: borrow or lend")
	if err := fs.Parse(args); err != nil {
		return err
	}
	domain, err := loadDomain(*f.config)
	if err != nil {
		return err
	}
	var hash [32]byte
	switch strings.ToLower(*kind) {
	case "borrow":
		var intent intents.BorrowIntent
		if err := readIntent(*f.intent, &intent); err != nil {
			return err
		}
		hash, err = intent.Hash(domain)
	case "lend":
		var intent intents.LendIntent
		if err := readIntent(*f.intent, &intent); err != nil {
			return err
		}
		hash, err = intent.Hash(domain)
	default:
		return fmt.Errorf("unknown intent kind %q", *kind)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, hexutil.Encode(hash[:]))
	return err
}

func prepareSigning(f intentFlags, intent any) (intents.Domain, *crypto.PrivateKey, error) {
	domain, err := loadDomain(*f.config)
	if err != nil {
		return intents.Domain{}, nil, err
	}
	if err := readIntent(*f.intent, intent); err != nil {
		return intents.Domain{}, nil, err
	}
	key, err := loadKey(*f.keystore, *f.passEnv)
	if err != nil {
		return intents.Domain{}, nil, err
	}
	return domain, key, nil
}

// loadDomain reads only the domain section so the command never writes a
// default config the way the daemon loader does.
func loadDomain(path string) (intents.Domain, error) {
	var file struct {
		Domain engineconfig.Domain `toml:"domain"`
	}
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return intents.Domain{}, fmt.Errorf("failed to read config: %w", err)
	}
	domain := file.Domain.Signing()
	if !domain.Valid() {
		return intents.Domain{}, fmt.Errorf("config %s has an incomplete [domain] section", path)
	}
	return domain, nil
}

func readIntent(path string, dst any) error {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("failed to read intent: %w", err)
	}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("failed to decode intent: %w", err)
	}
	return nil
}

func loadKey(path, passEnv string) (*crypto.PrivateKey, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("keystore path required")
	}
	pass, err := passphrase.NewSource(passEnv, "signer keystore").Get()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt keystore: %w", err)
	}
	return key, nil
}

func printAddress(out io.Writer, addr crypto.Address) error {
	_, err := fmt.Fprintf(out, "%s\n%s\n", addr.String(), addr.Hex())
	return err
}

func writeSigned(out io.Writer, signer crypto.Address, hash [32]byte, sig []byte) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(signedIntent{
		Signer:    signer.String(),
		Hash:      hexutil.Encode(hash[:]),
		Signature: sig,
	})
}
