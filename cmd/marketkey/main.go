// Command marketkey encrypts the custody operator's private key into the file
// format marketd reads, or prints the address of an existing key file.
//
// The plaintext key and the password are read from environment variables so
// they never appear in shell history.
package main

import (
	"errors"
	"fmt"
	"os"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/pflag"

	"github.com/alanyoungcy/eventmarket/internal/crypto"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		out         string
		show        string
		keyEnv      string
		passwordEnv string
	)
	flagSet := pflag.NewFlagSet("marketkey", pflag.ContinueOnError)
	flagSet.StringVarP(&out, "out", "o", "operator.key.json", "where to write the encrypted key")
	flagSet.StringVar(&show, "show", "", "decrypt this key file and print its address")
	flagSet.StringVar(&keyEnv, "key-env", "MARKETD_OPERATOR_KEY", "environment variable holding the hex private key")
	flagSet.StringVar(&passwordEnv, "password-env", "MARKETD_KEY_PASSWORD", "environment variable holding the encryption password")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	password := os.Getenv(passwordEnv)
	if password == "" {
		return fmt.Errorf("%s is not set", passwordEnv)
	}

	if show != "" {
		key, err := crypto.LoadKey(crypto.KeyConfig{EncryptedKeyPath: show, KeyPassword: password})
		if err != nil {
			return err
		}
		fmt.Println(ethcrypto.PubkeyToAddress(key.PublicKey).Hex())
		return nil
	}

	raw := os.Getenv(keyEnv)
	if raw == "" {
		return fmt.Errorf("%s is not set", keyEnv)
	}
	blob, err := crypto.EncryptKey(raw, password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, blob, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", out, err)
	}
	key, err := crypto.ParseKey(raw)
	if err != nil {
		return err
	}
	fmt.Printf("wrote %s for operator %s\n", out, ethcrypto.PubkeyToAddress(key.PublicKey).Hex())
	return nil
}
