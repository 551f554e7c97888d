package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"charityledger/cmd/internal/passphrase"
	"charityledger/crypto"
)

const defaultKeyFile = "wallet.key"

// keystorePassphrase resolves the passphrase for a keystore file. Tests
// replace it to avoid prompting.
var keystorePassphrase = func(label string) (string, error) {
	return passphrase.NewSource(keystorePassEnv, label).Get()
}

func runGenerateKey(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("generate-key", flag.ContinueOnError)
	fs.SetOutput(stderr)
	out := fs.String("out", defaultKeyFile, "path of the key file to create")
	useKeystore := fs.Bool("keystore", false, "write an encrypted keystore instead of raw key bytes")
	force := fs.Bool("force", false, "overwrite an existing key file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	path := strings.TrimSpace(*out)
	if path == "" {
		fmt.Fprintln(stderr, "Error: --out is required")
		return 1
	}
	if _, err := os.Stat(path); err == nil && !*force {
		fmt.Fprintf(stderr, "Error: %s already exists; pass --force to replace it\n", path)
		return 1
	}

	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Fprintf(stderr, "Error generating key: %v\n", err)
		return 1
	}
	if *useKeystore {
		pass, err := keystorePassphrase("new signing keystore")
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if err := crypto.SaveToKeystore(path, key, pass); err != nil {
			fmt.Fprintf(stderr, "Error writing keystore: %v\n", err)
			return 1
		}
	} else if err := os.WriteFile(path, key.Bytes(), 0o600); err != nil {
		fmt.Fprintf(stderr, "Failed to save key to %s: %v\n", path, err)
		return 1
	}

	fmt.Fprintf(stdout, "Generated new key and saved to %s\n", path)
	fmt.Fprintf(stdout, "Your public address is: %s\n", key.PubKey().Address().String())
	fmt.Fprintln(stdout, "Store this file securely. Signing commands read it with --key.")
	return 0
}

func runAddress(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("address", flag.ContinueOnError)
	fs.SetOutput(stderr)
	keyFile := fs.String("key", defaultKeyFile, "signing key file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	key, err := loadPrivateKey(*keyFile)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, key.PubKey().Address().String())
	return 0
}

// loadPrivateKey reads either raw key bytes or a JSON keystore.
func loadPrivateKey(path string) (*crypto.PrivateKey, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("--key is required")
	}
	keyBytes, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("private key file %s not found. run charity-cli generate-key first", path)
		}
		return nil, fmt.Errorf("failed to read private key file %s: %w", path, err)
	}
	if len(keyBytes) == 0 {
		return nil, fmt.Errorf("private key file %s is empty. run charity-cli generate-key first", path)
	}
	if trimmed := bytes.TrimSpace(keyBytes); len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed) {
		pass, err := keystorePassphrase("signing keystore")
		if err != nil {
			return nil, err
		}
		key, err := crypto.LoadFromKeystore(path, pass)
		if err != nil {
			return nil, fmt.Errorf("failed to unlock keystore %s: %w", path, err)
		}
		return key, nil
	}
	key, err := crypto.PrivateKeyFromBytes(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key in %s: %w", path, err)
	}
	return key, nil
}
