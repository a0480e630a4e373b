package main

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/TunoMedia/TunoMedia/internal/crypto"
)

var (
	keygenKeystore     string
	keygenNoPassphrase bool
	keygenForce        bool
)

var errIdentityExists = errors.New("identity already exists")

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate the account key used to pay and to receive royalties",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := keystorePath()

		passphrase := cfg.Identity.Passphrase
		if passphrase == "" && !keygenNoPassphrase {
			var err error
			if passphrase, err = promptNewPassphrase(); err != nil {
				return err
			}
		}

		kp, written, err := generateIdentity(path, passphrase, keygenForce)
		if errors.Is(err, errIdentityExists) {
			return fmt.Errorf("%w at %s (use --force to replace it)", err, written)
		}
		if err != nil {
			return err
		}

		color.Green("Identity generated")
		fmt.Printf("Address:     %s\n", kp.Address().Hex())
		fmt.Printf("Public key:  %s\n", base64.StdEncoding.EncodeToString(kp.PublicKey))
		fmt.Printf("Fingerprint: %s\n", fingerprint(kp.PublicKey))
		fmt.Printf("Stored in:   %s\n", written)
		if passphrase == "" {
			color.Yellow("WARNING: key stored WITHOUT encryption")
		}
		return nil
	},
}

var keygenShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the account address",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := existingKeystore(keystorePath())
		if path == "" {
			return fmt.Errorf("no identity at %s; run 'tuno keygen' first", keystorePath())
		}
		addr, err := crypto.ReadAddress(path)
		if err != nil {
			return err
		}
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		fmt.Printf("Address:  %s\n", addr.Hex())
		fmt.Printf("Keystore: %s\n", path)
		fmt.Println("Key Type: Ed25519")
		fmt.Printf("Created:  %s\n", info.ModTime().Format(time.RFC3339))
		return nil
	},
}

func keystorePath() string {
	if keygenKeystore != "" {
		return keygenKeystore
	}
	return cfg.Identity.Keystore
}

// existingKeystore returns the encrypted or insecure keystore at path, or "".
func existingKeystore(path string) string {
	for _, p := range []string{path, path + ".insecure"} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func generateIdentity(path, passphrase string, force bool) (*crypto.Ed25519KeyPair, string, error) {
	if existing := existingKeystore(path); existing != "" {
		if !force {
			return nil, existing, errIdentityExists
		}
		if err := os.Remove(existing); err != nil {
			return nil, "", err
		}
	}

	kp, err := crypto.GenerateEd25519()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate keypair: %w", err)
	}
	written, err := crypto.SaveKey(kp.PrivateKey, path, passphrase)
	if err != nil {
		return nil, "", fmt.Errorf("failed to save private key: %w", err)
	}
	return kp, written, nil
}

func fingerprint(pub []byte) string {
	sum := sha256.Sum256(pub)
	return fmt.Sprintf("SHA256:%x", sum[:8])
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.AddCommand(keygenShowCmd)
	keygenCmd.PersistentFlags().StringVar(&keygenKeystore, "keystore", "", "Keystore path (default: identity.keystore)")
	keygenCmd.Flags().BoolVar(&keygenNoPassphrase, "no-passphrase", false, "Store the key without encryption")
	keygenCmd.Flags().BoolVar(&keygenForce, "force", false, "Replace an existing key")
}
