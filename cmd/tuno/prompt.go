package main

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/term"
)

func readPassphrase(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("passphrase required but stdin is not a terminal; set $TUNO_PASSPHRASE")
	}
	fmt.Fprint(os.Stderr, label)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	return string(b), nil
}

func promptPassphrase() (string, error) {
	return readPassphrase("Enter passphrase: ")
}

// promptNewPassphrase asks twice; an empty answer means no encryption.
func promptNewPassphrase() (string, error) {
	pass, err := readPassphrase("Enter passphrase (leave empty for no encryption): ")
	if err != nil || pass == "" {
		return pass, err
	}
	confirm, err := readPassphrase("Confirm passphrase: ")
	if err != nil {
		return "", err
	}
	if pass != confirm {
		return "", errors.New("passphrases do not match")
	}
	return pass, nil
}
