// Package validation holds the checks used when loading configuration and CLI input.
package validation

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidPath   = errors.New("invalid file path")
	ErrPathNotExists = errors.New("path does not exist")
	ErrInvalidAddr   = errors.New("invalid listen address")
	ErrInvalidURL    = errors.New("invalid url")
	ErrEmptyString   = errors.New("value must not be empty")
	ErrOutOfRange    = errors.New("value out of range")
	ErrNotAllowed    = errors.New("value not allowed")
)

func ValidateFilePath(p string, mustExist bool) error {
	if p == "" {
		return ErrInvalidPath
	}
	p = filepath.Clean(p)
	if mustExist {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("%w: %v", ErrPathNotExists, err)
		}
	}
	return nil
}

// ValidateAddr checks a host:port listen address. An empty host is allowed.
func ValidateAddr(addr string) error {
	if addr == "" {
		return ErrInvalidAddr
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddr, err)
	}
	return nil
}

// ValidateURL checks an absolute http(s) url.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return nil
}

func ValidateStringNonEmpty(s string) error {
	if strings.TrimSpace(s) == "" {
		return ErrEmptyString
	}
	return nil
}

func ValidateRangeInt(v, min, max int) error {
	if v < min || v > max {
		return fmt.Errorf("%w: %d not in [%d,%d]", ErrOutOfRange, v, min, max)
	}
	return nil
}

// ValidateOneOf checks v against a fixed set of choices.
func ValidateOneOf(v string, choices ...string) error {
	for _, c := range choices {
		if v == c {
			return nil
		}
	}
	return fmt.Errorf("%w: %q (want one of %s)", ErrNotAllowed, v, strings.Join(choices, ", "))
}
