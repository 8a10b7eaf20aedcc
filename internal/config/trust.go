package config

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// LoadTrustAnchors reads a file of one 64-char hex-encoded static public key
// per line (blank lines and lines starting with '#' ignored) and returns a
// thp.VerifyStaticKey-compatible predicate over the resulting set. An empty
// path means "trust nothing yet" (returns a predicate that always rejects,
// appropriate for a host's very first pairing attempt).
func LoadTrustAnchors(path string) (func(pub [32]byte) bool, error) {
	if path == "" {
		return func([32]byte) bool { return false }, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: opening trust anchor file %s: %w", path, err)
	}
	defer f.Close()

	anchors := make(map[[32]byte]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		raw, err := hex.DecodeString(line)
		if err != nil || len(raw) != 32 {
			return nil, fmt.Errorf("config: trust anchor file %s: invalid key %q", path, line)
		}
		var key [32]byte
		copy(key[:], raw)
		anchors[key] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: reading trust anchor file %s: %w", path, err)
	}

	return func(pub [32]byte) bool {
		_, ok := anchors[pub]
		return ok
	}, nil
}
