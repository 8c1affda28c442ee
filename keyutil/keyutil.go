/*
 * Copyright © 2025 Streamplane Inc., All rights reserved.
 */

// Package keyutil provides partition key merging and identifier generation
// shared by all stores.
package keyutil

import (
	"crypto/rand"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const (
	// Delimiter separates key parts inside a merged partition key value.
	Delimiter = ':'
	// Escaper escapes the delimiter when it appears inside a key part.
	Escaper = '\\'
)

const apiKeyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// MergeStrings joins key parts into a single partition key value, escaping
// any delimiter occurrences so the merge is reversible.
func MergeStrings(parts ...string) string {
	if len(parts) == 0 {
		return ""
	}
	var b strings.Builder
	for i, part := range parts {
		for _, c := range part {
			switch c {
			case Escaper:
				b.WriteRune(Escaper)
				b.WriteRune(Escaper)
			case Delimiter:
				b.WriteRune(Escaper)
				b.WriteRune(Delimiter)
			default:
				b.WriteRune(c)
			}
		}
		if i+1 < len(parts) {
			b.WriteRune(Delimiter)
		}
	}
	return b.String()
}

// UnmergeString splits a merged partition key value back into its parts.
func UnmergeString(s string) []string {
	if s == "" {
		return nil
	}
	var parts []string
	var b strings.Builder
	escaped := false
	for _, c := range s {
		if escaped {
			escaped = false
			b.WriteRune(c)
			continue
		}
		switch c {
		case Escaper:
			escaped = true
		case Delimiter:
			parts = append(parts, b.String())
			b.Reset()
		default:
			b.WriteRune(c)
		}
	}
	parts = append(parts, b.String())
	return parts
}

// RandomID returns a dashless UUID suitable for session ids and lock
// reservation ids.
func RandomID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// SecureAPIKey returns a cryptographically random alphanumeric secret of the
// given length. Used for API keys handed to callers; must be unguessable.
func SecureAPIKey(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	max := big.NewInt(int64(len(apiKeyAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(apiKeyAlphabet[n.Int64()])
	}
	return b.String(), nil
}
