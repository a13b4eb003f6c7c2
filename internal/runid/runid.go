// Package runid generates prefixed random identifiers for runs and publish
// attempts.
package runid

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/rs/zerolog/log"
)

// New creates a cryptographically random ID with the given prefix. The
// prefix should include a trailing dash, e.g. "run-", "att-".
func New(prefix string) string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		log.Fatal().Err(err).Msgf("Failed to generate random %s ID", prefix)
	}
	return prefix + hex.EncodeToString(b)
}
