package api

import (
	"crypto/rand"
	"strings"
)

// Identifiers are a short type prefix followed by idLength random
// alphanumerics, e.g. "run_4fQx...".
const idLength = 24

const (
	runPrefix     = "run_"
	ratingPrefix  = "rate_"
	datasetPrefix = "ds_"
)

const idAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// NewRunID returns a fresh run identifier.
func NewRunID() string { return newID(runPrefix) }

// NewRatingID returns a fresh rating identifier.
func NewRatingID() string { return newID(ratingPrefix) }

// NewDatasetID returns a fresh dataset identifier.
func NewDatasetID() string { return newID(datasetPrefix) }

// ValidateRunID reports whether id is shaped like a run identifier.
func ValidateRunID(id string) bool { return isID(runPrefix, id) }

// ValidateRatingID reports whether id is shaped like a rating identifier.
func ValidateRatingID(id string) bool { return isID(ratingPrefix, id) }

// ValidateDatasetID reports whether id is shaped like a dataset identifier.
func ValidateDatasetID(id string) bool { return isID(datasetPrefix, id) }

func newID(prefix string) string {
	// 62 symbols: rejecting bytes >= 248 keeps the choice uniform.
	out := make([]byte, 0, idLength)
	buf := make([]byte, idLength*2)
	for len(out) < idLength {
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand: " + err.Error())
		}
		for _, b := range buf {
			if b >= 248 {
				continue
			}
			out = append(out, idAlphabet[int(b)%len(idAlphabet)])
			if len(out) == idLength {
				break
			}
		}
	}
	return prefix + string(out)
}

func isID(prefix, id string) bool {
	rest, ok := strings.CutPrefix(id, prefix)
	if !ok || len(rest) != idLength {
		return false
	}
	for i := 0; i < len(rest); i++ {
		if strings.IndexByte(idAlphabet, rest[i]) < 0 {
			return false
		}
	}
	return true
}
