// Package revision implements CouchDB's "_rev" optimistic-concurrency
// token: parsing, canonical hashing, and generation bumping.
package revision

import (
	"crypto/md5" //nolint:gosec // compatibility hash, not a security boundary
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/couchmongo/couchmongo/internal/apperr"
)

// Rev is a parsed revision token: a generation counter and the MD5 of the
// canonical document body at that generation.
type Rev struct {
	Gen  uint32
	Hash [16]byte
}

const maxGen = 1 << 31

// Parse splits a wire-form revision "<gen>-<hex32>" into its components.
// Any other shape is rejected as a bad-request error.
func Parse(s string) (Rev, error) {
	i := strings.IndexByte(s, '-')
	if i <= 0 || i == len(s)-1 {
		return Rev{}, apperr.BadRequest("invalid rev format: %q", s)
	}
	genPart, hashPart := s[:i], s[i+1:]

	gen, err := strconv.ParseUint(genPart, 10, 32)
	if err != nil || gen == 0 || gen > maxGen {
		return Rev{}, apperr.BadRequest("invalid rev generation: %q", s)
	}
	if len(hashPart) != 32 {
		return Rev{}, apperr.BadRequest("invalid rev hash: %q", s)
	}
	raw, err := hex.DecodeString(hashPart)
	if err != nil {
		return Rev{}, apperr.BadRequest("invalid rev hash: %q", s)
	}
	for _, c := range hashPart {
		if c >= 'A' && c <= 'F' {
			return Rev{}, apperr.BadRequest("invalid rev hash: %q", s)
		}
	}
	var rev Rev
	rev.Gen = uint32(gen)
	copy(rev.Hash[:], raw)
	return rev, nil
}

// String renders the wire form "<gen>-<hex32>".
func (r Rev) String() string {
	return strconv.FormatUint(uint64(r.Gen), 10) + "-" + hex.EncodeToString(r.Hash[:])
}

// Compute canonicalises body (sorted keys at every level, no insignificant
// whitespace, Go's shortest round-trip number form) excluding "_rev", and
// returns the MD5 of the UTF-8 bytes. body is not mutated.
func Compute(body map[string]interface{}) ([16]byte, error) {
	clean := make(map[string]interface{}, len(body))
	for k, v := range body {
		if k == "_rev" {
			continue
		}
		clean[k] = v
	}
	// encoding/json sorts map[string]interface{} keys lexicographically and
	// emits no insignificant whitespace, which is exactly canonical form here.
	raw, err := json.Marshal(clean)
	if err != nil {
		return [16]byte{}, apperr.Internal(err)
	}
	sum := md5.Sum(raw) //nolint:gosec
	return sum, nil
}

// Bump computes the next revision following prev (the zero Rev for a
// first write) over newBody.
func Bump(prev Rev, newBody map[string]interface{}) (Rev, error) {
	hash, err := Compute(newBody)
	if err != nil {
		return Rev{}, err
	}
	return Rev{Gen: prev.Gen + 1, Hash: hash}, nil
}
