// Package worm provides WORM-integrity helpers: a tamper-evident hash chain
// over cleanup run records and a canonical digest of each run's outcome.
package worm

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
)

// GenesisHash is the well-known seed for the first run in a chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// ChainHash computes the next link in the audit chain:
// SHA-256(prevChainHash || outcomeDigest || runID).
func ChainHash(prevChainHash, outcomeDigest, runID string) string {
	h := sha256.New()
	h.Write([]byte(prevChainHash))
	h.Write([]byte(outcomeDigest))
	h.Write([]byte(runID))
	return hex.EncodeToString(h.Sum(nil))
}

// Outcome is the part of a run record the digest covers.
type Outcome struct {
	State      string
	ErrMsg     string
	DeletedIDs []string
	FailedIDs  []string
}

// OutcomeDigest hashes a run's state, error and ids in order. Every field is
// length-prefixed, so no id content can shift the boundary between fields or
// move an id from one list to the other.
func OutcomeDigest(o Outcome) string {
	h := sha256.New()
	writeField(h, o.State)
	writeField(h, o.ErrMsg)
	writeList(h, o.DeletedIDs)
	writeList(h, o.FailedIDs)
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(w io.Writer, s string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	w.Write(n[:])
	io.WriteString(w, s)
}

func writeList(w io.Writer, items []string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(items)))
	w.Write(n[:])
	for _, it := range items {
		writeField(w, it)
	}
}

// Link is one stored chain entry, oldest first.
type Link struct {
	RunID     string
	Digest    string
	ChainHash string
}

// BreakError reports the first link whose stored hash does not match.
type BreakError struct {
	Index    int
	RunID    string
	Expected string
	Stored   string
}

func (e *BreakError) Error() string {
	return fmt.Sprintf("worm: chain broken at link %d (run %s): expected %s, stored %s",
		e.Index, e.RunID, e.Expected, e.Stored)
}

// Verifier checks links one at a time so callers can stream rows.
type Verifier struct {
	prev  string
	count int
}

func NewVerifier() *Verifier {
	return &Verifier{prev: GenesisHash}
}

// Next checks l against the running chain and returns a *BreakError on mismatch.
func (v *Verifier) Next(l Link) error {
	expected := ChainHash(v.prev, l.Digest, l.RunID)
	if expected != l.ChainHash {
		return &BreakError{Index: v.count, RunID: l.RunID, Expected: expected, Stored: l.ChainHash}
	}
	v.prev = l.ChainHash
	v.count++
	return nil
}

// Count is the number of links verified so far.
func (v *Verifier) Count() int { return v.count }

// Head is the last verified chain hash.
func (v *Verifier) Head() string { return v.prev }
