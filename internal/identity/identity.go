// Package identity derives deterministic instance IDs.
//
// An ID packs the rule index into the first 8 bytes and the sequence number
// into the last 8 bytes of a 16-byte value, both big-endian, rendered in the
// familiar 8-4-4-4-12 hex layout. The same inputs always produce the same ID,
// which is what makes regeneration idempotent without a central counter.
package identity

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const (
	// MaxRuleIndex is the largest supported rule index.
	MaxRuleIndex = 255
	// MaxSequenceNumber is the largest supported sequence number (48 bits).
	MaxSequenceNumber = 1<<48 - 1
)

var (
	ErrRuleIndexRange = errors.New("rule index out of range")
	ErrSequenceRange  = errors.New("sequence number out of range")
)

// DeriveID returns the ID for the sequenceNumber-th instance of the
// ruleIndex-th rule. It fails instead of truncating when either input is out
// of range.
func DeriveID(ruleIndex, sequenceNumber int) (string, error) {
	if ruleIndex < 0 || ruleIndex > MaxRuleIndex {
		return "", fmt.Errorf("%w: %d (max %d)", ErrRuleIndexRange, ruleIndex, MaxRuleIndex)
	}
	if sequenceNumber < 0 || int64(sequenceNumber) > MaxSequenceNumber {
		return "", fmt.Errorf("%w: %d (max %d)", ErrSequenceRange, sequenceNumber, int64(MaxSequenceNumber))
	}

	var id uuid.UUID
	binary.BigEndian.PutUint64(id[0:8], uint64(ruleIndex))
	binary.BigEndian.PutUint64(id[8:16], uint64(sequenceNumber))
	return id.String(), nil
}

// Parse recovers the rule index and sequence number from an ID produced by
// DeriveID.
func Parse(id string) (ruleIndex, sequenceNumber int, err error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to parse instance id: %w", err)
	}
	ri := binary.BigEndian.Uint64(u[0:8])
	seq := binary.BigEndian.Uint64(u[8:16])
	if ri > MaxRuleIndex {
		return 0, 0, fmt.Errorf("%w: %d", ErrRuleIndexRange, ri)
	}
	if seq > MaxSequenceNumber {
		return 0, 0, fmt.Errorf("%w: %d", ErrSequenceRange, seq)
	}
	return int(ri), int(seq), nil
}
