package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Hash represents a cryptographic hash
type Hash string

// NewHash creates a new hash from data
func NewHash(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// String returns the string representation
func (h Hash) String() string {
	return string(h)
}

// IsEmpty checks if the hash is empty
func (h Hash) IsEmpty() bool {
	return h == ""
}

// Equals checks if two hashes are equal
func (h Hash) Equals(other Hash) bool {
	return h == other
}

// Domain-specific hash types
type (
	DataHash    Hash
	DesignHash  Hash
	CodeVersion Hash
)

// Constructors
func NewDataHash(data []byte) DataHash       { return DataHash(NewHash(data)) }
func NewDesignHash(data []byte) DesignHash   { return DesignHash(NewHash(data)) }
func NewCodeVersion(data []byte) CodeVersion { return CodeVersion(NewHash(data)) }

// String conversions
func (h DataHash) String() string    { return Hash(h).String() }
func (h DesignHash) String() string  { return Hash(h).String() }
func (h CodeVersion) String() string { return Hash(h).String() }

// ComputeDataHash fingerprints a count table as sorted sample/group/count triples.
func ComputeDataHash(cells map[string]int) DataHash {
	keys := make([]string, 0, len(cells))
	for k := range cells {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var data strings.Builder
	for _, key := range keys {
		data.WriteString(key)
		data.WriteString(fmt.Sprintf("=%d;", cells[key]))
	}

	return NewDataHash([]byte(data.String()))
}

// ComputeDesignHash fingerprints a design: formulas plus ordered column labels.
func ComputeDesignHash(formulas []string, columns []string) DesignHash {
	var data strings.Builder
	for _, f := range formulas {
		data.WriteString(f)
		data.WriteString("|")
	}
	for _, c := range columns {
		data.WriteString(c)
		data.WriteString(",")
	}
	return NewDesignHash([]byte(data.String()))
}
