// Package identity computes deterministic content-addressed ids for work
// plan nodes (spec component C1).
//
// A node is encoded as a canonical JSON object and hashed with SHA-256; the
// lowercase hex digest is the node's id. Canonicalization relies on
// encoding/json's built-in behavior for map[string]any, which always
// serializes keys in sorted order and floats in their shortest round-trip
// form — the same two properties RFC 8785 requires for our purposes.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// NodeID is a 64-character lowercase hex SHA-256 digest.
type NodeID string

// String implements fmt.Stringer.
func (id NodeID) String() string { return string(id) }

// IdentityError indicates a value could not be canonicalized and no
// pseudo-id policy applied.
type IdentityError struct {
	Reason string
	Err    error
}

func (e *IdentityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("identity: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("identity: %s", e.Reason)
}

func (e *IdentityError) Unwrap() error { return e.Err }

func hashCanonical(v any) (NodeID, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return "", &IdentityError{Reason: "canonicalize", Err: err}
	}
	sum := sha256.Sum256(encoded)
	return NodeID(hex.EncodeToString(sum[:])), nil
}

// Identifiable reports whether a value can be deterministically
// canonicalized into JSON. Primitive-library objects (e.g. images) that do
// not implement CanonicalValue are classified non-identifiable.
type Identifiable interface {
	// CanonicalValue returns a deterministic JSON-encodable representation
	// of the value for hashing purposes.
	CanonicalValue() (any, error)
}

// ConstantID computes the node id for a Constant carrying value v.
//
// If v cannot be canonicalized (it is neither a plain JSON-encodable value
// nor an Identifiable), a fresh UUID-based pseudo-id is returned and
// identifiable is false: the constant disables memoization.
func ConstantID(v any) (id NodeID, identifiable bool, err error) {
	canon, err := canonicalValue(v)
	if err != nil {
		return NodeID("nonid-" + uuid.NewString()), false, nil
	}
	id, err = hashCanonical(map[string]any{"type": "constant", "value": canon})
	if err != nil {
		return NodeID("nonid-" + uuid.NewString()), false, nil
	}
	return id, true, nil
}

func canonicalValue(v any) (any, error) {
	switch t := v.(type) {
	case nil, bool, string, float64, float32,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return t, nil
	case Identifiable:
		return t.CanonicalValue()
	default:
		// Attempt a best-effort plain marshal; json.Marshal fails loudly
		// (e.g. on functions/channels) rather than silently succeeding, so a
		// round trip through Marshal/Unmarshal is a sufficient identifiability
		// probe for ordinary structs, slices, and maps.
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		var decoded any
		if err := json.Unmarshal(encoded, &decoded); err != nil {
			return nil, err
		}
		return decoded, nil
	}
}

// OperationID computes the node id for an Operation with the given operator
// symbol and argument-key -> dependency-id mapping.
func OperationID(operator string, args map[string]NodeID) (NodeID, error) {
	encodedArgs := make(map[string]string, len(args))
	for k, v := range args {
		encodedArgs[k] = string(v)
	}
	return hashCanonical(map[string]any{
		"type":      "operation",
		"operator":  operator,
		"arguments": encodedArgs,
	})
}

// BodyHash computes a stable hash for a closure body AST, given its
// canonical JSON-encodable representation.
func BodyHash(body any) (string, error) {
	id, err := hashCanonical(body)
	if err != nil {
		return "", err
	}
	return string(id), nil
}

// ClosureEntry is a single (name, id) pair of a closure's captured environment.
type ClosureEntry struct {
	Name string
	ID   NodeID
}

// ClosureID computes the node id for a Closure with the given parameter
// list, body hash, and captured environment entries. Entries need not be
// pre-sorted; ClosureID sorts them by name before hashing.
func ClosureID(parameters []string, bodyHash string, closure []ClosureEntry) (NodeID, error) {
	sorted := make([]ClosureEntry, len(closure))
	copy(sorted, closure)
	sortEntries(sorted)

	encodedClosure := make([][2]string, len(sorted))
	for i, e := range sorted {
		encodedClosure[i] = [2]string{e.Name, string(e.ID)}
	}

	return hashCanonical(map[string]any{
		"type":       "closure",
		"parameters": parameters,
		"body":       bodyHash,
		"closure":    encodedClosure,
	})
}

func sortEntries(entries []ClosureEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j-1].Name > entries[j].Name; j-- {
			entries[j-1], entries[j] = entries[j], entries[j-1]
		}
	}
}
