package types

// Key is an opaque byte sequence; its order is supplied by an injected comparator.
type Key = []byte

// Value is an immutable byte slice type alias used for clarity.
type Value = []byte

// SeqN is a monotonically assigned sequence number. Higher is fresher.
type SeqN uint64

// Op tags a record as a write or a delete.
type Op uint8

const (
	PutOp Op = iota
	DeleteOp
)

func (op Op) String() string {
	switch op {
	case PutOp:
		return "put"
	case DeleteOp:
		return "delete"
	default:
		return "unknown"
	}
}

// SeqNSize is the fixed per-entry overhead charged for the sequence number
// when sizing tables.
const SeqNSize = 8

// VersionedValue is what a sorted table stores under a key.
type VersionedValue struct {
	Value Value
	SeqN  SeqN
	Op    Op
}

// Record is the write-path unit exchanged with callers and collaborators.
type Record struct {
	Key   Key
	Value Value
	Op    Op
	SeqN  SeqN
}

func (r Record) Versioned() VersionedValue {
	return VersionedValue{Value: r.Value, SeqN: r.SeqN, Op: r.Op}
}

// Size is the approximate footprint of the record inside a table.
func (r Record) Size() int64 {
	return int64(len(r.Key)) + SeqNSize + int64(len(r.Value))
}
