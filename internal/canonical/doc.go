// Package canonical produces deterministic JSON encodings and
// domain-separated SHA-256 digests.
//
// Two encodings of the same logical value are byte-identical: object keys
// are sorted by UTF-16 code units, strings are NFC normalized, HTML is not
// escaped and floats use the shortest representation that round-trips.
// The schedule hash and the persisted result file are built on it so that
// a resumed run can be compared against an uninterrupted one byte for byte.
package canonical
