// Package checkpoint persists training state to named slots on disk.
//
// A checkpoint carries the model tensors, an opaque optimizer blob, the best
// validation score, and the next epoch to run. Writes are atomic: a reader
// sees either the previous checkpoint or the new one, never a torn file.
//
// Slots map to file names the same way for every run:
//
//	""     -> ckpt.json
//	"best" -> ckpt_best.json
//
// The envelope stores a domain-separated SHA-256 digest of the payload so a
// truncated or edited file fails with ErrCorrupt instead of resuming from
// garbage.
package checkpoint
