package partitions

import (
	"fmt"
)

// Read loads rank's partition out of a job of size ranks. The encoding is
// chosen by which files exist next to basename. Only this rank's header and
// blocks are read, and nothing is communicated, so every rank calls Read
// independently.
func Read(rank, size int, basename string) (*RawPartition, error) {
	if size < 1 || rank < 0 || rank >= size {
		return nil, fmt.Errorf("partitions: rank %d out of range for %d partitions", rank, size)
	}
	enc, err := Detect(rank, basename, size)
	if err != nil {
		return nil, err
	}
	switch enc {
	case Binary:
		return readBinary(rank, size, basename)
	default:
		return readText(rank, size, basename)
	}
}

// Write stores parts in the given encoding
func Write(basename string, parts []*RawPartition, enc Encoding) error {
	switch enc {
	case Binary:
		return WriteBinary(basename, parts)
	case Text:
		return WriteText(basename, parts)
	}
	return fmt.Errorf("partitions: unknown encoding %v", enc)
}
