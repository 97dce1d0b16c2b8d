package partitions

import (
	"fmt"
)

// FileAccessError reports a partition file that is missing or unreadable
type FileAccessError struct {
	Rank int
	Path string
	Err  error
}

func (e *FileAccessError) Error() string {
	return fmt.Sprintf("rank %d: cannot access partition file %s: %v", e.Rank, e.Path, e.Err)
}

func (e *FileAccessError) Unwrap() error { return e.Err }

// FormatMismatchError reports file content that contradicts its own header or
// the job it is read into: a wrong version or partition count, a block
// shorter or longer than declared, or a record count that does not add up.
// Structural defects with no count to compare, such as a malformed line,
// carry a Detail instead of Expected and Actual.
type FormatMismatchError struct {
	Rank     int
	Path     string
	What     string
	Expected int64
	Actual   int64
	Detail   string
}

func (e *FormatMismatchError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("rank %d: %s: %s: %s", e.Rank, e.Path, e.What, e.Detail)
	}
	return fmt.Sprintf("rank %d: %s: %s: expected %d, got %d",
		e.Rank, e.Path, e.What, e.Expected, e.Actual)
}

// PartitionConsistencyError reports a partition that parsed cleanly but
// cannot form a valid mesh, or partitions that disagree with each other
type PartitionConsistencyError struct {
	Rank     int
	What     string
	Expected int64
	Actual   int64
}

func (e *PartitionConsistencyError) Error() string {
	return fmt.Sprintf("rank %d: inconsistent partition: %s: expected %d, got %d",
		e.Rank, e.What, e.Expected, e.Actual)
}
