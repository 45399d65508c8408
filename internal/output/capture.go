// Package output reads a job's captured stdout/stderr under a byte budget,
// keeping the head and tail of long outputs instead of truncating them.
package output

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// DefaultBudget is the default number of bytes kept from a job's output.
const DefaultBudget = 100000

// TrimBanner separates the head and tail of an output that exceeded its budget.
const TrimBanner = "\n\n...output trimmed...\n\n"

// TimeoutBanner is appended to the output of a job terminated for exceeding
// its max time.
const TimeoutBanner = "\n\n#### Process killed: exceeded max_time ####\n"

// ReadBounded reads at most budget bytes from rs. Output no larger than the
// budget is returned unchanged. Larger output is sampled: the first two thirds
// of the budget from the start, TrimBanner, then the remaining third from the
// end. A negative budget disables trimming.
//
// The reader is consumed from its current size at call time, so output that is
// still being written is returned as far as it exists.
func ReadBounded(rs io.ReadSeeker, budget int) (string, error) {
	size, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return "", fmt.Errorf("output: measure: %w", err)
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("output: rewind: %w", err)
	}

	if budget < 0 || size <= int64(budget) {
		b, err := io.ReadAll(io.LimitReader(rs, size))
		if err != nil {
			return "", fmt.Errorf("output: read: %w", err)
		}
		return string(b), nil
	}

	headLen := budget * 2 / 3
	tailLen := budget - headLen

	head := make([]byte, headLen)
	n, err := io.ReadFull(rs, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("output: read head: %w", err)
	}
	head = head[:n]

	if _, err := rs.Seek(size-int64(tailLen), io.SeekStart); err != nil {
		return "", fmt.Errorf("output: seek tail: %w", err)
	}
	tail, err := io.ReadAll(io.LimitReader(rs, int64(tailLen)))
	if err != nil {
		return "", fmt.Errorf("output: read tail: %w", err)
	}

	return string(head) + TrimBanner + string(tail), nil
}

// ReadFile opens path and reads it with ReadBounded. Errors opening the file
// are returned as-is so callers can tell a missing capture from a short one.
func ReadFile(path string, budget int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return ReadBounded(f, budget)
}
