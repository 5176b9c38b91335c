package fs

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"kioku/internal/kioku"
)

// MaxLineLength bounds one line of the line-oriented deck files (manifest,
// result log, synced watermarks). Longer lines are skipped, not fatal.
const MaxLineLength = 64 * 1024

// skippedPrefix is how much of an over-long line is handed back for logging.
const skippedPrefix = 80

// EachLine calls fn for every line of r with its line ending removed.
// A line longer than MaxLineLength is consumed in full and reported once,
// with its first bytes and an error wrapping kioku.ErrMalformedRecord.
// The returned error is a read error of r, never a line problem.
func EachLine(r io.Reader, fn func(lineNo int, line string, err error)) error {
	br := bufio.NewReaderSize(r, MaxLineLength)
	lineNo := 0
	for {
		chunk, isPrefix, err := br.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		lineNo++

		if !isPrefix {
			fn(lineNo, string(chunk), nil)
			continue
		}

		head := string(chunk[:min(len(chunk), skippedPrefix)])
		size := len(chunk)
		for isPrefix {
			chunk, isPrefix, err = br.ReadLine()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return err
			}
			size += len(chunk)
		}
		fn(lineNo, head, fmt.Errorf("%w: line of %d bytes exceeds %d", kioku.ErrMalformedRecord, size, MaxLineLength))
		if errors.Is(err, io.EOF) {
			return nil
		}
	}
}
