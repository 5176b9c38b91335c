package fs

import (
	"errors"
	"strings"
	"testing"

	"kioku/internal/kioku"
)

func TestEachLine(t *testing.T) {
	long := strings.Repeat("x", MaxLineLength+10)

	tests := []struct {
		name      string
		input     string
		wantLines []string
		wantSkips int
	}{
		{"empty", "", nil, 0},
		{"no trailing newline", "a\nb", []string{"a", "b"}, 0},
		{"crlf", "a\r\nb\r\n", []string{"a", "b"}, 0},
		{"blank lines kept", "a\n\nb\n", []string{"a", "", "b"}, 0},
		{"long line skipped", "a\n" + long + "\nb\n", []string{"a", "b"}, 1},
		{"long last line", "a\n" + long, []string{"a"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var lines []string
			skips := 0
			err := EachLine(strings.NewReader(tt.input), func(_ int, line string, err error) {
				if err != nil {
					if !errors.Is(err, kioku.ErrMalformedRecord) {
						t.Errorf("skip error = %v, want ErrMalformedRecord", err)
					}
					if len(line) > skippedPrefix {
						t.Errorf("skipped line handed back with %d bytes", len(line))
					}
					skips++
					return
				}
				lines = append(lines, line)
			})
			if err != nil {
				t.Fatalf("EachLine() error = %v", err)
			}
			if strings.Join(lines, "|") != strings.Join(tt.wantLines, "|") || len(lines) != len(tt.wantLines) {
				t.Errorf("lines = %q, want %q", lines, tt.wantLines)
			}
			if skips != tt.wantSkips {
				t.Errorf("skips = %d, want %d", skips, tt.wantSkips)
			}
		})
	}
}

func TestEachLineNumbersCountSkippedLines(t *testing.T) {
	input := "a\n" + strings.Repeat("x", MaxLineLength*3) + "\nb\n"
	got := map[string]int{}
	EachLine(strings.NewReader(input), func(n int, line string, err error) {
		if err == nil {
			got[line] = n
		}
	})
	if got["a"] != 1 || got["b"] != 3 {
		t.Errorf("line numbers = %v, want a=1 b=3", got)
	}
}
