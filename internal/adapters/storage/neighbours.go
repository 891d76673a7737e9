package storage

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/okian/meshrsa/internal/domain/searchlight"
)

// ParseNeighbourhoods reads lines "vertex: n1 n2 ..." in raw vertex numbers.
// Blank lines and lines starting with # are ignored.
func ParseNeighbourhoods(r io.Reader) (searchlight.Neighbourhoods, error) {
	hoods := make(searchlight.Neighbourhoods)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, writeBufferSize), 16*1024*1024)

	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		head, rest, ok := strings.Cut(text, ":")
		if !ok {
			return nil, fmt.Errorf("%w: neighbourhood line %d has no colon", ErrBadFormat, line)
		}
		centre, err := strconv.Atoi(strings.TrimSpace(head))
		if err != nil || centre < 0 {
			return nil, fmt.Errorf("%w: neighbourhood line %d vertex %q", ErrBadFormat, line, head)
		}
		fields := strings.Fields(rest)
		members := make([]int, 0, len(fields))
		for _, f := range fields {
			n, err := strconv.Atoi(f)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("%w: neighbourhood line %d member %q", ErrBadFormat, line, f)
			}
			members = append(members, n)
		}
		hoods[centre] = members
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return hoods, nil
}

// ReadNeighbourhoods reads the neighbourhood file at path.
func ReadNeighbourhoods(path string) (searchlight.Neighbourhoods, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	hoods, err := ParseNeighbourhoods(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return hoods, nil
}
