package eventlog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/roach88/tandem/internal/event"
)

// Read parses every line of r. Blank lines are skipped.
func Read(r io.Reader) ([]Entry, error) {
	var out []Entry
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	n := 0
	for sc.Scan() {
		n++
		if len(sc.Bytes()) == 0 {
			continue
		}
		e, err := Parse(sc.Text())
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	return out, nil
}

// ReadSubLog loads the object changes of a recording sorted by loop time.
// Entries with equal loop time keep file order.
func ReadSubLog(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sub-log: %w", err)
	}
	defer f.Close()

	all, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	changes := all[:0]
	for _, e := range all {
		if e.Type == event.GameObjectChange {
			changes = append(changes, e)
		}
	}
	sort.SliceStable(changes, func(i, j int) bool { return changes[i].Loop < changes[j].Loop })
	return changes, nil
}
