package partitions

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Text encoding, one file for all ranks:
//
//	ddcmesh-partitions <version> <nparts>
//	partition <rank>
//	header <11 int64 fields>
//	nodes
//	<globalID> <x> <y> <z>            one line per node
//	elements
//	<type> <material> <count> <n...>  one line per regular element
//	ghosts
//	<type> <material> <count> <n...>  one line per ghost element
//	end
const textMagic = "ddcmesh-partitions"

type lineScanner struct {
	rank    int
	path    string
	sc      *bufio.Scanner
	line    int
	current string
}

func (s *lineScanner) next() bool {
	for s.sc.Scan() {
		s.line++
		s.current = strings.TrimSpace(s.sc.Text())
		if s.current != "" && !strings.HasPrefix(s.current, "#") {
			return true
		}
	}
	return false
}

// errorf reports a malformed line as a FormatMismatchError about what
func (s *lineScanner) errorf(what, format string, args ...any) error {
	return &FormatMismatchError{Rank: s.rank, Path: s.path, What: what,
		Detail: fmt.Sprintf("line %d: ", s.line) + fmt.Sprintf(format, args...)}
}

// expect consumes the next line, which must start with keyword, and returns
// the remaining fields
func (s *lineScanner) expect(keyword string) ([]string, error) {
	if !s.next() {
		if err := s.sc.Err(); err != nil {
			return nil, &FileAccessError{Rank: s.rank, Path: s.path, Err: err}
		}
		return nil, s.errorf("truncated file", "want %q", keyword)
	}
	fields := strings.Fields(s.current)
	if fields[0] != keyword {
		return nil, s.errorf("section keyword", "got %q, want %q", fields[0], keyword)
	}
	return fields[1:], nil
}

// linesUntil collects data lines up to the line holding keyword
func (s *lineScanner) linesUntil(keyword string) ([][]string, error) {
	var out [][]string
	for s.next() {
		fields := strings.Fields(s.current)
		if fields[0] == keyword && len(fields) == 1 {
			return out, nil
		}
		out = append(out, fields)
	}
	if err := s.sc.Err(); err != nil {
		return nil, &FileAccessError{Rank: s.rank, Path: s.path, Err: err}
	}
	return nil, s.errorf("truncated file", "want %q", keyword)
}

func parseInts(fields []string) ([]int64, error) {
	v := make([]int64, len(fields))
	for i, f := range fields {
		x, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, err
		}
		v[i] = x
	}
	return v, nil
}

func readText(rank, size int, basename string) (*RawPartition, error) {
	path := TextPath(basename, size)
	f, err := openFile(rank, path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	s := &lineScanner{rank: rank, path: path, sc: sc}

	pre, err := s.expect(textMagic)
	if err != nil {
		return nil, err
	}
	v, err := parseInts(pre)
	if err != nil || len(v) != 2 {
		return nil, s.errorf("preamble line", "malformed %q", s.current)
	}
	if v[0] != Version {
		return nil, &FormatMismatchError{Rank: rank, Path: path, What: "schema version", Expected: Version, Actual: v[0]}
	}
	if v[1] != int64(size) {
		return nil, &FormatMismatchError{Rank: rank, Path: path, What: "partition count", Expected: int64(size), Actual: v[1]}
	}

	// Sections are in rank order; skip the ones before ours
	for r := 0; r <= rank; r++ {
		fields, err := s.expect("partition")
		if err != nil {
			return nil, err
		}
		got, err := parseInts(fields)
		if err != nil || len(got) != 1 {
			return nil, s.errorf("partition line", "malformed %q", s.current)
		}
		if got[0] != int64(r) {
			return nil, &FormatMismatchError{Rank: rank, Path: path, What: "partition section", Expected: int64(r), Actual: got[0]}
		}
		if r < rank {
			if _, err := s.linesUntil("end"); err != nil {
				return nil, err
			}
		}
	}
	return s.readSection()
}

func (s *lineScanner) readSection() (*RawPartition, error) {
	fields, err := s.expect("header")
	if err != nil {
		return nil, err
	}
	v, err := parseInts(fields)
	if err != nil {
		return nil, s.errorf("header line", "%v", err)
	}
	if len(v) != TextHeaderLen {
		return nil, &FormatMismatchError{Rank: s.rank, Path: s.path, What: "header fields",
			Expected: TextHeaderLen, Actual: int64(len(v))}
	}
	h := headerFromText([TextHeaderLen]int64(v))
	if err := checkHeader(s.rank, s.path, h); err != nil {
		return nil, err
	}
	if _, err := s.expect("nodes"); err != nil {
		return nil, err
	}

	p := &RawPartition{Rank: s.rank, Header: h}
	lines, err := s.linesUntil("elements")
	if err != nil {
		return nil, err
	}
	if int64(len(lines)) != h.TotalNodes {
		return nil, &FormatMismatchError{Rank: s.rank, Path: s.path, What: "node records",
			Expected: h.TotalNodes, Actual: int64(len(lines))}
	}
	p.Nodes = make([]NodeRecord, len(lines))
	for i, l := range lines {
		if p.Nodes[i], err = parseNodeLine(l); err != nil {
			return nil, s.errorf("node line", "node %d: %v", i, err)
		}
	}
	if lines, err = s.linesUntil("ghosts"); err != nil {
		return nil, err
	}
	if p.Regular, err = s.parseElementLines(lines, h.RegularIntCount, h.RegularElements, false); err != nil {
		return nil, err
	}
	if lines, err = s.linesUntil("end"); err != nil {
		return nil, err
	}
	if p.Ghost, err = s.parseElementLines(lines, h.GhostIntCount, h.GhostElements, true); err != nil {
		return nil, err
	}
	return p, nil
}

func parseNodeLine(fields []string) (NodeRecord, error) {
	var n NodeRecord
	if len(fields) != 4 {
		return n, fmt.Errorf("want 4 fields, got %d", len(fields))
	}
	var err error
	if n.GlobalID, err = strconv.ParseInt(fields[0], 10, 64); err != nil {
		return n, err
	}
	for d := 0; d < 3; d++ {
		if n.Coords[d], err = strconv.ParseFloat(fields[1+d], 64); err != nil {
			return n, err
		}
	}
	return n, nil
}

// parseElementLines flattens the lines into one block and splits it the way
// the binary reader does, so both encodings apply the same record checks
func (s *lineScanner) parseElementLines(lines [][]string, intCount, declared int64, ghost bool) ([]ElementRecord, error) {
	var flat []int32
	for i, l := range lines {
		start := len(flat)
		for _, f := range l {
			x, err := strconv.ParseInt(f, 10, 32)
			if err != nil {
				return nil, s.errorf("element line", "element %d: %v", i, err)
			}
			flat = append(flat, int32(x))
		}
		if len(l) < 3 || int(flat[start+2]) != len(l)-3 {
			return nil, s.errorf("element line", "element %d: node count does not match its %d fields", i, len(l))
		}
	}
	if int64(len(flat)) != intCount {
		return nil, &FormatMismatchError{Rank: s.rank, Path: s.path, What: "element block int32 values",
			Expected: intCount, Actual: int64(len(flat))}
	}
	return parseElements(s.rank, s.path, flat, declared, ghost)
}

// WriteText writes parts, indexed by rank, in the text encoding. Block
// lengths are computed from the records; every other header field is written
// as given.
func WriteText(basename string, parts []*RawPartition) error {
	if err := checkRanks(parts); err != nil {
		return err
	}
	path := TextPath(basename, len(parts))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("partitions: create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "%s %d %d\n", textMagic, Version, len(parts))
	for _, p := range parts {
		h := p.Header
		h.RegularIntCount = blockIntCount(p.Regular)
		h.GhostIntCount = blockIntCount(p.Ghost)
		fmt.Fprintf(w, "partition %d\nheader", p.Rank)
		for _, v := range h.Text() {
			fmt.Fprintf(w, " %d", v)
		}
		fmt.Fprint(w, "\nnodes\n")
		for _, n := range p.Nodes {
			fmt.Fprintf(w, "%d %s %s %s\n", n.GlobalID,
				formatFloat(n.Coords[0]), formatFloat(n.Coords[1]), formatFloat(n.Coords[2]))
		}
		fmt.Fprint(w, "elements\n")
		writeElementLines(w, p.Regular)
		fmt.Fprint(w, "ghosts\n")
		writeElementLines(w, p.Ghost)
		fmt.Fprint(w, "end\n")
	}
	if err := errors.Join(w.Flush(), f.Close()); err != nil {
		return fmt.Errorf("partitions: write %s: %w", path, err)
	}
	return nil
}

// formatFloat is the shortest representation that parses back exactly
func formatFloat(x float64) string {
	return strconv.FormatFloat(x, 'g', -1, 64)
}

func writeElementLines(w *bufio.Writer, recs []ElementRecord) {
	for _, r := range recs {
		fmt.Fprintf(w, "%d %d %d", int32(r.Type), r.Material, len(r.Nodes))
		for _, n := range r.Nodes {
			fmt.Fprintf(w, " %d", n)
		}
		w.WriteByte('\n')
	}
}
