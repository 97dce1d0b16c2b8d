package partitions

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/notargets/ddcmesh/element"
)

// magic opens every binary config file
const magic = "DDCM"

// preambleSize is magic + version + nparts + flags
const preambleSize = 4 + 3*4

const headerSize = BinaryHeaderLen * 8

// ReadOffsetTable returns the header and block offsets of every rank, indexed
// by rank, from the binary config file
func ReadOffsetTable(basename string, nparts int) ([]Header, []Offsets, error) {
	path := ConfigPath(basename, nparts)
	f, err := openFile(Rootless, path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	if err := checkConfig(Rootless, path, f, nparts); err != nil {
		return nil, nil, err
	}

	headers := make([]Header, nparts)
	offsets := make([]Offsets, nparts)
	r := bufio.NewReader(f)
	for rank := 0; rank < nparts; rank++ {
		var fields [BinaryHeaderLen]int64
		if err := binary.Read(r, binary.LittleEndian, &fields); err != nil {
			return nil, nil, &FileAccessError{Rank: rank, Path: path, Err: err}
		}
		headers[rank], offsets[rank] = headerFromBinary(fields)
	}
	return headers, offsets, nil
}

// Rootless marks errors raised while reading data that belongs to no single rank
const Rootless = -1

// checkConfig validates the preamble and the size of the header table, and
// leaves f positioned at the first header
func checkConfig(rank int, path string, f *os.File, nparts int) error {
	info, err := f.Stat()
	if err != nil {
		return &FileAccessError{Rank: rank, Path: path, Err: err}
	}
	var pre struct {
		Magic   [4]byte
		Version uint32
		NParts  uint32
		Flags   uint32
	}
	if err := binary.Read(f, binary.LittleEndian, &pre); err != nil {
		return &FormatMismatchError{Rank: rank, Path: path, What: "config preamble bytes",
			Expected: preambleSize, Actual: info.Size()}
	}
	if string(pre.Magic[:]) != magic {
		return &FormatMismatchError{Rank: rank, Path: path, What: "magic number",
			Expected: int64(binary.LittleEndian.Uint32([]byte(magic))),
			Actual:   int64(binary.LittleEndian.Uint32(pre.Magic[:]))}
	}
	if pre.Version != Version {
		return &FormatMismatchError{Rank: rank, Path: path, What: "schema version",
			Expected: Version, Actual: int64(pre.Version)}
	}
	if int(pre.NParts) != nparts {
		return &FormatMismatchError{Rank: rank, Path: path, What: "partition count",
			Expected: int64(nparts), Actual: int64(pre.NParts)}
	}
	if want := int64(preambleSize + nparts*headerSize); info.Size() != want {
		return &FormatMismatchError{Rank: rank, Path: path, What: "config file bytes",
			Expected: want, Actual: info.Size()}
	}
	return nil
}

func readBinary(rank, size int, basename string) (*RawPartition, error) {
	path := ConfigPath(basename, size)
	f, err := openFile(rank, path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := checkConfig(rank, path, f, size); err != nil {
		return nil, err
	}
	// Only this rank's header is read
	if _, err := f.Seek(preambleSize+int64(rank)*headerSize, io.SeekStart); err != nil {
		return nil, &FileAccessError{Rank: rank, Path: path, Err: err}
	}
	var fields [BinaryHeaderLen]int64
	if err := binary.Read(f, binary.LittleEndian, &fields); err != nil {
		return nil, &FileAccessError{Rank: rank, Path: path, Err: err}
	}
	h, off := headerFromBinary(fields)
	if err := checkHeader(rank, path, h); err != nil {
		return nil, err
	}
	for _, o := range []struct {
		what string
		v    int64
	}{{"node block offset", off.Node}, {"regular block offset", off.Regular}, {"ghost block offset", off.Ghost}} {
		if o.v < 0 {
			return nil, &FormatMismatchError{Rank: rank, Path: path, What: "non-negative " + o.what,
				Expected: 0, Actual: o.v}
		}
	}

	p := &RawPartition{Rank: rank, Header: h}
	if p.Nodes, err = readNodeBlock(rank, NodePath(basename, size), off.Node, h.TotalNodes); err != nil {
		return nil, err
	}
	if p.Regular, err = readElementBlock(rank, ElementPath(basename, size), off.Regular,
		h.RegularIntCount, h.RegularElements, false); err != nil {
		return nil, err
	}
	if p.Ghost, err = readElementBlock(rank, GhostElementPath(basename, size), off.Ghost,
		h.GhostIntCount, h.GhostElements, true); err != nil {
		return nil, err
	}
	return p, nil
}

// readRegion reads count records of recordSize bytes at offset. The request
// is checked against the file size before anything is allocated.
func readRegion(rank int, path string, offset, count, recordSize int64) ([]byte, error) {
	f, err := openFile(rank, path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, &FileAccessError{Rank: rank, Path: path, Err: err}
	}
	avail := max(info.Size()-offset, 0)
	if count > avail/recordSize {
		want := int64(math.MaxInt64)
		if count <= math.MaxInt64/recordSize {
			want = count * recordSize
		}
		return nil, &FormatMismatchError{Rank: rank, Path: path, What: "block bytes",
			Expected: want, Actual: avail}
	}
	n := count * recordSize
	buf := make([]byte, n)
	got, err := f.ReadAt(buf, offset)
	if int64(got) == n {
		return buf, nil
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, &FileAccessError{Rank: rank, Path: path, Err: err}
	}
	return nil, &FormatMismatchError{Rank: rank, Path: path, What: "block bytes",
		Expected: n, Actual: int64(got)}
}

func readNodeBlock(rank int, path string, offset, count int64) ([]NodeRecord, error) {
	buf, err := readRegion(rank, path, offset, count, nodeRecordSize)
	if err != nil {
		return nil, err
	}
	nodes := make([]NodeRecord, count)
	for i := range nodes {
		b := buf[i*nodeRecordSize:]
		nodes[i].GlobalID = int64(binary.LittleEndian.Uint64(b))
		for d := 0; d < 3; d++ {
			nodes[i].Coords[d] = math.Float64frombits(binary.LittleEndian.Uint64(b[8+8*d:]))
		}
	}
	return nodes, nil
}

func readElementBlock(rank int, path string, offset, intCount, declared int64, ghost bool) ([]ElementRecord, error) {
	buf, err := readRegion(rank, path, offset, intCount, 4)
	if err != nil {
		return nil, err
	}
	ints := make([]int32, intCount)
	for i := range ints {
		ints[i] = int32(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return parseElements(rank, path, ints, declared, ghost)
}

// parseElements splits a flat block of (type, material, count, nodes...)
// records. The block must hold exactly declared records.
func parseElements(rank int, path string, ints []int32, declared int64, ghost bool) ([]ElementRecord, error) {
	recs := make([]ElementRecord, 0, min(declared, int64(len(ints)/3)))
	for pos := 0; pos < len(ints); {
		if int64(len(recs)) == declared {
			return nil, &FormatMismatchError{Rank: rank, Path: path, What: "element block int32 values",
				Expected: int64(pos), Actual: int64(len(ints))}
		}
		if pos+3 > len(ints) {
			return nil, &FormatMismatchError{Rank: rank, Path: path, What: "truncated element record",
				Expected: int64(pos + 3), Actual: int64(len(ints))}
		}
		n := int(ints[pos+2])
		end := pos + 3 + n
		if n < 0 || end > len(ints) {
			return nil, &FormatMismatchError{Rank: rank, Path: path, What: "truncated element record",
				Expected: int64(end), Actual: int64(len(ints))}
		}
		recs = append(recs, ElementRecord{
			Type:     element.Type(ints[pos]),
			Material: ints[pos+1],
			Nodes:    ints[pos+3 : end : end],
			Ghost:    ghost,
		})
		pos = end
	}
	if int64(len(recs)) != declared {
		return nil, &FormatMismatchError{Rank: rank, Path: path, What: "element records",
			Expected: declared, Actual: int64(len(recs))}
	}
	return recs, nil
}

// checkHeader rejects counts no reader can act on
func checkHeader(rank int, path string, h Header) error {
	for _, f := range []struct {
		what string
		v    int64
	}{
		{"total nodes", h.TotalNodes},
		{"linear nodes", h.LinearNodes},
		{"regular elements", h.RegularElements},
		{"ghost elements", h.GhostElements},
		{"regular block int32 values", h.RegularIntCount},
		{"ghost block int32 values", h.GhostIntCount},
	} {
		if f.v < 0 {
			return &FormatMismatchError{Rank: rank, Path: path, What: "non-negative " + f.what,
				Expected: 0, Actual: f.v}
		}
	}
	return nil
}

// WriteBinary writes parts, indexed by rank, in the binary encoding. Block
// lengths and offsets are computed from the records; every other header
// field is written as given.
func WriteBinary(basename string, parts []*RawPartition) error {
	nparts := len(parts)
	if err := checkRanks(parts); err != nil {
		return err
	}

	var files [4]*binFile
	for i, path := range []string{
		ConfigPath(basename, nparts),
		NodePath(basename, nparts),
		ElementPath(basename, nparts),
		GhostElementPath(basename, nparts),
	} {
		bf, err := newBinFile(path)
		if err != nil {
			for _, open := range files[:i] {
				open.close()
			}
			return err
		}
		files[i] = bf
	}
	cfg, nod, ele, ghost := files[0], files[1], files[2], files[3]

	cfg.put([]byte(magic))
	cfg.put([]uint32{Version, uint32(nparts), 0})
	var off Offsets
	for _, p := range parts {
		h := p.Header
		h.RegularIntCount = blockIntCount(p.Regular)
		h.GhostIntCount = blockIntCount(p.Ghost)
		fields := h.Binary(off)
		cfg.put(fields[:])

		for _, n := range p.Nodes {
			nod.put(n.GlobalID)
			nod.put(n.Coords)
		}
		for _, r := range p.Regular {
			ele.putElement(r)
		}
		for _, r := range p.Ghost {
			ghost.putElement(r)
		}
		off.Node += int64(len(p.Nodes)) * nodeRecordSize
		off.Regular += h.RegularIntCount * 4
		off.Ghost += h.GhostIntCount * 4
	}
	return errors.Join(cfg.close(), nod.close(), ele.close(), ghost.close())
}

func checkRanks(parts []*RawPartition) error {
	if len(parts) == 0 {
		return errors.New("partitions: nothing to write")
	}
	for i, p := range parts {
		if p == nil || p.Rank != i {
			return fmt.Errorf("partitions: slot %d does not hold rank %d", i, i)
		}
	}
	return nil
}

// binFile is a buffered little-endian writer that keeps the first error
type binFile struct {
	path string
	f    *os.File
	w    *bufio.Writer
	err  error
}

func newBinFile(path string) (*binFile, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("partitions: create %s: %w", path, err)
	}
	return &binFile{path: path, f: f, w: bufio.NewWriter(f)}, nil
}

func (b *binFile) put(v any) {
	if b.err == nil {
		b.err = binary.Write(b.w, binary.LittleEndian, v)
	}
}

func (b *binFile) putElement(r ElementRecord) {
	b.put([]int32{int32(r.Type), r.Material, int32(len(r.Nodes))})
	b.put(r.Nodes)
}

func (b *binFile) close() error {
	if b.err == nil {
		b.err = b.w.Flush()
	}
	if err := b.f.Close(); b.err == nil {
		b.err = err
	}
	if b.err != nil {
		return fmt.Errorf("partitions: write %s: %w", b.path, b.err)
	}
	return nil
}
