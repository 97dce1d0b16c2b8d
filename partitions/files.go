package partitions

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Encoding is the on-disk representation of a set of partition files
type Encoding int

const (
	Binary Encoding = iota
	Text
)

func (e Encoding) String() string {
	switch e {
	case Binary:
		return "binary"
	case Text:
		return "text"
	}
	return fmt.Sprintf("Encoding(%d)", int(e))
}

// Binary encoding: a config file with every rank's header plus three data
// files holding the node, regular element and ghost element blocks of all
// ranks back to back.

func ConfigPath(basename string, nparts int) string {
	return fmt.Sprintf("%s_partitioned_msh_cfg%d.bin", basename, nparts)
}

func NodePath(basename string, nparts int) string {
	return fmt.Sprintf("%s_partitioned_msh_nod%d.bin", basename, nparts)
}

func ElementPath(basename string, nparts int) string {
	return fmt.Sprintf("%s_partitioned_msh_ele%d.bin", basename, nparts)
}

func GhostElementPath(basename string, nparts int) string {
	return fmt.Sprintf("%s_partitioned_msh_ele_g%d.bin", basename, nparts)
}

// TextPath names the single file of the text encoding
func TextPath(basename string, nparts int) string {
	return fmt.Sprintf("%s_partitioned_%d.msh", basename, nparts)
}

// Detect picks the encoding by file presence. Binary wins when both exist.
func Detect(rank int, basename string, nparts int) (Encoding, error) {
	cfg := ConfigPath(basename, nparts)
	if ok, err := exists(cfg); err != nil {
		return 0, &FileAccessError{Rank: rank, Path: cfg, Err: err}
	} else if ok {
		return Binary, nil
	}
	txt := TextPath(basename, nparts)
	if ok, err := exists(txt); err != nil {
		return 0, &FileAccessError{Rank: rank, Path: txt, Err: err}
	} else if ok {
		return Text, nil
	}
	return 0, &FileAccessError{
		Rank: rank,
		Path: basename,
		Err:  fmt.Errorf("neither %s nor %s: %w", cfg, txt, fs.ErrNotExist),
	}
}

func exists(path string) (bool, error) {
	info, err := os.Stat(path)
	switch {
	case err == nil:
		if info.IsDir() {
			return false, fmt.Errorf("is a directory")
		}
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

func openFile(rank int, path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &FileAccessError{Rank: rank, Path: path, Err: err}
	}
	return f, nil
}
