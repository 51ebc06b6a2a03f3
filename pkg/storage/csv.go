package storage

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// CSVStore keeps each collection in <dir>/<collection>.csv with a header row.
type CSVStore struct {
	dir string
}

func NewCSVStore(dir string) *CSVStore {
	return &CSVStore{dir: dir}
}

func (s *CSVStore) path(c Collection) string {
	return filepath.Join(s.dir, string(c)+".csv")
}

// Init creates the data directory and a header-only file for every missing
// collection. Existing files are left untouched.
func (s *CSVStore) Init(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return wrapErr("init", "", err)
	}
	for _, c := range AllCollections {
		if err := ctx.Err(); err != nil {
			return wrapErr("init", c, err)
		}
		_, err := os.Stat(s.path(c))
		if err == nil {
			continue
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return wrapErr("init", c, err)
		}
		if err := s.writeFile(c, nil); err != nil {
			return wrapErr("init", c, err)
		}
	}
	return nil
}

func (s *CSVStore) ReadAll(ctx context.Context, c Collection) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapErr("read", c, err)
	}
	f, err := os.Open(s.path(c))
	if errors.Is(err, fs.ErrNotExist) {
		return []Row{}, nil
	}
	if err != nil {
		return nil, wrapErr("read", c, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return []Row{}, nil
	}
	if err != nil {
		return nil, wrapErr("read", c, err)
	}

	rows := []Row{}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, wrapErr("read", c, err)
		}
		row := make(Row, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ReplaceAll writes the collection to a temporary file and renames it over
// the old one, so a concurrent reader sees either version in full.
func (s *CSVStore) ReplaceAll(ctx context.Context, c Collection, rows []Row) error {
	if err := ctx.Err(); err != nil {
		return wrapErr("replace", c, err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return wrapErr("replace", c, err)
	}
	return wrapErr("replace", c, s.writeFile(c, rows))
}

func (s *CSVStore) writeFile(c Collection, rows []Row) error {
	tmp, err := os.CreateTemp(s.dir, "."+string(c)+"-*.csv")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	cols := c.Columns()
	if err := w.Write(cols); err != nil {
		tmp.Close()
		return err
	}
	for _, row := range rows {
		if err := w.Write(ordered(cols, row)); err != nil {
			tmp.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path(c))
}

// Append writes one row in the column order of the existing header. Only the
// header line is read.
func (s *CSVStore) Append(ctx context.Context, c Collection, row Row) error {
	if err := ctx.Err(); err != nil {
		return wrapErr("append", c, err)
	}
	cols, err := s.header(c)
	if errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			return wrapErr("append", c, err)
		}
		if err := s.writeFile(c, nil); err != nil {
			return wrapErr("append", c, err)
		}
		cols = c.Columns()
	} else if err != nil {
		return wrapErr("append", c, err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(ordered(cols, row)); err != nil {
		return wrapErr("append", c, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return wrapErr("append", c, err)
	}

	f, err := os.OpenFile(s.path(c), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return wrapErr("append", c, err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return wrapErr("append", c, err)
	}
	return wrapErr("append", c, f.Close())
}

func (s *CSVStore) header(c Collection) ([]string, error) {
	f, err := os.Open(s.path(c))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	header, err := csv.NewReader(f).Read()
	if errors.Is(err, io.EOF) {
		// an empty file gets rewritten with a header
		return nil, fs.ErrNotExist
	}
	return header, err
}

func ordered(cols []string, row Row) []string {
	rec := make([]string, len(cols))
	for i, col := range cols {
		rec[i] = row.Get(col)
	}
	return rec
}
