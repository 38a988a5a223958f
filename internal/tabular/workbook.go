package tabular

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Workbook is a directory of named tables, one CSV file per table. It is the
// process's view of the shared tabular store: every Table call re-reads the
// file so header maps are re-resolved per run.
type Workbook struct {
	Dir string
}

// Open validates the workbook directory exists.
func Open(dir string) (*Workbook, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("workbook %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workbook %s: not a directory", dir)
	}
	return &Workbook{Dir: dir}, nil
}

// Ensure creates the workbook directory if missing.
func Ensure(dir string) (*Workbook, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Workbook{Dir: dir}, nil
}

func (wb *Workbook) path(name string) string {
	return filepath.Join(wb.Dir, name+".csv")
}

// Has reports whether a table file exists.
func (wb *Workbook) Has(name string) bool {
	_, err := os.Stat(wb.path(name))
	return err == nil
}

// List returns the table names present in the workbook.
func (wb *Workbook) List() ([]string, error) {
	entries, err := os.ReadDir(wb.Dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".csv") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".csv"))
	}
	return names, nil
}

// Table loads a table into memory. Missing tables are an error; use Ensure
// on the sheet side when a table may not exist yet.
func (wb *Workbook) Table(name string) (*Sheet, error) {
	f, err := os.Open(wb.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("table %s not found in %s", name, wb.Dir)
		}
		return nil, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	all, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read table %s: %w", name, err)
	}
	sh := &Sheet{wb: wb, name: name}
	if len(all) > 0 {
		sh.header = all[0]
		sh.rows = all[1:]
	}
	sh.padRows()
	return sh, nil
}

// EnsureTable loads a table, creating an empty one when absent.
func (wb *Workbook) EnsureTable(name string) (*Sheet, error) {
	if !wb.Has(name) {
		sh := &Sheet{wb: wb, name: name}
		if err := sh.Save(); err != nil {
			return nil, err
		}
		return sh, nil
	}
	return wb.Table(name)
}

// Sheet is an in-memory copy of one table. Mutations are local until Save;
// callers follow a read-compute-overwrite discipline under the coarse lock.
type Sheet struct {
	wb     *Workbook
	name   string
	header []string
	rows   [][]string
}

func (s *Sheet) Name() string { return s.name }

// Width is the current column count, taken from the header row.
func (s *Sheet) Width() int { return len(s.header) }

// Header returns a copy of the header row.
func (s *Sheet) Header() []string {
	out := make([]string, len(s.header))
	copy(out, s.header)
	return out
}

// Rows returns the data rows (header excluded). The slice is shared; treat
// it as read-only and go through the mutators for writes.
func (s *Sheet) Rows() [][]string { return s.rows }

// HeaderMap re-resolves the label→index map from the current header.
func (s *Sheet) HeaderMap() HeaderMap { return NewHeaderMap(s.header) }

// Cell returns the value at (row, col), "" when out of range.
func (s *Sheet) Cell(row, col int) string {
	if row < 0 || row >= len(s.rows) || col < 0 {
		return ""
	}
	r := s.rows[row]
	if col >= len(r) {
		return ""
	}
	return r[col]
}

// SetCell assigns a value, growing the row to the sheet width if needed.
func (s *Sheet) SetCell(row, col int, v string) error {
	if row < 0 || row >= len(s.rows) || col < 0 || col >= s.Width() {
		return fmt.Errorf("table %s: cell (%d,%d) out of range", s.name, row, col)
	}
	s.rows[row][col] = v
	return nil
}

// Overwrite replaces the whole table: header plus rows.
func (s *Sheet) Overwrite(header []string, rows [][]string) {
	s.header = append([]string(nil), header...)
	s.rows = make([][]string, len(rows))
	for i, r := range rows {
		s.rows[i] = append([]string(nil), r...)
	}
	s.padRows()
}

// Append adds rows after the existing data.
func (s *Sheet) Append(rows [][]string) {
	for _, r := range rows {
		s.rows = append(s.rows, append([]string(nil), r...))
	}
	s.padRows()
}

// Clear removes all data rows, keeping the header.
func (s *Sheet) Clear() { s.rows = nil }

// SetHeader rewrites the header row verbatim and renormalizes row widths.
func (s *Sheet) SetHeader(header []string) {
	s.header = append([]string(nil), header...)
	s.padRows()
}

// InsertColumns inserts n empty columns starting at index at.
func (s *Sheet) InsertColumns(at, n int) error {
	if n <= 0 {
		return nil
	}
	if at < 0 || at > len(s.header) {
		return fmt.Errorf("table %s: insert at %d out of range", s.name, at)
	}
	s.header = insertBlanks(s.header, at, n)
	for i := range s.rows {
		s.rows[i] = insertBlanks(s.rows[i], at, n)
	}
	return nil
}

// DeleteColumns removes n columns starting at index at.
func (s *Sheet) DeleteColumns(at, n int) error {
	if n <= 0 {
		return nil
	}
	if at < 0 || at+n > len(s.header) {
		return fmt.Errorf("table %s: delete [%d,%d) out of range", s.name, at, at+n)
	}
	s.header = append(s.header[:at], s.header[at+n:]...)
	for i := range s.rows {
		r := s.rows[i]
		if at >= len(r) {
			continue
		}
		end := at + n
		if end > len(r) {
			end = len(r)
		}
		s.rows[i] = append(r[:at], r[end:]...)
	}
	return nil
}

// Records projects data rows into label→value maps using the current
// header. Values for short rows read as "".
func (s *Sheet) Records() []map[string]string {
	out := make([]map[string]string, 0, len(s.rows))
	for _, r := range s.rows {
		rec := make(map[string]string, len(s.header))
		for i, h := range s.header {
			key := strings.TrimSpace(h)
			if key == "" {
				continue
			}
			if i < len(r) {
				rec[key] = r[i]
			} else {
				rec[key] = ""
			}
		}
		out = append(out, rec)
	}
	return out
}

// Get resolves a value from a record by canonical label, trying synonyms.
func Get(rec map[string]string, label string) string {
	if v, ok := rec[label]; ok {
		return v
	}
	want := normLabel(label)
	for k, v := range rec {
		if normLabel(k) == want {
			return v
		}
	}
	for _, alt := range synonyms[label] {
		altNorm := normLabel(alt)
		for k, v := range rec {
			if normLabel(k) == altNorm {
				return v
			}
		}
	}
	return ""
}

// Save writes the sheet back to its CSV file.
func (s *Sheet) Save() error {
	tmp := s.wb.path(s.name) + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if len(s.header) > 0 {
		if err := w.Write(s.header); err != nil {
			f.Close()
			return err
		}
	}
	for _, r := range s.rows {
		if err := w.Write(r); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.wb.path(s.name))
}

// padRows normalizes every data row to the header width.
func (s *Sheet) padRows() {
	w := len(s.header)
	for i, r := range s.rows {
		if len(r) < w {
			padded := make([]string, w)
			copy(padded, r)
			s.rows[i] = padded
		} else if len(r) > w && w > 0 {
			s.rows[i] = r[:w]
		}
	}
}

func insertBlanks(row []string, at, n int) []string {
	if at > len(row) {
		at = len(row)
	}
	out := make([]string, 0, len(row)+n)
	out = append(out, row[:at]...)
	out = append(out, make([]string, n)...)
	out = append(out, row[at:]...)
	return out
}
