package datasets

import (
	"context"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Noofbiz/sketchrnn/stroke"
)

var (
	// ErrMissingSplit is returned when a source lacks one of train, valid or
	// test.
	ErrMissingSplit = errors.New("missing split")

	// ErrMalformedPoint is returned for a stored point that is not exactly
	// [dx, dy, lift].
	ErrMalformedPoint = errors.New("malformed point")
)

// Split names as they appear in every source format.
const (
	SplitTrain = "train"
	SplitValid = "valid"
	SplitTest  = "test"
)

// RawSplits is what a source provides. A nil split is missing, an empty
// non-nil split is valid.
type RawSplits struct {
	Train []stroke.Sequence
	Valid []stroke.Sequence
	Test  []stroke.Sequence
}

// Validate reports the first missing split.
func (r *RawSplits) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: no data", ErrMissingSplit)
	}
	for _, s := range []struct {
		name string
		seqs []stroke.Sequence
	}{{SplitTrain, r.Train}, {SplitValid, r.Valid}, {SplitTest, r.Test}} {
		if s.seqs == nil {
			return fmt.Errorf("%w: %s", ErrMissingSplit, s.name)
		}
	}
	return nil
}

// Source provides the raw splits of one named dataset.
type Source interface {
	Name() string
	Load(ctx context.Context) (*RawSplits, error)
}

// JSONFile reads a dataset stored as
//
//	{"train": [[[dx, dy, lift], ...], ...], "valid": [...], "test": [...]}
type JSONFile struct {
	Path string
}

// Name returns the file name.
func (f JSONFile) Name() string { return filepath.Base(f.Path) }

type jsonSplits struct {
	Train *[][][]float32 `json:"train"`
	Valid *[][][]float32 `json:"valid"`
	Test  *[][][]float32 `json:"test"`
}

// Load reads and validates the file.
func (f JSONFile) Load(ctx context.Context) (*RawSplits, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Path, err)
	}
	var js jsonSplits
	if err := json.Unmarshal(data, &js); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.Path, err)
	}
	raw := &RawSplits{}
	for _, s := range []struct {
		name string
		in   *[][][]float32
		out  *[]stroke.Sequence
	}{
		{SplitTrain, js.Train, &raw.Train},
		{SplitValid, js.Valid, &raw.Valid},
		{SplitTest, js.Test, &raw.Test},
	} {
		if s.in == nil {
			return nil, fmt.Errorf("%s: %w: %s", f.Path, ErrMissingSplit, s.name)
		}
		seqs, err := sequencesFromRows(*s.in)
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", f.Path, s.name, err)
		}
		*s.out = seqs
	}
	return raw, nil
}

func sequencesFromRows(in [][][]float32) ([]stroke.Sequence, error) {
	out := make([]stroke.Sequence, len(in))
	for i, rows := range in {
		s, err := SequenceFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("sketch %d: %w", i, err)
		}
		out[i] = s
	}
	return out, nil
}

// SequenceFromRows converts decoded [dx, dy, lift] rows into a sequence.
// Every row must hold exactly three values.
func SequenceFromRows(rows [][]float32) (stroke.Sequence, error) {
	s := make(stroke.Sequence, len(rows))
	for j, r := range rows {
		if len(r) != 3 {
			return nil, fmt.Errorf("%w: point %d has %d values, expected 3", ErrMalformedPoint, j, len(r))
		}
		s[j] = stroke.Point{DX: r[0], DY: r[1], Lift: r[2]}
	}
	return s, nil
}

// WriteJSON stores raw in the JSONFile format.
func WriteJSON(path string, raw *RawSplits) error {
	if err := raw.Validate(); err != nil {
		return err
	}
	out := map[string][][][3]float32{
		SplitTrain: rowsOf(raw.Train),
		SplitValid: rowsOf(raw.Valid),
		SplitTest:  rowsOf(raw.Test),
	}
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return writeAtomic(path, func(f *os.File) error {
		_, err := f.Write(data)
		return err
	})
}

func rowsOf(seqs []stroke.Sequence) [][][3]float32 {
	out := make([][][3]float32, len(seqs))
	for i, s := range seqs {
		out[i] = s.Rows()
	}
	return out
}

// gobVersion is incremented when the snapshot layout changes.
const gobVersion = 1

// gobFormat is the on-disk representation of a gob snapshot. Splits is
// keyed by split name so a missing split stays distinguishable from an
// empty one.
type gobFormat struct {
	Version   int
	Name      string
	CreatedAt int64
	Splits    map[string][][][3]float32
}

// GobFile reads a snapshot written by WriteGob.
type GobFile struct {
	Path string
}

// Name returns the file name.
func (f GobFile) Name() string { return filepath.Base(f.Path) }

// Load decodes the snapshot and checks its version.
func (f GobFile) Load(ctx context.Context) (*RawSplits, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Path, err)
	}
	defer fh.Close()

	var gf gobFormat
	if err := gob.NewDecoder(fh).Decode(&gf); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.Path, err)
	}
	if gf.Version != gobVersion {
		return nil, fmt.Errorf("%s: snapshot version mismatch: file=%d expected=%d", f.Path, gf.Version, gobVersion)
	}
	raw := &RawSplits{}
	for _, s := range []struct {
		name string
		out  *[]stroke.Sequence
	}{{SplitTrain, &raw.Train}, {SplitValid, &raw.Valid}, {SplitTest, &raw.Test}} {
		rows, ok := gf.Splits[s.name]
		if !ok {
			return nil, fmt.Errorf("%s: %w: %s", f.Path, ErrMissingSplit, s.name)
		}
		seqs := make([]stroke.Sequence, len(rows))
		for i, r := range rows {
			seqs[i] = stroke.FromRows(r)
		}
		*s.out = seqs
	}
	return raw, nil
}

// WriteGob writes raw as a gob snapshot using a temp file and rename.
func WriteGob(path, name string, raw *RawSplits) error {
	if err := raw.Validate(); err != nil {
		return err
	}
	gf := gobFormat{
		Version:   gobVersion,
		Name:      name,
		CreatedAt: time.Now().Unix(),
		Splits: map[string][][][3]float32{
			SplitTrain: rowsOf(raw.Train),
			SplitValid: rowsOf(raw.Valid),
			SplitTest:  rowsOf(raw.Test),
		},
	}
	return writeAtomic(path, func(f *os.File) error {
		return gob.NewEncoder(f).Encode(&gf)
	})
}

// writeAtomic creates path's directory, writes through a temp file in the
// same directory and renames it into place.
func writeAtomic(path string, write func(f *os.File) error) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmpFile.Name()
	defer func() {
		tmpFile.Close()
		_ = os.Remove(tmpName)
	}()

	if err := write(tmpFile); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmpFile.Sync(); err != nil {
		log.Printf("warning: sync temp file: %v", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file to %s: %w", path, err)
	}
	return nil
}

// Resolve maps a dataset name inside dataDir to a file source by extension
// (.json or .gob).
func Resolve(dataDir, name string) (Source, error) {
	if strings.HasPrefix(dataDir, "http://") || strings.HasPrefix(dataDir, "https://") {
		return nil, fmt.Errorf("remote data dir %s: fetching is not supported, download %s first", dataDir, name)
	}
	path := filepath.Join(dataDir, name)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return JSONFile{Path: path}, nil
	case ".gob":
		return GobFile{Path: path}, nil
	default:
		return nil, fmt.Errorf("unsupported dataset format %q for %s", filepath.Ext(name), name)
	}
}
