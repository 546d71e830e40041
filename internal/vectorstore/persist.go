package vectorstore

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	vectorFileSuffix = ".vec"
	metaFileSuffix   = ".meta.json"
)

// indexFile is the on-disk form of a collection's vector structure. The
// format is internal: compatibility is only promised between this save/load
// pair, not as a public file format.
type indexFile struct {
	Dimension int
	Vectors   [][]float32
}

// paths returns the vector and metadata file paths for a collection.
func (s *Store) paths(collectionID string) (vecPath, metaPath string) {
	vecPath = filepath.Join(s.dir, collectionID+vectorFileSuffix)
	metaPath = filepath.Join(s.dir, collectionID+metaFileSuffix)
	return vecPath, metaPath
}

// save writes both artifacts for a collection. Each file is written to a
// temp file and renamed into place so a crash never leaves a partially
// written artifact. Callers hold the collection's write lock.
func (s *Store) save(collectionID string, col *collection) error {
	vecPath, metaPath := s.paths(collectionID)

	if err := writeAtomic(vecPath, func(f *os.File) error {
		return gob.NewEncoder(f).Encode(indexFile{
			Dimension: col.dimension,
			Vectors:   col.vectors,
		})
	}); err != nil {
		return fmt.Errorf("write vector index: %w", err)
	}

	if err := writeAtomic(metaPath, func(f *os.File) error {
		return json.NewEncoder(f).Encode(col.records)
	}); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}

	return nil
}

// load reads a collection's artifacts. found is false when neither file
// exists, which is the normal state for a collection that has never been
// written.
func (s *Store) load(collectionID string) (col *collection, found bool, err error) {
	vecPath, metaPath := s.paths(collectionID)

	vecFile, err := os.Open(vecPath)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("open vector index: %w", err)
	}
	defer vecFile.Close()

	var idx indexFile
	if err := gob.NewDecoder(vecFile).Decode(&idx); err != nil {
		return nil, false, fmt.Errorf("decode vector index: %w", err)
	}

	var records []FragmentRecord
	metaBytes, err := os.ReadFile(metaPath)
	switch {
	case os.IsNotExist(err):
		// Vector file without metadata: keep the vectors, search will skip
		// neighbors with no record.
	case err != nil:
		return nil, false, fmt.Errorf("read metadata: %w", err)
	default:
		if err := json.Unmarshal(metaBytes, &records); err != nil {
			return nil, false, fmt.Errorf("decode metadata: %w", err)
		}
	}

	return &collection{
		dimension: idx.Dimension,
		vectors:   idx.Vectors,
		records:   records,
	}, true, nil
}

// writeAtomic writes via a temp file in the same directory and renames it
// over the target.
func writeAtomic(path string, write func(*os.File) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
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
	return os.Rename(tmp.Name(), path)
}
