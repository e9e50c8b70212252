package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ncbi-virus-etl/internal/logging"
	"github.com/ncbi-virus-etl/internal/model"
)

// Kind selects the cache subdirectory and file extension.
type Kind int

const (
	KindMetadata Kind = iota
	KindSequence
)

func (k Kind) String() string {
	if k == KindMetadata {
		return "metadata"
	}
	return "fasta"
}

func (k Kind) ext() string {
	if k == KindMetadata {
		return ".json"
	}
	return ".fasta"
}

// ErrInvalidID is returned for ids that are not a plain file name stem.
var ErrInvalidID = errors.New("invalid record id for cache")

// Cache stores one file per record id per kind under Root:
//
//	<root>/metadata/<id>.json
//	<root>/fasta/<id>.fasta
//
// An entry is never expired; a present file is trusted as is.
// Errors are logged and reported as misses or ignored, never returned.
type Cache struct {
	Root string
	Log  *logging.Logger
}

// New returns a cache rooted at root; directories are created on first write.
func New(root string, lg *logging.Logger) *Cache {
	return &Cache{Root: root, Log: lg}
}

func (c *Cache) dir(k Kind) string {
	return filepath.Join(c.Root, k.String())
}

// ValidID reports whether id can be used as a file name inside a kind
// directory: non-empty, no path separators, not "." or "..", no leading dot.
func ValidID(id model.RecordID) bool {
	if id == "" || id == "." || id == ".." || strings.HasPrefix(id, ".") {
		return false
	}
	if strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return false
	}
	return filepath.Base(id) == id
}

// Path returns the cache file for id. Callers must check ValidID first;
// every Cache method does.
func (c *Cache) Path(k Kind, id model.RecordID) string {
	return filepath.Join(c.dir(k), id+k.ext())
}

// EnsureDir creates the kind's directory if missing.
func (c *Cache) EnsureDir(k Kind) error {
	return os.MkdirAll(c.dir(k), 0o755)
}

// Has reports whether an entry exists for id.
func (c *Cache) Has(k Kind, id model.RecordID) bool {
	if !ValidID(id) {
		return false
	}
	_, err := os.Stat(c.Path(k, id))
	return err == nil
}

func (c *Cache) read(k Kind, id model.RecordID) ([]byte, bool) {
	if !ValidID(id) {
		c.Log.Warnf("Skipping %s cache for ID %q: %v", k, id, ErrInvalidID)
		return nil, false
	}
	b, err := os.ReadFile(c.Path(k, id))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.Log.Warnf("Failed to read %s cache for ID %s: %v", k, id, err)
		}
		return nil, false
	}
	return b, true
}

// ReadMetadata returns the cached record; a decode failure is a miss.
func (c *Cache) ReadMetadata(id model.RecordID) (model.Metadata, bool) {
	b, ok := c.read(KindMetadata, id)
	if !ok {
		return model.Metadata{}, false
	}
	md, err := model.ParseMetadata(b)
	if err != nil {
		c.Log.Warnf("Failed to read cache for ID %s: %v", id, err)
		return model.Metadata{}, false
	}
	return md, true
}

// ReadSequence returns the cached FASTA text verbatim.
func (c *Cache) ReadSequence(id model.RecordID) (string, bool) {
	b, ok := c.read(KindSequence, id)
	if !ok {
		return "", false
	}
	return string(b), true
}

func (c *Cache) write(k Kind, id model.RecordID, b []byte) error {
	if !ValidID(id) {
		return ErrInvalidID
	}
	if err := c.EnsureDir(k); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(c.dir(k), "."+id+"-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), c.Path(k, id)); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

// WriteMetadata caches the raw upstream bytes of md for id; failures are logged only.
func (c *Cache) WriteMetadata(id model.RecordID, md model.Metadata) bool {
	var err error
	if len(md.Raw) == 0 {
		err = errors.New("no raw json")
	} else {
		err = c.write(KindMetadata, id, md.Raw)
	}
	if err != nil {
		c.Log.Errorf("Error writing cache file for ID %s: %v", id, fmt.Errorf("metadata: %w", err))
		return false
	}
	return true
}

// WriteSequence caches the FASTA text for id; failures are logged only.
func (c *Cache) WriteSequence(id model.RecordID, fasta string) bool {
	if err := c.write(KindSequence, id, []byte(fasta)); err != nil {
		c.Log.Errorf("Error writing FASTA cache for ID %s: %v", id, err)
		return false
	}
	return true
}
