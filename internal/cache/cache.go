// Package cache implements the gateway's versioned on-disk cache partitions.
//
// Three partitions exist at a time: STATIC holds the precached app shell,
// DYNAMIC holds same-origin pages captured at runtime, API holds backend
// responses. Partition directory names embed the version token, so bumping
// the token makes every old partition sweepable.
package cache

import (
	"os"
	"path/filepath"

	"github.com/dentflow/offgate/internal/offgate"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Partition selects one of the three cache partitions.
type Partition uint8

const (
	Static Partition = 1 + iota
	Dynamic
	API
)

func (p Partition) String() string {
	s := "invalid"
	switch p {
	case Static:
		s = "static"
	case Dynamic:
		s = "dynamic"
	case API:
		s = "api"
	}
	return s
}

// Cache manages the partition directories below a base path.
type Cache struct {
	base   string
	prefix string
	dirs   map[Partition]string
}

// New opens the cache below base, creating the three partition directories
// for the configured version if needed.
func New(base string, cfg offgate.Config) (*Cache, error) {
	c := &Cache{
		base:   base,
		prefix: cfg.CachePrefix + "-",
		dirs: map[Partition]string{
			Static:  cfg.StaticPartition(),
			Dynamic: cfg.DynamicPartition(),
			API:     cfg.APIPartition(),
		},
	}

	for _, name := range c.dirs {
		if err := os.MkdirAll(filepath.Join(base, name), dirMode); err != nil {
			return nil, errors.Wrap(err, "MkdirAll")
		}
	}

	return c, nil
}

func (c *Cache) dir(p Partition) string {
	return filepath.Join(c.base, c.dirs[p])
}

func (c *Cache) filename(p Partition, k offgate.Key) string {
	name := k.String()
	subdir := name[:2]
	return filepath.Join(c.dir(p), subdir, name)
}

// Store writes a captured response into partition p under key k. The entry
// is written to a temporary file first so a crash never leaves a truncated
// entry behind.
func (c *Cache) Store(p Partition, k offgate.Key, cr *offgate.CapturedResponse) error {
	buf, err := encodeEntry(cr)
	if err != nil {
		return err
	}

	fn := c.filename(p, k)
	if err := os.MkdirAll(filepath.Dir(fn), dirMode); err != nil {
		return errors.Wrap(err, "MkdirAll")
	}

	tmp := fn + ".tmp"
	if err := os.WriteFile(tmp, buf, fileMode); err != nil {
		return errors.Wrap(err, "WriteFile")
	}
	if err := os.Rename(tmp, fn); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "Rename")
	}

	log.Debugf("stored entry %v in %v partition, %d bytes", k.Str(), p, len(cr.Body))
	return nil
}

// Load reads the entry for k from partition p. os.ErrNotExist is returned
// when the entry is absent.
func (c *Cache) Load(p Partition, k offgate.Key) (*offgate.CapturedResponse, error) {
	buf, err := os.ReadFile(c.filename(p, k))
	if err != nil {
		return nil, err
	}
	return decodeEntry(buf)
}

// Has returns true if the entry is cached in partition p.
func (c *Cache) Has(p Partition, k offgate.Key) bool {
	_, err := os.Stat(c.filename(p, k))
	return err == nil
}

// Match looks up k across all partitions, static first. It reports which
// partition held the entry.
func (c *Cache) Match(k offgate.Key) (*offgate.CapturedResponse, Partition, bool) {
	for _, p := range []Partition{Static, Dynamic, API} {
		cr, err := c.Load(p, k)
		if err == nil {
			return cr, p, true
		}
		if !os.IsNotExist(err) {
			log.Warnf("cannot read cached entry %v from %v partition: %v", k.Str(), p, err)
		}
	}
	return nil, 0, false
}

// Remove deletes the entry for k from partition p. When the entry is not
// cached, no error is returned.
func (c *Cache) Remove(p Partition, k offgate.Key) error {
	err := os.Remove(c.filename(p, k))
	if errors.Is(err, os.ErrNotExist) {
		err = nil
	}
	return err
}
