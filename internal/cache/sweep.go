package cache

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Sweep removes every partition directory that carries this application's
// prefix but is not one of the three current-version partitions. Partitions
// belonging to other applications in the same base directory are left alone.
// Running Sweep twice with the same version is a no-op on cache contents.
func (c *Cache) Sweep() ([]string, error) {
	entries, err := os.ReadDir(c.base)
	if err != nil {
		return nil, errors.Wrap(err, "ReadDir")
	}

	valid := make(map[string]struct{}, len(c.dirs))
	for _, name := range c.dirs {
		valid[name] = struct{}{}
	}

	var removed []string
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), c.prefix) {
			continue
		}
		if _, ok := valid[e.Name()]; ok {
			continue
		}

		if err := os.RemoveAll(filepath.Join(c.base, e.Name())); err != nil {
			return removed, errors.Wrap(err, "RemoveAll")
		}
		log.Infof("removed stale partition %s", e.Name())
		removed = append(removed, e.Name())
	}

	return removed, nil
}
