package optimize

import (
	"github.com/dgraph-io/ristretto/v2"

	"github.com/apm-dev/apm/internal/markdown"
)

// matchCache memoizes doublestar matching for (pattern, path) pairs: the
// optimizer's coverage/pollution computation re-checks the same pairs
// across the three strategy tiers.
type matchCache struct {
	c *ristretto.Cache[string, bool]
}

func newMatchCache() (*matchCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, bool]{
		NumCounters: 1e5,
		MaxCost:     1 << 22,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &matchCache{c: c}, nil
}

func (m *matchCache) match(pattern, relPath string) (bool, error) {
	key := pattern + "\x00" + relPath
	if v, ok := m.c.Get(key); ok {
		return v, nil
	}
	ok, err := markdown.MatchGlob(pattern, relPath)
	if err != nil {
		return false, err
	}
	m.c.Set(key, ok, 1)
	m.c.Wait()
	return ok, nil
}

func (m *matchCache) close() {
	m.c.Close()
}
