package engine

import (
	"bytes"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/klyr/wafcore/internal/field"
	"github.com/klyr/wafcore/internal/rules"
)

type cacheKey struct {
	kind field.Kind
	sum  uint64
}

type cacheEntry struct {
	payload []byte
	epoch   uint64
	verdict Verdict
}

// verdictCache remembers recent verdicts per field kind and raw payload.
// An entry only counts while the store epoch it was computed under is
// still current.
type verdictCache struct {
	entries *lru.Cache[cacheKey, cacheEntry]
}

func newVerdictCache(size int) (*verdictCache, error) {
	entries, err := lru.New[cacheKey, cacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &verdictCache{entries: entries}, nil
}

func (c *verdictCache) get(kind field.Kind, payload []byte, epoch uint64) (Verdict, bool) {
	key := cacheKey{kind: kind, sum: xxhash.Sum64(payload)}
	entry, ok := c.entries.Get(key)
	if !ok {
		return Verdict{}, false
	}
	if entry.epoch != epoch || !bytes.Equal(entry.payload, payload) {
		return Verdict{}, false
	}
	v := entry.verdict
	v.Info = cloneInfo(v.Info)
	v.Cached = true
	return v, true
}

func (c *verdictCache) add(kind field.Kind, payload []byte, epoch uint64, v Verdict) {
	key := cacheKey{kind: kind, sum: xxhash.Sum64(payload)}
	v.Info = cloneInfo(v.Info)
	c.entries.Add(key, cacheEntry{payload: bytes.Clone(payload), epoch: epoch, verdict: v})
}

func (c *verdictCache) len() int {
	return c.entries.Len()
}

func (c *verdictCache) purge() {
	c.entries.Purge()
}

func cloneInfo(info *rules.SignatureInfo) *rules.SignatureInfo {
	if info == nil {
		return nil
	}
	out := *info
	out.Tags = append([]string(nil), info.Tags...)
	return &out
}
