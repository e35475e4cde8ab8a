package pipeline

import (
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ThumbnailCache keeps recent event thumbnails in memory for the API and for
// re-analysis.
type ThumbnailCache struct {
	cache *lru.Cache[uuid.UUID, []byte]
}

func NewThumbnailCache(size int) *ThumbnailCache {
	if size <= 0 {
		size = 512
	}
	c, _ := lru.New[uuid.UUID, []byte](size)
	return &ThumbnailCache{cache: c}
}

func (t *ThumbnailCache) Add(id uuid.UUID, jpeg []byte) { t.cache.Add(id, jpeg) }

func (t *ThumbnailCache) Get(id uuid.UUID) ([]byte, bool) { return t.cache.Get(id) }

func (t *ThumbnailCache) Len() int { return t.cache.Len() }
