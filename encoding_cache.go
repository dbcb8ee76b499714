package schemaregistry

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/olekukonko/tablewriter"
	"github.com/tryfix/log"
	"golang.org/x/sync/singleflight"
)

// EncodingCache memoizes EncodingID → EncodingInfo for one group. Encoding ids are immutable so
// entries never expire. Concurrent misses on the same id share a single registry call and a
// failed resolution is never stored.
type EncodingCache struct {
	group   string
	client  Client
	mu      sync.RWMutex
	entries map[EncodingID]EncodingInfo
	flight  singleflight.Group
	metrics *cacheMetrics
	logger  log.Logger
}

// NewEncodingCache returns an empty cache for group backed by client.
func NewEncodingCache(group string, client Client, opts ...Option) *EncodingCache {
	return newEncodingCache(group, client, newOptions(opts...))
}

func newEncodingCache(group string, client Client, o *options) *EncodingCache {
	return &EncodingCache{
		group:   group,
		client:  client,
		entries: make(map[EncodingID]EncodingInfo),
		metrics: newCacheMetrics(o.metrics),
		logger:  o.logger.NewLog(log.Prefixed(`EncodingCache`)),
	}
}

// Get returns the EncodingInfo for id, resolving it through the registry on a miss.
func (c *EncodingCache) Get(ctx context.Context, id EncodingID) (EncodingInfo, error) {
	c.mu.RLock()
	info, ok := c.entries[id]
	c.mu.RUnlock()
	if ok {
		c.metrics.hits.WithLabelValues(c.group).Inc()
		return info, nil
	}

	c.metrics.misses.WithLabelValues(c.group).Inc()

	ch := c.flight.DoChan(strconv.Itoa(int(id)), func() (interface{}, error) {
		// a caller that finished the previous flight may have filled the entry already
		c.mu.RLock()
		info, ok := c.entries[id]
		c.mu.RUnlock()
		if ok {
			return info, nil
		}

		info, err := c.client.GetEncodingInfo(ctx, c.group, id)
		if err != nil {
			c.metrics.failures.WithLabelValues(c.group).Inc()
			c.logger.Warn(fmt.Sprintf(`encoding id [%d] of group [%s] resolve failed due to %s`, id, c.group, err))
			return nil, err
		}

		c.mu.Lock()
		c.entries[id] = info
		c.mu.Unlock()

		c.logger.Debug(fmt.Sprintf(`encoding id [%d] of group [%s] resolved to %s/%s`, id, c.group, info.VersionInfo, info.CodecType))

		return info, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return EncodingInfo{}, res.Err
		}
		return res.Val.(EncodingInfo), nil
	case <-ctx.Done():
		return EncodingInfo{}, WrapError(KindServiceUnavailable, `encodingCache.Get`, ctx.Err(), fmt.Sprintf(`waiting for encoding id [%d]`, id))
	}
}

// Len returns the number of cached encodings.
func (c *EncodingCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Print logs the cached encodings as a table.
func (c *EncodingCache) Print() {
	c.mu.RLock()
	ids := make([]int, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	b := new(bytes.Buffer)
	table := tablewriter.NewWriter(b)
	table.SetHeader([]string{`encoding id`, `type`, `version`, `schema id`, `format`, `codec`})
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT})
	table.SetAutoFormatHeaders(true)
	for _, id := range ids {
		info := c.entries[EncodingID(id)]
		table.Append([]string{
			fmt.Sprint(id),
			info.VersionInfo.Type,
			fmt.Sprint(info.VersionInfo.Version),
			fmt.Sprint(info.VersionInfo.ID),
			info.SchemaInfo.Format.String(),
			info.CodecType.String(),
		})
	}
	c.mu.RUnlock()

	table.Render()
	c.logger.Info(fmt.Sprintf("encodings of group [%s]\n%s", c.group, b.String()))
}
