package outcall

import "time"

// EntryState is the serialisable form of one cache entry.
type EntryState struct {
	CachedAt time.Time     `json:"cached_at"`
	TTL      time.Duration `json:"ttl"`
	Response *Response     `json:"response,omitempty"`
}

// State captures everything needed to rebuild a Cache after a restart.
type State struct {
	Entries  map[string]EntryState `json:"entries"`
	Capacity int                   `json:"capacity"`
	Stats    Stats                 `json:"stats"`
}

// Export copies the cache contents.
func (c *Cache) Export() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := State{
		Entries:  make(map[string]EntryState, len(c.entries)),
		Capacity: c.cfg.Capacity,
		Stats:    c.stats,
	}
	st.Stats.CacheSize = uint64(len(c.entries))
	for url, e := range c.entries {
		es := EntryState{CachedAt: e.cachedAt, TTL: e.ttl}
		if e.response != nil {
			r := cloneResponse(*e.response)
			es.Response = &r
		}
		st.Entries[url] = es
	}
	return st
}

// Restore replaces the cache contents with st.
func (c *Cache) Restore(st State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*entry, len(st.Entries))
	for url, es := range st.Entries {
		e := &entry{cachedAt: es.CachedAt, ttl: es.TTL}
		if es.Response != nil {
			r := cloneResponse(*es.Response)
			e.response = &r
		}
		c.entries[url] = e
	}
	if st.Capacity > 0 {
		c.cfg.Capacity = st.Capacity
	}
	c.stats = st.Stats
}

func cloneResponse(r Response) Response {
	out := Response{StatusCode: r.StatusCode, Header: r.Header.Clone()}
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	return out
}
