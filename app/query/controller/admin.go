package controller

import (
	"net/http"
	"time"

	"github.com/canopy-network/spendq/pkg/cache"
	"github.com/canopy-network/spendq/pkg/prefetch"
	"github.com/dustin/go-humanize"
)

// CacheEntry is the admin view of one cached answer.
type CacheEntry struct {
	cache.EntryInfo
	HumanSize      string `json:"human_size"`
	HumanRemaining string `json:"human_remaining"`
}

type CacheResponse struct {
	Stats      cache.Stats  `json:"stats"`
	TotalBytes uint64       `json:"total_bytes"`
	HumanTotal string       `json:"human_total"`
	Entries    []CacheEntry `json:"entries"`
}

// HandleCache reports cache counters and the live entries.
func (c *Controller) HandleCache(w http.ResponseWriter, _ *http.Request) {
	infos := c.App.Cache.Entries()
	resp := CacheResponse{
		Stats:   c.App.Cache.Stats(),
		Entries: make([]CacheEntry, 0, len(infos)),
	}
	for _, info := range infos {
		resp.TotalBytes += uint64(info.Size)
		resp.Entries = append(resp.Entries, CacheEntry{
			EntryInfo:      info,
			HumanSize:      humanize.Bytes(uint64(info.Size)),
			HumanRemaining: info.Remaining.Round(time.Second).String(),
		})
	}
	resp.HumanTotal = humanize.Bytes(resp.TotalBytes)
	writeJSON(w, http.StatusOK, resp)
}

// HandleTables reports every aggregate table's generation, size and last failure.
func (c *Controller) HandleTables(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, c.App.Store.Tables())
}

// HandlePrefetch returns the recent prefetch runs, newest first.
func (c *Controller) HandlePrefetch(w http.ResponseWriter, _ *http.Request) {
	if c.App.Prefetch == nil {
		writeJSON(w, http.StatusOK, []prefetch.Run{})
		return
	}
	writeJSON(w, http.StatusOK, c.App.Prefetch.History())
}
