package cache

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/pebble"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

// Cache is a pebble-backed local store of the last reconciled snapshot
// per conversation. On open, a conversation can be painted from the
// cache instantly before the backend fetch returns; the cache is
// refreshed after every successful reconcile. The reference daemon
// reuses the same layout as its durable message log.
type Cache struct {
	db *pebble.DB
}

// record is the stored value for one conversation.
type record struct {
	TaskID  models.TaskID `json:"task_id"`
	Title   string        `json:"title,omitempty"`
	Turns   []models.Turn `json:"turns"`
	SavedTS int64         `json:"saved_ts"`
}

// Open opens (or creates) the cache database at path.
func Open(path string) (*Cache, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("cache_open_failed", "path", path, "err", err)
		return nil, fmt.Errorf("open cache at %s: %w", path, err)
	}
	logger.Info("cache_opened", "path", path)
	return &Cache{db: db}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

func taskKey(id models.TaskID) []byte {
	// zero-padded so iteration order matches id order
	return []byte(fmt.Sprintf("task:%020d:snapshot", id))
}

// SaveSnapshot stores the turn list for a conversation.
func (c *Cache) SaveSnapshot(id models.TaskID, title string, turns []models.Turn) error {
	if id <= 0 {
		return fmt.Errorf("cache: not a durable id: %s", id)
	}
	rec := record{TaskID: id, Title: title, Turns: turns, SavedTS: time.Now().UTC().UnixNano()}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := c.db.Set(taskKey(id), data, pebble.Sync); err != nil {
		logger.Error("cache_save_failed", "task", id, "err", err)
		return err
	}
	return nil
}

// LoadSnapshot returns the cached turns for a conversation, or ok=false
// when none are cached.
func (c *Cache) LoadSnapshot(id models.TaskID) (models.Snapshot, int64, bool) {
	val, closer, err := c.db.Get(taskKey(id))
	if err != nil {
		return models.Snapshot{}, 0, false
	}
	defer closer.Close()
	var rec record
	if err := json.Unmarshal(val, &rec); err != nil {
		logger.Warn("cache_decode_failed", "task", id, "err", err)
		return models.Snapshot{}, 0, false
	}
	return models.Snapshot{TaskID: rec.TaskID, Title: rec.Title, Turns: rec.Turns}, rec.SavedTS, true
}

// DeleteTask drops the cached snapshot for a conversation.
func (c *Cache) DeleteTask(id models.TaskID) error {
	return c.db.Delete(taskKey(id), pebble.Sync)
}

// Tasks lists all cached conversation ids with their save timestamps.
func (c *Cache) Tasks() (map[models.TaskID]int64, error) {
	out := make(map[models.TaskID]int64)
	iter, err := c.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("task:"),
		UpperBound: []byte("task;"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		key := string(iter.Key())
		parts := strings.Split(key, ":")
		if len(parts) != 3 || parts[2] != "snapshot" {
			continue
		}
		id, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			continue
		}
		var rec record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue
		}
		out[models.TaskID(id)] = rec.SavedTS
	}
	return out, nil
}
