package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"

	"chatsync/pkg/cache"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

// inspect dumps the contents of a snapshot cache (or the daemon's
// message log, which shares the layout) for debugging.
func main() {
	var p string
	var taskFlag int64
	flag.StringVar(&p, "path", "", "pebble cache path")
	flag.Int64Var(&taskFlag, "task", 0, "dump one task's turns instead of the listing")
	flag.Parse()
	if p == "" {
		fmt.Fprintln(os.Stderr, "--path required")
		os.Exit(2)
	}
	logger.Init()
	c, err := cache.Open(p)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open failed: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	if taskFlag != 0 {
		snap, savedTS, ok := c.LoadSnapshot(models.TaskID(taskFlag))
		if !ok {
			fmt.Fprintf(os.Stderr, "task %d not found\n", taskFlag)
			os.Exit(1)
		}
		out, _ := json.MarshalIndent(snap, "", "  ")
		fmt.Printf("saved_ts=%d\n%s\n", savedTS, out)
		return
	}

	tasks, err := c.Tasks()
	if err != nil {
		fmt.Fprintf(os.Stderr, "list failed: %v\n", err)
		os.Exit(1)
	}
	ids := make([]models.TaskID, 0, len(tasks))
	for id := range tasks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		snap, savedTS, ok := c.LoadSnapshot(id)
		if !ok {
			continue
		}
		fmt.Printf("task=%d title=%q turns=%d saved_ts=%d\n", id, snap.Title, len(snap.Turns), savedTS)
	}
}
