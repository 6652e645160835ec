package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/steveyegge/mpsync/internal/tracker"
	"github.com/steveyegge/mpsync/internal/ui"
)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func statsRow(name string, s *tracker.ProjectStats) []string {
	note := ""
	if s.NoChanges {
		note = "no changes"
	}
	return []string{
		name,
		strconv.Itoa(s.Fetched),
		strconv.Itoa(s.Created),
		strconv.Itoa(s.Updated),
		strconv.Itoa(s.Skipped),
		strconv.Itoa(s.Comments),
		strconv.Itoa(s.Attachments),
		note,
	}
}

// printSyncResult renders run statistics as JSON or as a table.
func printSyncResult(w io.Writer, r *tracker.SyncResult, jsonOutput bool) error {
	if jsonOutput {
		return writeJSON(w, r)
	}

	rows := make([][]string, 0, len(r.Projects)+1)
	for _, id := range sortedKeys(r.Projects) {
		rows = append(rows, statsRow(id, r.Projects[id]))
	}
	if len(r.Projects) > 1 {
		total := r.Totals()
		rows = append(rows, statsRow("total", &total))
	}

	headers := []string{"PROJECT", "FETCHED", "CREATED", "UPDATED", "SKIPPED", "COMMENTS", "ATTACHMENTS", ""}
	if _, err := fmt.Fprintln(w, ui.RenderTable(headers, rows)); err != nil {
		return err
	}

	elapsed := r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond)
	summary := fmt.Sprintf("%d project(s) in %s", len(r.Projects), elapsed)
	if r.DryRun {
		summary += ui.RenderWarn(" (dry run: nothing was written)")
	}
	_, err := fmt.Fprintln(w, ui.RenderMuted(summary))
	return err
}
