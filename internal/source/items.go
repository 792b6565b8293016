// Package source loads the line-oriented input files feeding the queue.
package source

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// LoadStats summarizes one items-file load.
type LoadStats struct {
	Valid      int
	Invalid    int
	Duplicates int
}

// LoadItems reads a list of positive integer item keys, one per line.
// Blank and #-prefixed lines are ignored. Invalid and duplicate entries are
// counted and skipped; the load fails only when zero valid unique keys
// remain.
func LoadItems(path string, logger *zap.Logger) ([]int64, LoadStats, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, LoadStats{}, fmt.Errorf("open items file: %w", err)
	}
	defer f.Close()

	var (
		stats LoadStats
		ids   []int64
		seen  = make(map[int64]struct{})
	)

	scanner := bufio.NewScanner(f)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		itemID, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			stats.Invalid++
			logger.Warn("invalid item entry",
				zap.Int("line", lineNumber),
				zap.String("value", line),
			)
			continue
		}
		if itemID <= 0 {
			stats.Invalid++
			logger.Warn("non-positive item entry",
				zap.Int("line", lineNumber),
				zap.Int64("item_id", itemID),
			)
			continue
		}
		if _, dup := seen[itemID]; dup {
			stats.Duplicates++
			logger.Warn("duplicate item entry",
				zap.Int("line", lineNumber),
				zap.Int64("item_id", itemID),
			)
			continue
		}

		seen[itemID] = struct{}{}
		ids = append(ids, itemID)
	}
	if err := scanner.Err(); err != nil {
		return nil, LoadStats{}, fmt.Errorf("scan items file: %w", err)
	}

	stats.Valid = len(ids)
	if stats.Valid == 0 {
		return nil, stats, fmt.Errorf("items file %s contains no valid unique IDs", path)
	}
	return ids, stats, nil
}
