package ingest

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"fleetguard/internal/config"
	"fleetguard/internal/model"
	"fleetguard/internal/normalize"
	"fleetguard/internal/stats"
)

// StartFileTail replays NDJSON position files, following appends the way
// tail -f does.
func StartFileTail(ctx context.Context, cfg *config.Manager, out chan<- model.Position, logger *slog.Logger, st *stats.Store) {
	current := cfg.Get().Ingest.FileTail
	if !current.Enabled {
		if logger != nil {
			logger.Info("file tail ingest disabled")
		}
		return
	}
	for _, path := range current.Files {
		path := path
		if logger != nil {
			logger.Info("file tail ingest enabled", "path", path, "start_at_end", current.StartAtEnd)
		}
		go tailFile(ctx, path, current.StartAtEnd, cfg, out, logger, st)
	}
}

func tailFile(ctx context.Context, path string, startAtEnd bool, cfg *config.Manager, out chan<- model.Position, logger *slog.Logger, st *stats.Store) {
	var file *os.File
	var offset int64
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if file == nil {
			f, err := os.Open(path)
			if err != nil {
				if logger != nil {
					logger.Warn("tail open failed", "path", path, "err", err)
				}
				if !BackoffSleep(ctx, 500*time.Millisecond) {
					return
				}
				continue
			}
			file = f
			offset = 0
			if startAtEnd {
				if pos, err := file.Seek(0, io.SeekEnd); err == nil {
					offset = pos
				}
			}
		}

		reader := bufio.NewReader(file)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err == io.EOF {
					if !BackoffSleep(ctx, 200*time.Millisecond) {
						_ = file.Close()
						return
					}
					// Truncation means the file was rotated in place.
					info, statErr := os.Stat(path)
					if statErr == nil && info.Size() < offset {
						_ = file.Close()
						file = nil
						break
					}
					continue
				}
				if logger != nil {
					logger.Warn("tail read error", "path", path, "err", err)
				}
				_ = file.Close()
				file = nil
				break
			}
			offset += int64(len(line))
			trimmed := strings.TrimSpace(line)
			if trimmed == "" {
				continue
			}
			rec, err := DecodePosition([]byte(trimmed))
			if err != nil {
				if st != nil {
					st.Inc(stats.PositionsInvalid)
				}
				if logger != nil {
					logger.Warn("tail decode error", "path", path, "err", err)
				}
				continue
			}
			pos, err := normalize.Normalize(rec, time.Now().UTC(), cfg.Get())
			if err != nil {
				if st != nil {
					st.Inc(stats.PositionsInvalid)
				}
				if logger != nil {
					logger.Warn("tail normalize error", "err", err)
				}
				continue
			}
			SendNonBlocking(ctx, out, pos, "file_tail", logger, st)
		}
	}
}
