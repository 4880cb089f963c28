// Package snapshot writes point-in-time copies of the ledger to object
// storage and reads the latest one back for cold starts.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/sahil75416/crisisCapital/internal/domain"
)

const (
	// Prefix holds every snapshot object.
	Prefix     = "snapshots/"
	LatestPath = Prefix + "latest.json"
	ledgerStem = Prefix + "ledger-"
)

// multipartThreshold switches uploads to the multipart manager.
const multipartThreshold = 8 << 20

// Source produces a consistent copy of the ledger.
type Source interface {
	Snapshot() domain.LedgerState
}

// Blobs is the object storage the snapshots live in.
type Blobs interface {
	domain.BlobWriter
	domain.BlobReader
	domain.BlobDeleter
}

// Service takes, loads and prunes ledger snapshots.
type Service struct {
	source    Source
	blobs     Blobs
	retention time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewService creates a snapshot Service. retention <= 0 keeps every snapshot.
func NewService(source Source, blobs Blobs, retention time.Duration, logger *slog.Logger) *Service {
	return &Service{
		source:    source,
		blobs:     blobs,
		retention: retention,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "snapshot")),
	}
}

// PathFor returns the object path of a snapshot taken at t.
func PathFor(t time.Time) string {
	return ledgerStem + strconv.FormatInt(t.Unix(), 10) + ".json"
}

// Take serialises the ledger, uploads it under a timestamped path and
// updates latest.json. It returns the timestamped path.
func (s *Service) Take(ctx context.Context) (string, error) {
	st := s.source.Snapshot()
	data, err := json.Marshal(st)
	if err != nil {
		return "", fmt.Errorf("snapshot: marshal: %w", err)
	}

	path := PathFor(st.TakenAt)
	if len(data) >= multipartThreshold {
		err = s.blobs.PutMultipart(ctx, path, bytes.NewReader(data), multipartThreshold)
	} else {
		err = s.blobs.Put(ctx, path, bytes.NewReader(data), "application/json")
	}
	if err != nil {
		return "", fmt.Errorf("snapshot: upload %s: %w", path, err)
	}
	if err := s.blobs.Put(ctx, LatestPath, bytes.NewReader(data), "application/json"); err != nil {
		return "", fmt.Errorf("snapshot: update latest: %w", err)
	}

	s.logger.InfoContext(ctx, "snapshot written",
		slog.String("path", path),
		slog.Int("markets", len(st.Markets)),
		slog.Int("positions", len(st.Positions)),
		slog.Int("bytes", len(data)),
	)
	return path, nil
}

// Latest loads the most recent snapshot. It returns an error wrapping
// domain.ErrNotFound when none has been written yet.
func (s *Service) Latest(ctx context.Context) (domain.LedgerState, error) {
	rc, err := s.blobs.Get(ctx, LatestPath)
	if err != nil {
		return domain.LedgerState{}, fmt.Errorf("snapshot: get latest: %w", err)
	}
	defer rc.Close()

	var st domain.LedgerState
	if err := json.NewDecoder(rc).Decode(&st); err != nil {
		return domain.LedgerState{}, fmt.Errorf("snapshot: decode latest: %w", err)
	}
	return st, nil
}

// Prune deletes timestamped snapshots older than the retention period and
// returns how many were removed. latest.json is never pruned.
func (s *Service) Prune(ctx context.Context) (int, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	infos, err := s.blobs.List(ctx, ledgerStem)
	if err != nil {
		return 0, fmt.Errorf("snapshot: list: %w", err)
	}

	cutoff := s.now().Add(-s.retention)
	removed := 0
	for _, info := range infos {
		ts, ok := takenAt(info.Path)
		if !ok || !ts.Before(cutoff) {
			continue
		}
		if err := s.blobs.Delete(ctx, info.Path); err != nil {
			return removed, fmt.Errorf("snapshot: delete %s: %w", info.Path, err)
		}
		removed++
	}
	if removed > 0 {
		s.logger.InfoContext(ctx, "old snapshots pruned", slog.Int("count", removed))
	}
	return removed, nil
}

// takenAt parses the timestamp out of a snapshot path.
func takenAt(path string) (time.Time, bool) {
	name, ok := strings.CutPrefix(path, ledgerStem)
	if !ok {
		return time.Time{}, false
	}
	unix, err := strconv.ParseInt(strings.TrimSuffix(name, ".json"), 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(unix, 0), true
}
