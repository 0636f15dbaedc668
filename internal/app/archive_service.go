package app

import (
	"context"
	"fmt"

	"weatherdash/internal/domain"

	"go.uber.org/zap"
)

// ArchiveService copies recorded searches into long-term storage.
type ArchiveService struct {
	archive domain.SearchArchive
	log     *zap.Logger
}

// NewArchiveService creates an ArchiveService writing to archive.
func NewArchiveService(archive domain.SearchArchive, log *zap.Logger) *ArchiveService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ArchiveService{archive: archive, log: log}
}

// HandleSearchEvent archives one event. Returning an error asks the
// transport to redeliver it.
func (s *ArchiveService) HandleSearchEvent(ctx context.Context, ev domain.SearchEvent) error {
	if ev.UserID == 0 || ev.Query == "" {
		return fmt.Errorf("%w: missing user or query", domain.ErrMalformedEvent)
	}
	if err := s.archive.Archive(ctx, ev); err != nil {
		return fmt.Errorf("archive search %s: %w", ev.RecordID, err)
	}
	s.log.Info("search archived",
		zap.String("record_id", ev.RecordID.String()),
		zap.Int64("user_id", ev.UserID),
	)
	return nil
}
