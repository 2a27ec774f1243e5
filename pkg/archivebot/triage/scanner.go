package triage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jholhewres/archivebot/pkg/archivebot/chat"
)

// ArchiveScanner lists archived conversations with unread messages.
// It keeps the adapter's order; any priority policy other than list order
// belongs here, never in the loop.
type ArchiveScanner struct {
	site        Site
	ignoreMuted bool
	logger      *slog.Logger
}

// NewArchiveScanner creates a scanner over site.
func NewArchiveScanner(site Site, ignoreMuted bool, logger *slog.Logger) *ArchiveScanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ArchiveScanner{
		site:        site,
		ignoreMuted: ignoreMuted,
		logger:      logger.With("component", "scanner"),
	}
}

// ListUnread returns the current candidates. An empty result is not an
// error. The archive view is assumed to be open already.
func (s *ArchiveScanner) ListUnread(ctx context.Context) ([]chat.Candidate, error) {
	raw, err := s.site.ArchivedChatsWithUnread(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing archived chats: %w", err)
	}

	seen := make(map[string]struct{}, len(raw))
	out := make([]chat.Candidate, 0, len(raw))
	for _, c := range raw {
		if c.Name == "" {
			continue
		}
		if _, dup := seen[c.Name]; dup {
			continue
		}
		seen[c.Name] = struct{}{}
		if s.ignoreMuted && c.Muted {
			s.logger.Debug("skipping muted chat", "chat", c.Name)
			continue
		}
		if c.UnreadCount < 1 {
			c.UnreadCount = 1
		}
		out = append(out, c)
	}

	s.logger.Debug("archive scanned", "found", len(raw), "candidates", len(out))
	return out, nil
}
