package analytics

import (
	"context"
	"sort"
	"time"

	"guildkeeper/internal/storage"
)

type Source interface {
	ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]storage.AuditLog, error)
	ListArchiveBundles(ctx context.Context, guildID string, limit int) ([]storage.ArchiveBundle, error)
}

type Service struct {
	store Source
}

func New(store Source) *Service {
	return &Service{store: store}
}

type EventCount struct {
	Event string
	Count int
}

type Report struct {
	Total            int
	ByLevel          map[string]int
	TopEvents        []EventCount
	Archives         int
	ArchivedMessages int
}

func (s *Service) Report(ctx context.Context, guildID string, since time.Time) (Report, error) {
	logs, err := s.store.ListAuditLogs(ctx, guildID, since)
	if err != nil {
		return Report{}, err
	}

	report := Report{ByLevel: make(map[string]int)}
	byEvent := make(map[string]int)
	for _, log := range logs {
		report.Total++
		report.ByLevel[log.Level]++
		byEvent[log.Event]++
	}
	for event, count := range byEvent {
		report.TopEvents = append(report.TopEvents, EventCount{Event: event, Count: count})
	}
	sort.Slice(report.TopEvents, func(i, j int) bool {
		if report.TopEvents[i].Count == report.TopEvents[j].Count {
			return report.TopEvents[i].Event < report.TopEvents[j].Event
		}
		return report.TopEvents[i].Count > report.TopEvents[j].Count
	})
	if len(report.TopEvents) > 5 {
		report.TopEvents = report.TopEvents[:5]
	}

	bundles, err := s.store.ListArchiveBundles(ctx, guildID, 100)
	if err != nil {
		return Report{}, err
	}
	for _, bundle := range bundles {
		if bundle.CreatedAt.Before(since) {
			continue
		}
		report.Archives++
		report.ArchivedMessages += bundle.MessageCount
	}
	return report, nil
}
