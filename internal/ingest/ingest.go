package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"newsdigest/internal/archive"
	"newsdigest/internal/config"
	"newsdigest/internal/extract"
	"newsdigest/internal/lock"
	"newsdigest/internal/model"
	"newsdigest/internal/normalize"
	"newsdigest/internal/store"
)

type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

type ItemResult struct {
	Index   int     `json:"index"`
	Title   string  `json:"title,omitempty"`
	Link    string  `json:"link,omitempty"`
	Outcome Outcome `json:"outcome"`
	ID      int64   `json:"id,omitempty"`
	Reason  string  `json:"reason,omitempty"`
}

// Report describes one batch run. Per-record failures never abort the
// batch; they show up here.
type Report struct {
	RunID          string       `json:"run_id"`
	Source         string       `json:"source"`
	StartedAt      time.Time    `json:"started_at"`
	FinishedAt     time.Time    `json:"finished_at"`
	FetchError     string       `json:"fetch_error,omitempty"`
	SnapshotKey    string       `json:"snapshot_key,omitempty"`
	ContainerFound bool         `json:"container_found"`
	Extracted      int          `json:"extracted"`
	Created        int          `json:"created"`
	Updated        int          `json:"updated"`
	Skipped        int          `json:"skipped"`
	Failed         int          `json:"failed"`
	Deduplicated   int64        `json:"deduplicated"`
	Items          []ItemResult `json:"items"`
	Errors         []string     `json:"errors"`
}

type Service struct {
	source        string
	prefix        string
	fetcher       *extract.Fetcher
	extractor     *extract.Extractor
	store         *store.Store
	locker        lock.Locker
	archive       archive.Archiver
	log           *zap.Logger
	mu            sync.Mutex
	last          *Report
	lastMessage   string
	lastMessageAt time.Time
}

func New(cfg config.Config, st *store.Store, locker lock.Locker, arch archive.Archiver, log *zap.Logger) *Service {
	if locker == nil {
		locker = lock.NewLocal()
	}
	if arch == nil {
		arch = archive.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		source:    cfg.Source.URL,
		prefix:    cfg.Archive.Prefix,
		fetcher:   extract.NewFetcher(cfg.FetchTimeout()),
		extractor: extract.New(cfg.Source.ContainerSelector),
		store:     st,
		locker:    locker,
		archive:   arch,
		log:       log.Named("ingest"),
	}
}

// Run satisfies scheduler.Runner.
func (s *Service) Run(ctx context.Context) error {
	_, err := s.Ingest(ctx)
	return err
}

// Ingest scrapes the source page once, upserts every extracted record in
// document order and deduplicates after the whole batch. The returned error
// is non-nil only when the run as a whole failed: lock, fetch, or dedup.
func (s *Service) Ingest(ctx context.Context) (*Report, error) {
	unlock, err := s.locker.Lock(ctx)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			s.progress("ingest: skipped, another run holds the lock")
		}
		return nil, err
	}
	defer unlock()

	rep := &Report{
		RunID:     uuid.NewString(),
		Source:    s.source,
		StartedAt: time.Now().UTC(),
		Items:     []ItemResult{},
		Errors:    []string{},
	}
	defer func() {
		rep.FinishedAt = time.Now().UTC()
		s.mu.Lock()
		s.last = rep
		s.mu.Unlock()
	}()
	s.progress("ingest: started", zap.String("run_id", rep.RunID), zap.String("source", s.source))

	page, err := s.fetcher.Fetch(ctx, s.source)
	if err != nil {
		rep.FetchError = err.Error()
		rep.Errors = append(rep.Errors, "fetch: "+err.Error())
		s.progress("ingest: fetch failed", zap.String("run_id", rep.RunID), zap.Error(err))
		return rep, fmt.Errorf("fetch %s: %w", s.source, err)
	}

	if s.archive.Enabled() {
		key := archive.SnapshotKey(s.prefix, rep.StartedAt, rep.RunID)
		if err := s.archive.Put(ctx, key, page, "text/html; charset=utf-8"); err != nil {
			rep.Errors = append(rep.Errors, "archive: "+err.Error())
			s.log.Warn("snapshot upload failed", zap.String("key", key), zap.Error(err))
		} else {
			rep.SnapshotKey = key
		}
	}

	raws, err := s.extractor.ExtractBytes(page)
	switch {
	case errors.Is(err, extract.ErrContainerNotFound):
		s.log.Warn("container not found, nothing to ingest", zap.String("run_id", rep.RunID))
	case err != nil:
		rep.Errors = append(rep.Errors, "extract: "+err.Error())
		s.log.Error("extract failed", zap.String("run_id", rep.RunID), zap.Error(err))
	default:
		rep.ContainerFound = true
	}
	rep.Extracted = len(raws)

	for i, raw := range raws {
		item := s.upsert(ctx, i, raw)
		switch item.Outcome {
		case OutcomeCreated:
			rep.Created++
		case OutcomeUpdated:
			rep.Updated++
		case OutcomeSkipped:
			rep.Skipped++
		case OutcomeFailed:
			rep.Failed++
			rep.Errors = append(rep.Errors, fmt.Sprintf("item %d: %s", i, item.Reason))
		}
		rep.Items = append(rep.Items, item)
	}

	removed, err := s.store.DeduplicateArticles(ctx)
	if err != nil {
		rep.Errors = append(rep.Errors, "deduplicate: "+err.Error())
		s.log.Error("deduplicate failed", zap.String("run_id", rep.RunID), zap.Error(err))
		return rep, fmt.Errorf("deduplicate: %w", err)
	}
	rep.Deduplicated = removed

	s.progress("ingest: done",
		zap.String("run_id", rep.RunID),
		zap.Int("extracted", rep.Extracted),
		zap.Int("created", rep.Created),
		zap.Int("updated", rep.Updated),
		zap.Int("skipped", rep.Skipped),
		zap.Int("failed", rep.Failed),
		zap.Int64("deduplicated", rep.Deduplicated),
		zap.Duration("took", time.Since(rep.StartedAt).Round(time.Millisecond)),
	)
	return rep, nil
}

func (s *Service) upsert(ctx context.Context, i int, raw model.RawArticle) ItemResult {
	item := ItemResult{
		Index: i,
		Title: model.StringValue(raw.Title),
		Link:  model.StringValue(raw.Link),
	}
	in, err := normalize.Record(raw)
	if err != nil {
		item.Outcome = OutcomeSkipped
		item.Reason = err.Error()
		s.log.Debug("record skipped", zap.Int("index", i), zap.Error(err))
		return item
	}
	item.Title = in.Title
	res, err := s.store.UpsertArticle(ctx, in)
	if err != nil {
		item.Outcome = OutcomeFailed
		item.Reason = err.Error()
		s.log.Error("upsert failed", zap.Int("index", i), zap.String("title", in.Title), zap.Error(err))
		return item
	}
	item.ID = res.ID
	item.Outcome = OutcomeUpdated
	if res.Created {
		item.Outcome = OutcomeCreated
	}
	return item
}

func (s *Service) progress(msg string, fields ...zap.Field) {
	s.log.Info(msg, fields...)
	s.mu.Lock()
	s.lastMessage = msg
	s.lastMessageAt = time.Now()
	s.mu.Unlock()
}

func (s *Service) LastProgress() (string, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMessage, s.lastMessageAt
}

// LastReport returns the report of the most recent run that got past the
// lock, or nil before the first one.
func (s *Service) LastReport() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
