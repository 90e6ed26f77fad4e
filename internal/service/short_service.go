package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/darkodi/shorts/internal/cache"
	apperrors "github.com/darkodi/shorts/internal/errors"
	"github.com/darkodi/shorts/internal/logger"
	"github.com/darkodi/shorts/internal/model"
	"github.com/darkodi/shorts/internal/race"
	"github.com/darkodi/shorts/internal/repository"
	"github.com/darkodi/shorts/internal/task"
	"github.com/darkodi/shorts/internal/validator"
)

// Custom errors for the service layer
var (
	ErrInvalidURL = errors.New("invalid URL format")
	ErrEmptyURL   = errors.New("URL cannot be empty")
	ErrNotFound   = errors.New("short URL not found")
)

// Names reported as the winning source of a lookup
const (
	SourceCache    = "cache"
	SourceDatabase = "database"
)

const (
	defaultInsertAttempts = 3
	defaultCreateTimeout  = 5 * time.Second
)

// Cache is the volatile store consulted alongside the database
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Repository is the authoritative mapping store
type Repository interface {
	FindLongByShortID(ctx context.Context, id string) (string, error)
	FindShortByLongURL(ctx context.Context, longURL string) (string, error)
	InsertMapping(ctx context.Context, m *model.Mapping) error
}

// IDGenerator issues candidate short ids
type IDGenerator interface {
	NewShortID() string
}

// StatsRecorder counts visits without blocking the caller
type StatsRecorder interface {
	RecordGoto(shortID, longURL, source string)
}

// Options tunes a ShortService
type Options struct {
	BaseURL        string        // e.g., "http://localhost:8080"
	CacheTTL       time.Duration // lifetime of every cache entry
	InsertAttempts int           // ids tried before giving up on a create
	CreateTimeout  time.Duration // bound on one shared creation
	Validator      *validator.URLValidator
}

// ShortService resolves and creates mappings by racing the cache against the
// database. The database is the only source of truth; cache writes happen
// on detached tasks and their failures never reach the caller.
type ShortService struct {
	repo  Repository
	cache Cache
	ids   IDGenerator
	stats StatsRecorder
	tasks task.Executor
	log   *logger.Logger

	validator *validator.URLValidator

	baseURL        string
	ttl            time.Duration
	insertAttempts int
	createTimeout  time.Duration

	creates singleflight.Group
}

// NewShortService creates a new service instance
func NewShortService(repo Repository, c Cache, ids IDGenerator, stats StatsRecorder, tasks task.Executor, opts Options, log *logger.Logger) *ShortService {
	attempts := opts.InsertAttempts
	if attempts < 1 {
		attempts = defaultInsertAttempts
	}
	createTimeout := opts.CreateTimeout
	if createTimeout <= 0 {
		createTimeout = defaultCreateTimeout
	}
	v := opts.Validator
	if v == nil {
		v = validator.NewURLValidator()
	}
	return &ShortService{
		repo:           repo,
		cache:          c,
		ids:            ids,
		stats:          stats,
		tasks:          tasks,
		log:            log.Component("shorts"),
		validator:      v,
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		ttl:            opts.CacheTTL,
		insertAttempts: attempts,
		createTimeout:  createTimeout,
	}
}

// Resolve returns the long URL behind id and records the visit.
//
// Cache and database are queried concurrently and the first hit wins. A
// database win repairs the cache in the background. ErrNotFound means both
// sources answered with a miss.
func (s *ShortService) Resolve(ctx context.Context, id string) (string, error) {
	res, err := s.race(ctx, id, s.repo.FindLongByShortID)
	if err != nil {
		return "", err
	}

	if res.Source == SourceDatabase {
		s.cacheSet("cache_repair", id, res.Value)
	}
	s.stats.RecordGoto(id, res.Value, res.Source)

	return res.Value, nil
}

// LookupShort returns the short id already issued for longURL, racing the
// hashed cache key against the database's long_url column.
func (s *ShortService) LookupShort(ctx context.Context, longURL string) (string, error) {
	key := cache.LongURLKey(longURL)
	res, err := s.race(ctx, key, func(ctx context.Context, _ string) (string, error) {
		return s.repo.FindShortByLongURL(ctx, longURL)
	})
	if err != nil {
		return "", err
	}

	if res.Source == SourceDatabase {
		s.cacheSet("cache_repair", key, res.Value)
	}
	return res.Value, nil
}

// Create returns the mapping for longURL, issuing a new short id only when
// none exists yet. Concurrent calls for the same URL share one creation,
// which is not tied to any single caller's cancellation.
func (s *ShortService) Create(ctx context.Context, longURL string) (*model.CreateShortResponse, error) {
	if err := s.validate(longURL); err != nil {
		return nil, err
	}

	ch := s.creates.DoChan(longURL, func() (any, error) {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.createTimeout)
		defer cancel()
		return s.create(cctx, longURL)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		return nil, res.Err
	}
	if res.Shared {
		s.log.Debug("create shared with concurrent request", "long_url", longURL)
	}

	id := res.Val.(string)
	return &model.CreateShortResponse{
		Short:    id,
		ShortURL: s.ShortURL(id),
		LongURL:  longURL,
	}, nil
}

// ShortURL builds the public URL for id
func (s *ShortService) ShortURL(id string) string {
	return s.baseURL + "/" + id
}

func (s *ShortService) create(ctx context.Context, longURL string) (string, error) {
	id, err := s.LookupShort(ctx, longURL)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}

	for attempt := 1; attempt <= s.insertAttempts; attempt++ {
		m := &model.Mapping{ID: s.ids.NewShortID(), LongURL: longURL}

		err := s.repo.InsertMapping(ctx, m)
		if err == nil {
			s.warm(m.ID, longURL)
			s.log.Info("short created", "short_id", m.ID, "long_url", longURL)
			return m.ID, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return "", fmt.Errorf("create short: %w", err)
		}

		// either another instance stored this URL first or the id collided
		existing, lerr := s.repo.FindShortByLongURL(ctx, longURL)
		if lerr == nil {
			s.warm(existing, longURL)
			return existing, nil
		}
		if !errors.Is(lerr, repository.ErrNotFound) {
			return "", fmt.Errorf("create short: %w", lerr)
		}
		s.log.Warn("short id collision, retrying", "short_id", m.ID, "attempt", attempt)
	}

	return "", fmt.Errorf("create short after %d attempts: %w", s.insertAttempts, repository.ErrDuplicate)
}

// race queries the cache at key and the database through find. Cache errors
// are logged and count as a miss.
func (s *ShortService) race(ctx context.Context, key string, find func(ctx context.Context, key string) (string, error)) (race.Result[string], error) {
	res, err := race.First(ctx,
		race.Source[string]{Name: SourceDatabase, Fetch: func(ctx context.Context) (string, bool, error) {
			v, err := find(ctx, key)
			if errors.Is(err, repository.ErrNotFound) {
				return "", false, nil
			}
			if err != nil {
				return "", false, err
			}
			return v, true, nil
		}},
		race.Source[string]{Name: SourceCache, Fetch: func(ctx context.Context) (string, bool, error) {
			v, ok, err := s.cache.Get(ctx, key)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					s.log.Warn("cache lookup failed", "key", key, "connection", cache.IsConnection(err), "error", err)
				}
				return "", false, nil
			}
			return v, ok, nil
		}},
	)

	switch {
	case err == nil:
		s.log.Debug("lookup resolved", "key", key, "source", res.Source)
		return res, nil
	case errors.Is(err, race.ErrNoHit):
		return res, ErrNotFound
	default:
		return res, fmt.Errorf("lookup %s: %w", key, err)
	}
}

func (s *ShortService) cacheSet(name, key, value string) {
	s.tasks.Submit(name, func(ctx context.Context) error {
		if err := s.cache.Set(ctx, key, value, s.ttl); err != nil {
			return fmt.Errorf("cache set %s: %w", key, err)
		}
		return nil
	})
}

// warm fills both cache directions for a freshly stored mapping
func (s *ShortService) warm(id, longURL string) {
	s.cacheSet("cache_warm", id, longURL)
	s.cacheSet("cache_warm", cache.LongURLKey(longURL), id)
}

// ============ VALIDATION HELPERS ============

// validate wraps the validator's answer in ErrEmptyURL or ErrInvalidURL
func (s *ShortService) validate(longURL string) error {
	appErr := s.validator.ValidateURL(longURL)
	if appErr == nil {
		return nil
	}
	if appErr.Code == apperrors.CodeMissingField {
		return fmt.Errorf("%w: %w", ErrEmptyURL, appErr)
	}
	return fmt.Errorf("%w: %w", ErrInvalidURL, appErr)
}
