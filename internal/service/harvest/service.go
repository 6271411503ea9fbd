// Package harvest drives harvest runs: it selects due books from the
// catalog, processes them one at a time and writes every outcome back.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"time"

	"github.com/feichai0017/book-harvester/config"
	"github.com/feichai0017/book-harvester/internal/catalog"
	"github.com/feichai0017/book-harvester/internal/fingerprint"
	"github.com/feichai0017/book-harvester/internal/fonts"
	"github.com/feichai0017/book-harvester/internal/models"
	"github.com/feichai0017/book-harvester/internal/policy"
	"github.com/feichai0017/book-harvester/internal/render"
	"github.com/feichai0017/book-harvester/internal/utils/validator"
	"github.com/feichai0017/book-harvester/pkg/converters"
	"github.com/feichai0017/book-harvester/pkg/logger"
	"github.com/feichai0017/book-harvester/pkg/queue"
	"github.com/feichai0017/book-harvester/pkg/storage"
)

// writeBackTimeout bounds the final catalog update, which also runs after
// the run context has been cancelled.
const writeBackTimeout = 30 * time.Second

// Renderer produces the artifacts of one book.
type Renderer interface {
	Render(ctx context.Context, req render.Request) (*render.Result, error)
}

// Tracker records the stage of each book and carries escalation reports.
type Tracker interface {
	Enqueue(ctx context.Context, task *queue.Task) error
	SaveStage(ctx context.Context, status *queue.StageStatus) error
}

// Config holds the run settings of a Service.
type Config struct {
	InstanceID     string
	Version        string
	Mode           policy.Mode
	Filter         catalog.Filter
	Limit          int
	Continuous     bool
	PollInterval   time.Duration
	CacheDir       string
	CacheRetention time.Duration
	ArtifactPrefix string
	Bucket         string
	Testing        bool
	// Skip lists artifact kinds this instance never renders.
	Skip map[models.ArtifactKind]bool
}

// ConfigFrom adapts the loaded configuration.
func ConfigFrom(cfg *config.Config) (*Config, error) {
	h := cfg.Harvester
	mode, err := policy.ParseMode(h.Mode)
	if err != nil {
		return nil, err
	}
	return &Config{
		InstanceID:     h.InstanceID,
		Version:        h.Version,
		Mode:           mode,
		Filter:         catalog.Filter(h.Filter),
		Limit:          h.Limit,
		Continuous:     h.Continuous,
		PollInterval:   h.PollInterval,
		CacheDir:       h.CacheDir,
		CacheRetention: h.CacheRetention,
		ArtifactPrefix: h.ArtifactPrefix,
		Bucket:         cfg.Bucket(),
		Testing:        h.Testing,
		Skip: map[models.ArtifactKind]bool{
			models.ArtifactEpub:       h.SkipEpub,
			models.ArtifactBloomPub:   h.SkipBloomPub,
			models.ArtifactThumbnails: h.SkipThumbnails,
		},
	}, nil
}

// Deps are the collaborators of a Service. Tracker, Fonts and FontCache
// may be nil.
type Deps struct {
	Catalog   catalog.Catalog
	Storage   storage.Storage
	Renderer  Renderer
	Tracker   Tracker
	Fonts     policy.FontChecker
	FontCache *fonts.Cache
	// Hasher returns the image hash function for a book folder.
	// Defaults to fingerprint.FileHasher.
	Hasher func(bookDir string) fingerprint.HashFunc
}

type Service struct {
	cfg       *Config
	books     catalog.Catalog
	store     storage.Storage
	renderer  Renderer
	tracker   Tracker
	fontCache *fonts.Cache
	hasher    func(string) fingerprint.HashFunc
	policy    *policy.Policy
	validator *validator.BookValidator
	converter *converters.WriteBackConverter
	logger    logger.Logger
	now       func() time.Time
	rand      *rand.Rand
	fonts     policy.FontChecker
}

type Option func(*Service)

// WithClock overrides the time source for timestamps, staleness and cache pruning.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithRand makes the shuffle within priority tiers reproducible.
func WithRand(r *rand.Rand) Option {
	return func(s *Service) {
		s.rand = r
	}
}

func New(cfg *Config, deps Deps, log logger.Logger, opts ...Option) (*Service, error) {
	var errs []error
	if cfg == nil {
		errs = append(errs, errors.New("missing config"))
	}
	if deps.Catalog == nil {
		errs = append(errs, errors.New("missing catalog"))
	}
	if deps.Storage == nil {
		errs = append(errs, errors.New("missing storage"))
	}
	if deps.Renderer == nil {
		errs = append(errs, errors.New("missing renderer"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid harvest service: %w", err)
	}
	if log == nil {
		log = logger.NewNop()
	}

	s := &Service{
		cfg:       cfg,
		books:     deps.Catalog,
		store:     deps.Storage,
		renderer:  deps.Renderer,
		tracker:   deps.Tracker,
		fontCache: deps.FontCache,
		fonts:     deps.Fonts,
		hasher:    deps.Hasher,
		validator: validator.NewBookValidator(log, nil),
		converter: converters.NewWriteBackConverter(),
		logger:    log.Named("harvest"),
		now:       time.Now,
	}
	if s.hasher == nil {
		s.hasher = fingerprint.FileHasher
	}
	for _, opt := range opts {
		opt(s)
	}
	s.policy = policy.New(s.fonts, policy.WithClock(s.now))
	return s, nil
}

func (s *Service) instanceDir() string {
	return filepath.Join(s.cfg.CacheDir, s.cfg.InstanceID)
}
