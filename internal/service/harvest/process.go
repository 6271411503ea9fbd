package harvest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/book-harvester/internal/analyzer"
	"github.com/feichai0017/book-harvester/internal/catalog"
	"github.com/feichai0017/book-harvester/internal/fingerprint"
	"github.com/feichai0017/book-harvester/internal/models"
	"github.com/feichai0017/book-harvester/internal/policy"
	"github.com/feichai0017/book-harvester/internal/render"
	"github.com/feichai0017/book-harvester/internal/utils/validator"
	"github.com/feichai0017/book-harvester/pkg/converters"
	"github.com/feichai0017/book-harvester/pkg/logger"
	"github.com/feichai0017/book-harvester/pkg/queue"
	"github.com/feichai0017/book-harvester/pkg/storage"
)

// Stage is a step of one harvest attempt as reported to the tracker.
type Stage string

const (
	StageSelected       Stage = "selected"
	StageDownloading    Stage = "downloading"
	StageAnalyzing      Stage = "analyzing"
	StageRendering      Stage = "rendering"
	StageFingerprinting Stage = "fingerprinting"
	StageFinalizing     Stage = "finalizing"
	StageDone           Stage = "done"
	StageFailed         Stage = "failed"
)

// Layout of a book's work directory under <cacheDir>/<instanceID>/<docID>.
const (
	bookDirName     = "book"
	outputDirName   = "out"
	settingsRelPath = "collection/harvest.collectionSettings"
	cacheMarkerName = ".lastUploaded"
)

// attempt is the state of processing one book once. It is owned by a
// single goroutine.
type attempt struct {
	rec      models.DocumentRecord
	decision policy.Decision
	runID    string
	started  time.Time
	log      *logger.Recorder

	workDir      string
	bookDir      string
	settingsPath string
	// uploadedName is the book's folder name in storage; bookName is the
	// base name of its html file.
	uploadedName string
	bookName     string
	files        *validator.ValidationResult
	analyzer     *analyzer.Analyzer

	stage       Stage
	err         error
	failed      bool
	fontBlocked bool
	interrupted bool
	notFound    bool
	escalate    bool
	details     string

	show        models.ArtifactShow
	hidden      map[models.ArtifactKind]bool
	fingerprint *models.Fingerprint
	tags        []string
}

func (s *Service) newAttempt(rec models.DocumentRecord, d policy.Decision) *attempt {
	runID := uuid.NewString()
	workDir := filepath.Join(s.instanceDir(), rec.ID)
	a := &attempt{
		rec:      rec,
		decision: d,
		runID:    runID,
		started:  s.now().UTC(),
		log: logger.NewRecorder(s.logger.With(
			logger.String("documentId", rec.ID),
			logger.String("runId", runID)), logger.InfoLevel),
		workDir:      workDir,
		bookDir:      filepath.Join(workDir, bookDirName),
		settingsPath: filepath.Join(workDir, filepath.FromSlash(settingsRelPath)),
		show:         make(models.ArtifactShow, len(models.AllArtifacts)),
		hidden:       make(map[models.ArtifactKind]bool),
	}
	for kind, v := range rec.Show {
		a.show[kind] = v
	}
	return a
}

// hide marks kind as not shown. The first reason given in an attempt wins.
func (a *attempt) hide(kind models.ArtifactKind, reason string) {
	if a.hidden[kind] {
		return
	}
	v := a.show[kind]
	v.Exists = false
	v.Harvester = false
	v.HideReason = reason
	a.show[kind] = v
	a.hidden[kind] = true
}

func (a *attempt) reveal(kind models.ArtifactKind, exists bool) {
	v := a.show[kind]
	v.Exists = exists
	v.Harvester = exists
	v.HideReason = ""
	a.show[kind] = v
}

type step struct {
	stage Stage
	run   func(context.Context, *attempt) error
}

// process runs one attempt. The outcome is always written back, including
// after a panic or an interrupt.
func (s *Service) process(ctx context.Context, rec models.DocumentRecord, d policy.Decision) {
	a := s.newAttempt(rec, d)
	defer s.finish(ctx, a)
	defer func() {
		if r := recover(); r != nil {
			a.failed = true
			a.escalate = true
			a.err = fmt.Errorf("panic: %v", r)
			a.details = string(debug.Stack())
			a.log.Error(fmt.Sprintf("harvest crashed during %s: %v", a.stage, r))
		}
	}()

	a.log.Info(d.Reason)
	if d.Stale {
		a.log.Warn(fmt.Sprintf("previous harvest by %s started %s never finished",
			rec.HarvesterID, rec.HarvestStartedAt.UTC().Format(time.RFC3339)))
	}
	if rec.Draft {
		a.log.Info("book is a draft")
	}

	steps := []step{
		{StageSelected, s.markInProgress},
		{StageDownloading, s.download},
		{StageAnalyzing, s.analyze},
		{StageRendering, s.render},
		{StageFingerprinting, s.fingerprint},
		{StageFinalizing, s.upload},
	}
	for _, st := range steps {
		if ctx.Err() != nil {
			a.interrupted = true
			return
		}
		s.enter(ctx, a, st.stage)
		if err := st.run(ctx, a); err != nil {
			if ctx.Err() != nil {
				a.interrupted = true
				return
			}
			s.classify(a, err)
			return
		}
	}
}

// classify records a stage failure in the harvest log and decides whether
// it is worth an escalation.
func (s *Service) classify(a *attempt, err error) {
	a.failed = true
	a.err = err

	var exitErr *render.ExitError
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, catalog.ErrNotFound):
		a.notFound = true
		a.log.Warn(fmt.Sprintf("book no longer exists upstream: %v", err),
			logger.Category(models.LogTypeDownload))
	case errors.Is(err, render.ErrTimeout):
		a.log.Error(err.Error(), logger.Category(models.LogTypeTimeout))
	case errors.As(err, &exitErr):
		a.escalate = true
		a.details = fmt.Sprintf("stdout:\n%s\nstderr:\n%s", exitErr.Stdout, exitErr.Stderr)
		a.log.Error(err.Error(), logger.Category(models.LogTypeRenderFailure))
	default:
		a.escalate = true
		a.log.Error(fmt.Sprintf("%s failed: %v", a.stage, err), logger.Category(stageCategory(a.stage)))
	}
}

func stageCategory(stage Stage) string {
	switch stage {
	case StageDownloading:
		return models.LogTypeDownload
	case StageRendering:
		return models.LogTypeRenderFailure
	case StageFinalizing:
		return models.LogTypeUpload
	}
	return models.LogTypeGeneral
}

func (s *Service) enter(ctx context.Context, a *attempt, stage Stage) {
	a.stage = stage
	s.saveStage(ctx, a, stage)
}

func (s *Service) saveStage(ctx context.Context, a *attempt, stage Stage) {
	if s.tracker == nil {
		return
	}
	status := &queue.StageStatus{
		DocumentID: a.rec.ID,
		RunID:      a.runID,
		InstanceID: s.cfg.InstanceID,
		Stage:      string(stage),
		Failed:     a.failed || a.interrupted,
		StartedAt:  a.started,
		UpdatedAt:  s.now().UTC(),
	}
	if a.err != nil {
		status.Error = a.err.Error()
	}
	if err := s.tracker.SaveStage(ctx, status); err != nil {
		s.logger.Warn("Failed to save harvest stage",
			logger.String("documentId", a.rec.ID),
			logger.String("stage", string(stage)),
			logger.Error(err))
	}
}

func (s *Service) markInProgress(ctx context.Context, a *attempt) error {
	fields := s.converter.InProgressFields(s.cfg.InstanceID, s.cfg.Version, a.started)
	if err := s.books.Update(ctx, a.rec.ID, fields); err != nil {
		return fmt.Errorf("failed to mark book in progress: %w", err)
	}
	return nil
}

// download fetches the book folder unless the cached copy matches the
// record's last upload and its html is unchanged since it was fetched.
func (s *Service) download(ctx context.Context, a *attempt) error {
	prefix, err := storage.KeyFromURL(a.rec.BaseURL, s.cfg.Bucket)
	if err != nil {
		return err
	}
	a.uploadedName = path.Base(strings.TrimSuffix(prefix, "/"))
	if err := os.MkdirAll(a.workDir, 0755); err != nil {
		return fmt.Errorf("failed to create work directory: %w", err)
	}
	now := s.now()
	if err := os.Chtimes(a.workDir, now, now); err != nil {
		return fmt.Errorf("failed to touch work directory: %w", err)
	}

	marker := filepath.Join(a.workDir, cacheMarkerName)
	stamp := ""
	if !a.rec.LastUploaded.IsZero() {
		stamp = a.rec.LastUploaded.UTC().Format(time.RFC3339Nano)
	}
	if stamp != "" && dirExists(a.bookDir) {
		if cached, ok := readMarker(marker); ok && cached.stamp == stamp {
			res, err := s.validator.Validate(a.bookDir, a.uploadedName)
			if err != nil {
				return err
			}
			if res.Files.HTMLHash == cached.htmlHash {
				a.files = res
				a.log.Info("using cached copy of the book", logger.Category(models.LogTypeDownload))
				return nil
			}
			a.log.Warn("cached copy of the book was modified; downloading again", logger.Category(models.LogTypeDownload))
		}
	}

	for _, stale := range []string{marker, a.bookDir} {
		if err := os.RemoveAll(stale); err != nil {
			return fmt.Errorf("failed to clear cached book: %w", err)
		}
	}
	if _, err := s.store.DownloadDirectory(ctx, prefix, a.bookDir); err != nil {
		return fmt.Errorf("failed to download book: %w", err)
	}
	res, err := s.validator.Validate(a.bookDir, a.uploadedName)
	if err != nil {
		return err
	}
	a.files = res
	if stamp != "" {
		if err := writeMarker(marker, cacheMarker{stamp: stamp, htmlHash: res.Files.HTMLHash}); err != nil {
			return fmt.Errorf("failed to write cache marker: %w", err)
		}
	}
	return nil
}

// cacheMarker records which upload a cached book folder came from and the
// hash of its html when it was fetched.
type cacheMarker struct {
	stamp    string
	htmlHash string
}

func readMarker(file string) (cacheMarker, bool) {
	data, err := os.ReadFile(file)
	if err != nil {
		return cacheMarker{}, false
	}
	stamp, hash, ok := strings.Cut(string(data), "\n")
	if !ok {
		return cacheMarker{}, false
	}
	return cacheMarker{stamp: stamp, htmlHash: hash}, true
}

func writeMarker(file string, m cacheMarker) error {
	return os.WriteFile(file, []byte(m.stamp+"\n"+m.htmlHash), 0644)
}

func (s *Service) analyze(_ context.Context, a *attempt) error {
	res := a.files
	if !res.IsValid {
		msgs := make([]string, len(res.Errors))
		for i, e := range res.Errors {
			msgs[i] = e.Message
		}
		return fmt.Errorf("invalid book folder: %s", strings.Join(msgs, "; "))
	}

	html, err := os.ReadFile(res.Files.HTMLPath)
	if err != nil {
		return fmt.Errorf("failed to read book html: %w", err)
	}
	var meta []byte
	if res.Files.MetaPath != "" {
		if meta, err = os.ReadFile(res.Files.MetaPath); err != nil {
			return fmt.Errorf("failed to read metadata: %w", err)
		}
	}

	an, err := analyzer.New(string(html), string(meta), a.bookDir, a.log)
	if err != nil {
		return err
	}
	if err := an.WriteCollectionSettings(a.settingsPath); err != nil {
		return err
	}
	a.analyzer = an
	a.bookName = strings.TrimSuffix(filepath.Base(res.Files.HTMLPath), filepath.Ext(res.Files.HTMLPath))
	a.tags = an.UpdateTags(a.rec.Tags)

	a.log.Info(fmt.Sprintf("languages %q %q %q, render mode %s, generator %s",
		an.Language1Code(), an.Language2Code(), an.Language3Code(), an.RenderMode(), an.GeneratorVersion()))
	if an.IsRestrictiveLicense() {
		a.log.Info(fmt.Sprintf("license %s does not allow derivatives", an.License()))
	}
	if !s.cfg.Skip[models.ArtifactEpub] && !an.IsEpubSuitable() {
		a.hide(models.ArtifactEpub, models.HideNotSuitable)
	}
	return nil
}

// fingerprint never fails the attempt; on error the stored hashes are cleared.
func (s *Service) fingerprint(_ context.Context, a *attempt) error {
	images := a.analyzer.ImagesForFingerprint()
	res, err := fingerprint.Combine(images, s.hasher(a.bookDir))
	switch {
	case errors.Is(err, fingerprint.ErrNoImages):
		a.fingerprint = &models.Fingerprint{}
		a.log.Info("book has no images to fingerprint", logger.Category(models.LogTypeFingerprint))
	case err != nil:
		a.fingerprint = &models.Fingerprint{}
		a.log.Warn(fmt.Sprintf("fingerprint cleared: %v", err), logger.Category(models.LogTypeFingerprint))
	default:
		a.fingerprint = &models.Fingerprint{
			FirstImageHash: res.FirstImageHash(),
			BookHash:       res.BookHash(),
			ImageCount:     res.Count,
		}
	}
	return nil
}

// finalState maps the attempt's outcome to the state written back.
func finalState(a *attempt) models.HarvestState {
	switch {
	case a.interrupted && a.rec.HarvestState == models.StateFailedPermanently:
		return models.StateFailedPermanently
	case a.interrupted:
		return models.StateAborted
	case a.failed || a.fontBlocked:
		return models.StateFailed
	}
	return models.StateDone
}

// finish writes the outcome back to the catalog, even when ctx is cancelled.
func (s *Service) finish(ctx context.Context, a *attempt) {
	if a.stage == "" {
		// Interrupted before the record was touched.
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeBackTimeout)
	defer cancel()

	if a.stage != StageFinalizing {
		s.saveStage(ctx, a, StageFinalizing)
	}
	if a.interrupted {
		a.log.Warn(fmt.Sprintf("harvest interrupted during %s", a.stage),
			logger.Category(models.LogTypeInterrupted))
	}
	state := finalState(a)

	fields, err := s.converter.Convert(&converters.HarvestResult{
		State:            state,
		HarvesterID:      s.cfg.InstanceID,
		HarvesterVersion: s.cfg.Version,
		Log:              converters.LogEntries(a.log.Entries()),
		Show:             a.show,
		Fingerprint:      a.fingerprint,
		Tags:             a.tags,
	})
	if err == nil {
		err = s.books.Update(ctx, a.rec.ID, fields)
	}
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		s.logger.Warn("Book disappeared before its result was written",
			logger.String("documentId", a.rec.ID))
	case err != nil:
		s.logger.Error("Failed to write harvest result",
			logger.String("documentId", a.rec.ID),
			logger.String("state", string(state)),
			logger.Error(err))
	}

	final := StageDone
	if state != models.StateDone {
		final = StageFailed
	}
	s.saveStage(ctx, a, final)

	if a.escalate && !a.notFound && !a.interrupted {
		summary := fmt.Sprintf("harvest of %s failed during %s", a.rec.ID, a.stage)
		if a.err != nil {
			summary = fmt.Sprintf("%s: %v", summary, a.err)
		}
		s.report(ctx, a, queue.PriorityCritical, summary, a.details)
	}

	s.logger.Info("Finished harvesting book",
		logger.String("documentId", a.rec.ID),
		logger.String("state", string(state)),
		logger.Duration("duration", s.now().Sub(a.started)))
}

// report enqueues an escalation for the issue tracker.
func (s *Service) report(ctx context.Context, a *attempt, priority int, summary, details string) {
	if s.tracker == nil {
		return
	}
	task := queue.NewTask(queue.TaskTypeEscalation, priority, map[string]any{
		"documentId": a.rec.ID,
		"title":      a.rec.Title,
		"summary":    summary,
		"details":    details,
		"stage":      string(a.stage),
	})
	task.Metadata["instanceId"] = s.cfg.InstanceID
	task.Metadata["version"] = s.cfg.Version
	task.Metadata["runId"] = a.runID
	if err := s.tracker.Enqueue(ctx, task); err != nil {
		s.logger.Error("Failed to enqueue escalation",
			logger.String("documentId", a.rec.ID),
			logger.Error(err))
	}
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
