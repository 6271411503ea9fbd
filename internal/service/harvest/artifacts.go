package harvest

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/feichai0017/book-harvester/internal/models"
	"github.com/feichai0017/book-harvester/internal/render"
	"github.com/feichai0017/book-harvester/pkg/logger"
	"github.com/feichai0017/book-harvester/pkg/queue"
)

const fontProblemsFile = "fontProblems.txt"

var artifactExt = map[models.ArtifactKind]string{
	models.ArtifactEpub:     ".epub",
	models.ArtifactBloomPub: ".bloompub",
}

func (a *attempt) outputDir() string {
	return filepath.Join(a.workDir, outputDirName)
}

// artifactDir is the local directory holding everything rendered for kind.
func (a *attempt) artifactDir(kind models.ArtifactKind) string {
	return filepath.Join(a.outputDir(), string(kind))
}

func (a *attempt) artifactFile(kind models.ArtifactKind) string {
	return filepath.Join(a.artifactDir(kind), a.bookName+artifactExt[kind])
}

// artifactKey is the storage prefix of kind for this book.
func (s *Service) artifactKey(a *attempt, kind models.ArtifactKind) string {
	return path.Join(s.cfg.ArtifactPrefix, a.rec.ID, string(kind))
}

func (s *Service) render(ctx context.Context, a *attempt) error {
	out := a.outputDir()
	if err := os.RemoveAll(out); err != nil {
		return fmt.Errorf("failed to clear output directory: %w", err)
	}
	for _, kind := range models.AllArtifacts {
		if err := os.MkdirAll(a.artifactDir(kind), 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	skip := func(kind models.ArtifactKind) bool { return s.cfg.Skip[kind] || a.hidden[kind] }
	req := render.Request{
		BookPath:         a.bookDir,
		CollectionPath:   a.settingsPath,
		EpubPath:         a.artifactFile(models.ArtifactEpub),
		BloomPubPath:     a.artifactFile(models.ArtifactBloomPub),
		ThumbnailDir:     a.artifactDir(models.ArtifactThumbnails),
		FontProblemsPath: filepath.Join(out, fontProblemsFile),
		Testing:          s.cfg.Testing,
		SkipEpub:         skip(models.ArtifactEpub),
		SkipBloomPub:     skip(models.ArtifactBloomPub),
		SkipThumbnails:   skip(models.ArtifactThumbnails),
	}

	res, err := s.renderer.Render(ctx, req)
	if err != nil {
		return err
	}
	if res.FontProblem() {
		s.recordFontProblems(ctx, a, res.ProblemFonts)
	}
	if res.EpubFailed() && !skip(models.ArtifactEpub) {
		a.log.Warn("epub could not be created", logger.Category(models.LogTypeRenderFailure))
		a.hide(models.ArtifactEpub, models.HideRenderFailed)
	}
	return nil
}

// recordFontProblems hides the artifacts that embed text and leaves the
// book Failed, so a later run retries once the fonts are installed. Each
// font is escalated once per instance.
func (s *Service) recordFontProblems(ctx context.Context, a *attempt, problems []render.ProblemFont) {
	a.fontBlocked = true
	a.hide(models.ArtifactEpub, models.HideMissingFont)
	a.hide(models.ArtifactBloomPub, models.HideMissingFont)
	if len(problems) == 0 {
		a.log.Error("renderer reported font problems without naming the fonts")
		return
	}

	var fresh []string
	for _, p := range problems {
		category := models.LogTypeMissingFont
		if p.Kind == render.ProblemInvalid {
			category = models.LogTypeInvalidFont
		}
		// The message is the bare font name; later runs read it back.
		a.log.Error(p.Name, logger.Category(category))
		if s.fontCache == nil || s.fontCache.MarkReported(p.Name) {
			fresh = append(fresh, fmt.Sprintf("%s (%s)", p.Name, p.Kind))
		}
	}
	if len(fresh) > 0 {
		s.report(ctx, a, queue.PriorityDefault,
			fmt.Sprintf("font problems in %s", a.rec.ID), strings.Join(fresh, "\n"))
	}
}

// upload replaces the stored artifacts of every kind this instance renders
// and records what ended up in storage. Hidden kinds are removed.
func (s *Service) upload(ctx context.Context, a *attempt) error {
	for _, kind := range models.AllArtifacts {
		if s.cfg.Skip[kind] {
			continue
		}
		key := s.artifactKey(a, kind)
		if a.hidden[kind] {
			if err := s.store.DeletePrefix(ctx, key+"/"); err != nil {
				return fmt.Errorf("failed to remove %s: %w", kind, err)
			}
			continue
		}

		dir := a.artifactDir(kind)
		if empty(dir) {
			a.log.Warn(fmt.Sprintf("renderer produced no %s", kind), logger.Category(models.LogTypeRenderFailure))
			a.hide(kind, models.HideRenderFailed)
			if err := s.store.DeletePrefix(ctx, key+"/"); err != nil {
				return fmt.Errorf("failed to remove %s: %w", kind, err)
			}
			continue
		}
		if err := s.store.UploadDirectory(ctx, dir, key); err != nil {
			return fmt.Errorf("failed to upload %s: %w", kind, err)
		}

		exists := true
		if kind == models.ArtifactEpub {
			var err error
			epubKey := path.Join(key, filepath.Base(a.artifactFile(kind)))
			if exists, err = s.store.Exists(ctx, epubKey); err != nil {
				return fmt.Errorf("failed to check %s: %w", epubKey, err)
			}
		}
		a.reveal(kind, exists)
		a.log.Info(fmt.Sprintf("uploaded %s", kind), logger.Category(models.LogTypeUpload))
	}
	return nil
}

func empty(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err != nil || len(entries) == 0
}
