// Package render invokes the external artifact renderer for one book.
package render

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/feichai0017/book-harvester/internal/fonts"
	"github.com/feichai0017/book-harvester/pkg/logger"
)

// Exit code bits reported by the renderer.
const (
	ExitFailure         = 1
	ExitBookHTMLMissing = 2
	ExitEpubFailed      = 4
	ExitFontProblem     = 8
)

// DefaultTimeout bounds one renderer invocation.
const DefaultTimeout = 10 * time.Minute

// ErrTimeout is returned when the renderer does not finish in time.
var ErrTimeout = errors.New("renderer timed out")

// Runner is the subprocess runner shared with font discovery.
type Runner = fonts.Runner

// ExitError is a renderer failure that is fatal for the book.
type ExitError struct {
	Code   int
	Stdout string
	Stderr string
}

func (e *ExitError) Error() string {
	var reasons []string
	if e.Code&ExitFailure != 0 {
		reasons = append(reasons, "failure")
	}
	if e.Code&ExitBookHTMLMissing != 0 {
		reasons = append(reasons, "book html missing")
	}
	if e.Code&ExitEpubFailed != 0 {
		reasons = append(reasons, "epub failed")
	}
	return fmt.Sprintf("renderer exited with code %d (%s)", e.Code, strings.Join(reasons, ", "))
}

// Request describes one renderer run.
type Request struct {
	BookPath         string
	CollectionPath   string
	EpubPath         string
	BloomPubPath     string
	ThumbnailDir     string
	FontProblemsPath string
	Testing          bool
	SkipEpub         bool
	SkipBloomPub     bool
	SkipThumbnails   bool
}

// Args returns the renderer command line for r.
func (r Request) Args() []string {
	args := []string{
		"--bookPath", r.BookPath,
		"--collectionPath", r.CollectionPath,
		"--epubOutputPath", r.EpubPath,
		"--bloomPubOutputPath", r.BloomPubPath,
		"--thumbnailOutputDir", r.ThumbnailDir,
		"--fontProblemsOutputPath", r.FontProblemsPath,
	}
	flags := []struct {
		set  bool
		name string
	}{
		{r.Testing, "--testing"},
		{r.SkipEpub, "--skipEpub"},
		{r.SkipBloomPub, "--skipBloomPub"},
		{r.SkipThumbnails, "--skipThumbnails"},
	}
	for _, f := range flags {
		if f.set {
			args = append(args, f.name)
		}
	}
	return args
}

// Problem kinds written to the font problems file.
const (
	ProblemMissing = "missing"
	ProblemInvalid = "invalid"
)

// ProblemFont is one entry of the font problems file.
type ProblemFont struct {
	Kind string
	Name string
}

// Result is the outcome of a renderer run that was not fatal.
type Result struct {
	ExitCode     int
	Stdout       string
	Stderr       string
	ProblemFonts []ProblemFont
	Duration     time.Duration
}

// FontProblem reports whether the renderer flagged missing or invalid fonts.
func (r *Result) FontProblem() bool { return r.ExitCode&ExitFontProblem != 0 }

// EpubFailed reports whether the epub could not be produced.
func (r *Result) EpubFailed() bool { return r.ExitCode&ExitEpubFailed != 0 }

// Fatal reports whether an exit code fails the book: any non-zero code
// without the font bit.
func Fatal(code int) bool {
	return code != 0 && code&ExitFontProblem == 0
}

// ParseProblemFonts reads "missing:<font>" and "invalid:<font>" lines.
// Unknown tags are treated as missing.
func ParseProblemFonts(content string) []ProblemFont {
	var out []ProblemFont
	seen := make(map[ProblemFont]bool)
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		kind, name, ok := strings.Cut(line, ":")
		if !ok {
			kind, name = ProblemMissing, line
		}
		kind = strings.ToLower(strings.TrimSpace(kind))
		if kind != ProblemInvalid {
			kind = ProblemMissing
		}
		p := ProblemFont{Kind: kind, Name: strings.TrimSpace(name)}
		if p.Name == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

type exitCoder interface {
	ExitCode() int
}

type Renderer struct {
	runner  Runner
	command string
	timeout time.Duration
	log     logger.Logger
}

func NewRenderer(runner Runner, command string, timeout time.Duration, log logger.Logger) *Renderer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Renderer{
		runner:  runner,
		command: command,
		timeout: timeout,
		log:     log,
	}
}

// Render runs the renderer to completion. A font problem is reported in the
// Result; any other non-zero exit is returned as *ExitError.
func (r *Renderer) Render(ctx context.Context, req Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	stdout, stderr, err := r.runner.Run(ctx, r.command, req.Args()...)
	res := &Result{
		Stdout:   string(stdout),
		Stderr:   string(stderr),
		Duration: time.Since(start),
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w after %s", ErrTimeout, r.timeout)
	}
	if err != nil {
		var ec exitCoder
		if !errors.As(err, &ec) || ec.ExitCode() <= 0 {
			return nil, fmt.Errorf("failed to run renderer: %w", err)
		}
		res.ExitCode = ec.ExitCode()
	}

	if Fatal(res.ExitCode) {
		return nil, &ExitError{Code: res.ExitCode, Stdout: res.Stdout, Stderr: res.Stderr}
	}
	if res.FontProblem() {
		data, err := os.ReadFile(req.FontProblemsPath)
		if err != nil {
			r.log.Warn("renderer reported font problems but the list is unreadable", logger.Error(err))
		} else {
			res.ProblemFonts = ParseProblemFonts(string(data))
		}
	}
	r.log.Info("renderer finished",
		logger.Int("exit_code", res.ExitCode),
		logger.Duration("duration", res.Duration))
	return res, nil
}
