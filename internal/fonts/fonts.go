// Package fonts checks whether fonts a book needs are available to the renderer.
package fonts

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/feichai0017/book-harvester/pkg/logger"
)

// DiscoveryTimeout bounds one fc-list invocation.
const DiscoveryTimeout = 30 * time.Second

// genericFamilies are CSS generic family keywords plus CJK style names the
// renderer always resolves.
var genericFamilies = map[string]bool{
	"serif":         true,
	"sans-serif":    true,
	"monospace":     true,
	"cursive":       true,
	"fantasy":       true,
	"system-ui":     true,
	"ui-serif":      true,
	"ui-sans-serif": true,
	"ui-monospace":  true,
	"ui-rounded":    true,
	"emoji":         true,
	"math":          true,
	"fangsong":      true,
	"mincho":        true,
	"gothic":        true,
	"ming":          true,
	"kai":           true,
	"song":          true,
	"hei":           true,
}

// IsGeneric reports whether name is a generic family keyword.
func IsGeneric(name string) bool {
	return genericFamilies[normalize(name)]
}

func normalize(name string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(name), `"'`))
}

// Cache holds the installed font set and the fonts already reported missing
// by this harvester instance. It is owned by the caller so each instance
// and each test starts from a clean state.
type Cache struct {
	mu        sync.Mutex
	installed map[string]bool
	reported  map[string]bool
}

func NewCache() *Cache {
	return &Cache{reported: make(map[string]bool)}
}

// Invalidate forgets the installed font set so the next check re-enumerates.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.installed = nil
}

// MarkReported records font as reported and returns true the first time.
func (c *Cache) MarkReported(font string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := normalize(font)
	if c.reported[key] {
		return false
	}
	c.reported[key] = true
	return true
}

// Checker re-checks previously missing fonts against installed fonts.
type Checker struct {
	runner  Runner
	cache   *Cache
	log     logger.Logger
	timeout time.Duration
}

func NewChecker(runner Runner, cache *Cache, log logger.Logger) *Checker {
	if cache == nil {
		cache = NewCache()
	}
	return &Checker{
		runner:  runner,
		cache:   cache,
		log:     log,
		timeout: DiscoveryTimeout,
	}
}

// Installed returns the lower-cased names of installed font families.
func (c *Checker) Installed(ctx context.Context) (map[string]bool, error) {
	c.cache.mu.Lock()
	defer c.cache.mu.Unlock()
	if c.cache.installed != nil {
		return c.cache.installed, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	out, _, err := c.runner.Run(ctx, "fc-list", ":", "family")
	if err != nil {
		return nil, fmt.Errorf("failed to list installed fonts: %w", err)
	}
	c.cache.installed = ParseFamilies(string(out))
	return c.cache.installed, nil
}

// ParseFamilies parses `fc-list : family` output, where a line may list
// several comma-separated names with fontconfig escapes.
func ParseFamilies(out string) map[string]bool {
	families := make(map[string]bool)
	for _, line := range strings.Split(out, "\n") {
		line = strings.ReplaceAll(line, `\-`, "-")
		for _, name := range strings.Split(line, ",") {
			if name = normalize(strings.ReplaceAll(name, `\`, "")); name != "" {
				families[name] = true
			}
		}
	}
	return families
}

// StillMissingContext returns the subset of fonts that are neither generic
// families nor installed, in input order.
func (c *Checker) StillMissingContext(ctx context.Context, fonts []string) ([]string, error) {
	var candidates []string
	for _, f := range fonts {
		if !IsGeneric(f) && normalize(f) != "" {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	installed, err := c.Installed(ctx)
	if err != nil {
		return candidates, err
	}
	var missing []string
	for _, f := range candidates {
		if !installed[normalize(f)] {
			missing = append(missing, f)
		}
	}
	return missing, nil
}

// StillMissing is StillMissingContext with a background context. When fonts
// cannot be enumerated every non-generic font counts as missing.
func (c *Checker) StillMissing(fonts []string) []string {
	missing, err := c.StillMissingContext(context.Background(), fonts)
	if err != nil && c.log != nil {
		c.log.Warn("font discovery failed", logger.Error(err))
	}
	return missing
}
