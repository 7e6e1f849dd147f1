// Package secrets resolves tenant credentials through a CLI-driven secret
// store and caches them for the life of a run. The cache is an explicit
// object passed by handle into the processing loop, never package-level
// state, so tests can instantiate independent caches.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/provtools/userbot/internal/faults"
)

// Credentials is an email/password pair for one tenant.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ErrSecretNotFound is returned when the store has no entry for an identifier.
var ErrSecretNotFound = fmt.Errorf("%w: secret not found", faults.ErrNotFound)

// Source fetches credentials for one identifier. Implemented by CLISource in
// production and by test doubles in tests.
type Source interface {
	Fetch(ctx context.Context, identifier string) (Credentials, error)
}

// CLISource runs the secret-store CLI once per lookup. The command receives
// the identifier as its last argument and prints a JSON credentials object.
type CLISource struct {
	Command string
	Timeout time.Duration
	Logger  *zap.Logger
}

// Fetch invokes the CLI and parses its output.
func (s *CLISource) Fetch(ctx context.Context, identifier string) (Credentials, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	parts := strings.Fields(s.Command)
	if len(parts) == 0 {
		return Credentials{}, faults.Configf("secrets command is empty")
	}
	args := append(parts[1:], identifier)

	out, err := exec.CommandContext(ctx, parts[0], args...).Output()
	if err != nil {
		if ctx.Err() != nil {
			return Credentials{}, faults.Classify("secret lookup", ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return Credentials{}, fmt.Errorf("%w: %s", ErrSecretNotFound, identifier)
		}
		return Credentials{}, faults.Classify("secret lookup", err)
	}

	var creds Credentials
	if err := json.Unmarshal(out, &creds); err != nil {
		return Credentials{}, faults.Dataf("secret store output unparseable for %s: %v", identifier, err)
	}
	if creds.Email == "" || creds.Password == "" {
		return Credentials{}, fmt.Errorf("%w: %s", ErrSecretNotFound, identifier)
	}
	return creds, nil
}

type entry struct {
	creds     Credentials
	updatedAt time.Time
}

// Stats is a point-in-time snapshot of cache behavior.
type Stats struct {
	Entries     int
	Hits        int64
	Misses      int64
	LastPrewarm time.Time
}

// Cache is a credential cache with an optional bulk prewarm.
type Cache struct {
	source Source
	logger *zap.Logger

	mu          sync.Mutex
	entries     map[string]entry
	hits        int64
	misses      int64
	lastPrewarm time.Time
}

// NewCache creates an empty cache backed by the given source.
func NewCache(source Source, logger *zap.Logger) *Cache {
	return &Cache{
		source:  source,
		logger:  logger,
		entries: make(map[string]entry),
	}
}

// Lookup returns credentials for the identifier, fetching and caching on miss.
func (c *Cache) Lookup(ctx context.Context, identifier string) (Credentials, error) {
	key := strings.ToLower(strings.TrimSpace(identifier))
	if key == "" {
		return Credentials{}, fmt.Errorf("%w: empty identifier", ErrSecretNotFound)
	}

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.hits++
		c.mu.Unlock()
		return e.creds, nil
	}
	c.misses++
	c.mu.Unlock()

	creds, err := c.source.Fetch(ctx, identifier)
	if err != nil {
		return Credentials{}, err
	}

	c.mu.Lock()
	c.entries[key] = entry{creds: creds, updatedAt: time.Now()}
	c.mu.Unlock()
	return creds, nil
}

// Prewarm fetches many identifiers in parallel and merges the results into an
// immutable snapshot before it becomes visible. Fetch failures are logged and
// skipped; when two fetches resolve to the same identifier, the last-updated
// entry wins. Parallelism is bounded by workers.
func (c *Cache) Prewarm(ctx context.Context, identifiers []string, workers int) error {
	if workers <= 0 {
		workers = 4
	}

	type fetched struct {
		key       string
		creds     Credentials
		updatedAt time.Time
	}

	results := make([]fetched, len(identifiers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, id := range identifiers {
		i, id := i, id
		g.Go(func() error {
			creds, err := c.source.Fetch(gctx, id)
			if err != nil {
				c.logger.Warn("Prewarm fetch failed",
					zap.String("identifier", id),
					zap.Error(err))
				return nil
			}
			results[i] = fetched{
				key:       strings.ToLower(strings.TrimSpace(id)),
				creds:     creds,
				updatedAt: time.Now(),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	snapshot := make(map[string]entry, len(results))
	for _, r := range results {
		if r.key == "" {
			continue
		}
		if existing, ok := snapshot[r.key]; ok && existing.updatedAt.After(r.updatedAt) {
			continue
		}
		snapshot[r.key] = entry{creds: r.creds, updatedAt: r.updatedAt}
	}

	c.mu.Lock()
	for k, v := range snapshot {
		if existing, ok := c.entries[k]; ok && existing.updatedAt.After(v.updatedAt) {
			continue
		}
		c.entries[k] = v
	}
	c.lastPrewarm = time.Now()
	c.mu.Unlock()

	c.logger.Info("Credential cache prewarmed",
		zap.Int("requested", len(identifiers)),
		zap.Int("loaded", len(snapshot)))
	return nil
}

// Clear drops every cached entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:     len(c.entries),
		Hits:        c.hits,
		Misses:      c.misses,
		LastPrewarm: c.lastPrewarm,
	}
}
