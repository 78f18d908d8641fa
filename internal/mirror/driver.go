package mirror

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenk/backoff"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/git-pkgs/nugetmirror/fetch"
	"github.com/git-pkgs/nugetmirror/internal/catalog"
	"github.com/git-pkgs/nugetmirror/internal/core"
	"github.com/git-pkgs/nugetmirror/internal/logging"
)

// Run log file names inside the primary output root.
const (
	UpdatedFilesLog  = "updatedFiles.txt"
	LastRunErrorsLog = "lastRunErrors.txt"
)

const (
	defaultDelay      = 10 * time.Minute
	defaultBatchSize  = 128
	defaultRetryDelay = 5 * time.Second
	maxTaskAttempts   = 10
)

// Settings configures a mirror run.
type Settings struct {
	// FeedIndexURI is the feed's service index URL.
	FeedIndexURI string
	// OutputRoots are the storage roots; the first holds the cursor and
	// run logs.
	OutputRoots []string
	// Layout selects the v2 or v3 directory shape.
	Layout LayoutVersion
	// Mode controls behavior on existing archives.
	Mode DownloadMode
	// Delay is subtracted from now to form the window's upper edge,
	// avoiding races against a live publisher.
	Delay time.Duration
	// MaxThreads bounds in-flight downloads and page fetches.
	MaxThreads int
	// BatchSize is the number of entries dispatched per batch; the
	// cursor advances after each batch.
	BatchSize int
	// IgnoreErrors keeps the run going past exhausted download retries.
	IgnoreErrors bool
	// Includes and Excludes filter package ids (globs or pkg: URLs).
	Includes []string
	Excludes []string
	// RetryDelay is the base of the linear per-task backoff.
	RetryDelay time.Duration
	// Log is the run logger.
	Log logging.Logger
}

func (s *Settings) withDefaults() Settings {
	out := *s
	if out.Delay <= 0 {
		out.Delay = defaultDelay
	}
	if out.MaxThreads < 1 {
		out.MaxThreads = catalog.DefaultMaxThreads
	}
	if out.BatchSize < 1 {
		out.BatchSize = defaultBatchSize
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = defaultRetryDelay
	}
	if out.Layout == 0 {
		out.Layout = LayoutV3
	}
	if out.Log == nil {
		out.Log = logging.Default()
	}
	return out
}

// Mirror replicates a remote feed into the configured storage roots.
type Mirror struct {
	settings Settings
	client   fetch.Client
	reader   *catalog.Reader
	layout   *Layout
	filter   *Filter
	log      logging.Logger
}

// RunResult summarizes one mirror run.
type RunResult struct {
	// Downloaded lists the absolute paths of newly written archives.
	Downloaded []string
	// Errors are the per-task failures that the ignore policy absorbed.
	Errors []error
	// Cursor is the timestamp persisted at the end of the run.
	Cursor time.Time
	// Total is the number of entries dispatched.
	Total int
}

// New resolves the feed and prepares a mirror.
func New(ctx context.Context, settings Settings, client fetch.Client) (*Mirror, error) {
	s := settings.withDefaults()

	reader, err := catalog.NewReader(ctx, s.FeedIndexURI, client,
		catalog.WithMaxThreads(s.MaxThreads),
		catalog.WithLogger(s.Log),
	)
	if err != nil {
		return nil, err
	}

	layout, err := NewLayout(s.OutputRoots, s.Layout)
	if err != nil {
		return nil, err
	}
	filter, err := NewFilter(s.Includes, s.Excludes)
	if err != nil {
		return nil, err
	}

	return &Mirror{
		settings: s,
		client:   client,
		reader:   reader,
		layout:   layout,
		filter:   filter,
		log:      s.Log,
	}, nil
}

// Reader returns the underlying catalog reader.
func (m *Mirror) Reader() *catalog.Reader {
	return m.reader
}

// Run executes one mirror pass: traverse (cursor, now-delay], flatten,
// filter, download in batches, and advance the cursor only past commits
// whose events have all been handed off.
func (m *Mirror) Run(ctx context.Context) (*RunResult, error) {
	primary := m.settings.OutputRoots[0]
	for _, root := range m.settings.OutputRoots {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, err
		}
	}

	cursor, ok, err := LoadCursor(primary)
	if err != nil {
		return nil, err
	}
	if ok {
		m.log.WithField("cursor", cursor.Format(time.RFC3339Nano)).Info("resuming from cursor")
	} else {
		m.log.Info("no cursor found, mirroring from the beginning")
	}
	end := time.Now().UTC().Add(-m.settings.Delay)
	if !end.After(cursor) {
		m.log.Info("feed already up to date")
		return &RunResult{Cursor: cursor}, nil
	}

	flat, err := m.reader.FlattenedEntries(ctx, cursor, end)
	if err != nil {
		return nil, err
	}

	queue := make([]*core.CatalogEntry, 0, len(flat))
	for _, e := range flat {
		if m.filter.Match(e.ID) {
			queue = append(queue, e)
		}
	}
	sort.SliceStable(queue, func(i, j int) bool {
		return queue[i].CommitTime.Before(queue[j].CommitTime)
	})

	m.log.WithFields(logging.Fields{
		"entries": len(queue),
		"window":  fmt.Sprintf("(%s, %s]", cursor.Format(time.RFC3339Nano), end.Format(time.RFC3339Nano)),
	}).Info("mirroring")

	// Fresh run logs each pass.
	if err := truncateFile(filepath.Join(primary, UpdatedFilesLog)); err != nil {
		return nil, err
	}
	os.Remove(filepath.Join(primary, LastRunErrorsLog))

	result := &RunResult{Total: len(queue), Cursor: cursor}
	var collected *multierror.Error

	for batchStart := 0; batchStart < len(queue); batchStart += m.settings.BatchSize {
		batchEnd := batchStart + m.settings.BatchSize
		if batchEnd > len(queue) {
			batchEnd = len(queue)
		}
		batch := queue[batchStart:batchEnd]

		written, batchErrs := m.runBatch(ctx, batch)
		result.Downloaded = append(result.Downloaded, written...)

		if err := appendLines(filepath.Join(primary, UpdatedFilesLog), written); err != nil {
			return result, err
		}

		if len(batchErrs) > 0 {
			for _, e := range batchErrs {
				collected = multierror.Append(collected, e)
			}
			if ctx.Err() != nil {
				m.writeErrorLog(primary, collected)
				return result, ctx.Err()
			}
			if !m.settings.IgnoreErrors {
				m.writeErrorLog(primary, collected)
				return result, fmt.Errorf("mirror batch failed: %w", collected.ErrorOrNil())
			}
		}
		if ctx.Err() != nil {
			m.writeErrorLog(primary, collected)
			return result, ctx.Err()
		}

		// Advance the cursor past every commit that cannot have pending
		// siblings later in the queue: the newest batch timestamp
		// strictly below the next un-dequeued entry's timestamp.
		var checkpoint time.Time
		if batchEnd == len(queue) {
			checkpoint = end
		} else {
			next := queue[batchEnd].CommitTime
			for _, e := range batch {
				if e.CommitTime.Before(next) && e.CommitTime.After(checkpoint) {
					checkpoint = e.CommitTime
				}
			}
		}
		if checkpoint.After(result.Cursor) {
			if err := SaveCursor(primary, checkpoint); err != nil {
				return result, err
			}
			result.Cursor = checkpoint
		}

		// Cap disk use between batches.
		if c, ok := m.client.(interface{ ClearCache() }); ok {
			c.ClearCache()
		}
	}

	if end.After(result.Cursor) {
		if err := SaveCursor(primary, end); err != nil {
			return result, err
		}
		result.Cursor = end
	}

	m.writeErrorLog(primary, collected)
	result.Errors = errorList(collected)

	m.log.WithFields(logging.Fields{
		"downloaded": len(result.Downloaded),
		"errors":     len(result.Errors),
		"cursor":     result.Cursor.Format(time.RFC3339Nano),
	}).Info("mirror run complete")

	return result, nil
}

// runBatch dispatches one batch with bounded concurrency and waits for
// every task. Task failures are returned, not propagated through the
// group, so one bad package cannot cancel its batch siblings.
func (m *Mirror) runBatch(ctx context.Context, batch []*core.CatalogEntry) ([]string, []error) {
	var (
		mu      sync.Mutex
		written []string
		errs    []error
	)

	g := new(errgroup.Group)
	g.SetLimit(m.settings.MaxThreads)

	for _, e := range batch {
		g.Go(func() error {
			outcome, err := m.downloadOne(ctx, e)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s %s: %w", e.ID, e.Version.Normalized(), err))
			} else if outcome.Written {
				written = append(written, outcome.Path)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(written)
	return written, errs
}

// downloadOne fetches and places a single entry, retrying with linear
// backoff. A 404 from the feed is a publisher-side gap: logged as a
// warning and treated as success.
func (m *Mirror) downloadOne(ctx context.Context, e *core.CatalogEntry) (Outcome, error) {
	uri := m.reader.NupkgURI(e)
	log := m.log.WithFields(logging.Fields{"id": e.ID, "version": e.Version.Normalized()})

	var outcome Outcome
	op := func() error {
		path, err := m.client.GetNupkg(ctx, uri, log)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				log.Warn("archive missing upstream, skipping")
				outcome = Outcome{}
				return nil
			}
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}

		placed, err := m.layout.Place(e, path, m.settings.Mode)
		if err != nil {
			return err
		}
		outcome = placed
		if placed.Written {
			log.WithField("path", placed.Path).Debug("archive written")
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(newLinearBackOff(m.settings.RetryDelay), maxTaskAttempts-1), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return Outcome{}, err
	}
	return outcome, nil
}

// linearBackOff waits base*1, base*2, ... between attempts.
type linearBackOff struct {
	base time.Duration
	n    int
}

func newLinearBackOff(base time.Duration) *linearBackOff {
	return &linearBackOff{base: base}
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return b.base * time.Duration(b.n)
}

func (b *linearBackOff) Reset() {
	b.n = 0
}

// writeErrorLog flattens the aggregate into one message per line. No
// failures means no file.
func (m *Mirror) writeErrorLog(root string, errs *multierror.Error) {
	flattened := errorList(errs)
	if len(flattened) == 0 {
		return
	}
	lines := make([]string, 0, len(flattened))
	for _, e := range flattened {
		lines = append(lines, e.Error())
	}
	path := filepath.Join(root, LastRunErrorsLog)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		m.log.WithError(err).Error("writing error log")
	}
}

func errorList(errs *multierror.Error) []error {
	if errs == nil {
		return nil
	}
	return errs.WrappedErrors()
}

func truncateFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	return f.Close()
}

func appendLines(path string, lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	for _, line := range lines {
		if _, err := fmt.Fprintln(f, line); err != nil {
			return err
		}
	}
	return nil
}
