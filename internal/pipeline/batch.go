package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/superphot/internal/catalog"
	"github.com/banshee-data/superphot/internal/config"
	"github.com/banshee-data/superphot/internal/fsutil"
	"github.com/banshee-data/superphot/internal/lightcurve"
	"github.com/banshee-data/superphot/internal/monitoring"
	"github.com/banshee-data/superphot/internal/posterior"
	"github.com/banshee-data/superphot/internal/priors"
	"github.com/banshee-data/superphot/internal/sampler"
	"github.com/banshee-data/superphot/internal/timeutil"
)

// Summary counts batch outcomes.
type Summary struct {
	Scored   int
	Unscored int
	Skipped  int
	Rejected int
	Failed   int
}

// Total returns the number of light curves processed.
func (s Summary) Total() int {
	return s.Scored + s.Unscored + s.Skipped + s.Rejected + s.Failed
}

func (s Summary) String() string {
	return fmt.Sprintf("%d curves: %d scored, %d unscored, %d skipped, %d rejected, %d failed",
		s.Total(), s.Scored, s.Unscored, s.Skipped, s.Rejected, s.Failed)
}

// Runner fits many light curves concurrently. Each curve gets its own
// sampler, so workers share no mutable fitting state.
type Runner struct {
	cfg       *config.FitConfig
	mp        *priors.MultibandPriors
	fsys      fsutil.FileSystem
	outDir    string
	catalog   *catalog.Catalog
	metrics   *monitoring.Recorder
	clock     timeutil.Clock
	workers   int
	overwrite bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithCatalog records every saved posterior in c.
func WithCatalog(c *catalog.Catalog) Option { return func(r *Runner) { r.catalog = c } }

// WithMetrics reports outcomes and timings to m.
func WithMetrics(m *monitoring.Recorder) Option { return func(r *Runner) { r.metrics = m } }

// WithClock times fits with c instead of the wall clock.
func WithClock(c timeutil.Clock) Option { return func(r *Runner) { r.clock = c } }

// WithWorkers sets how many curves are fit at once. Values below one mean
// one.
func WithWorkers(n int) Option { return func(r *Runner) { r.workers = max(n, 1) } }

// WithOverwrite refits curves whose posterior file already exists.
func WithOverwrite(overwrite bool) Option { return func(r *Runner) { r.overwrite = overwrite } }

// NewRunner returns a Runner writing posteriors under outDir.
func NewRunner(cfg *config.FitConfig, mp *priors.MultibandPriors, fsys fsutil.FileSystem, outDir string, opts ...Option) *Runner {
	r := &Runner{
		cfg:     cfg,
		mp:      mp,
		fsys:    fsys,
		outDir:  outDir,
		clock:   timeutil.RealClock{},
		workers: 1,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run fits every light-curve archive in paths. Per-object failures are
// logged, counted and skipped; only cancellation of ctx or an invalid
// configuration stops the batch.
func (r *Runner) Run(ctx context.Context, paths []string) (Summary, error) {
	// Fail fast on a bad sampler name or hyperparameters.
	if _, err := r.cfg.NewSampler(r.mp); err != nil {
		return Summary{}, err
	}

	var (
		mu  sync.Mutex
		sum Summary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, path := range paths {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcome := r.runOne(path)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case monitoring.OutcomeScored:
				sum.Scored++
			case monitoring.OutcomeUnscored:
				sum.Unscored++
			case monitoring.OutcomeSkipped:
				sum.Skipped++
			case monitoring.OutcomeRejected:
				sum.Rejected++
			default:
				sum.Failed++
			}
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	monitoring.Logf("batch %s: %s", r.cfg.Method, sum)
	return sum, err
}

// runOne fits a single archive and returns its outcome label.
func (r *Runner) runOne(path string) string {
	name := fsutil.SanitizeName(lightcurve.NameFromPath(path))
	s, err := r.cfg.NewSampler(r.mp)
	if err != nil {
		return r.fail(path, err)
	}
	method := s.Method()

	if !r.overwrite && r.hasPosterior(name, method) {
		diagf("%s: posterior exists, skipping", name)
		r.record(method, monitoring.OutcomeSkipped, 0)
		return monitoring.OutcomeSkipped
	}

	lc, err := lightcurve.Load(r.fsys, path, r.cfg.LoadOptions(r.mp))
	if err != nil {
		if IsInputError(err) {
			diagf("%s: no fit: %v", name, err)
			r.record(method, monitoring.OutcomeRejected, 0)
			return monitoring.OutcomeRejected
		}
		return r.fail(path, err)
	}
	lc.Name = name

	if r.metrics != nil {
		defer r.metrics.Begin()()
	}
	start := r.clock.Now()
	res, err := RunSingleCurve(lc, s, r.mp, r.cfg)
	if err != nil {
		return r.fail(path, err)
	}
	if res == nil {
		r.record(method, monitoring.OutcomeRejected, 0)
		return monitoring.OutcomeRejected
	}
	elapsed := r.clock.Since(start)

	if _, err := res.Save(r.fsys, r.outDir); err != nil {
		return r.fail(path, err)
	}
	if r.catalog != nil {
		if _, err := r.catalog.Record(res, r.mp.Schema().Names(), elapsed); err != nil {
			return r.fail(path, err)
		}
	}

	outcome := monitoring.OutcomeUnscored
	if score, ok := res.Score(); ok {
		outcome = monitoring.OutcomeScored
		if r.metrics != nil {
			r.metrics.RecordScore(method, score)
		}
	}
	r.record(method, outcome, elapsed)
	return outcome
}

// hasPosterior checks for an existing archive. Nested-sampling posteriors
// may also sit under the legacy untagged name.
func (r *Runner) hasPosterior(name, method string) bool {
	if posterior.Exists(r.fsys, r.outDir, name, method) {
		return true
	}
	return method == sampler.MethodNested && posterior.Exists(r.fsys, r.outDir, name, "")
}

func (r *Runner) fail(path string, err error) string {
	opsf("%s: %v", path, err)
	r.record(r.cfg.Method, monitoring.OutcomeFailed, 0)
	return monitoring.OutcomeFailed
}

func (r *Runner) record(method, outcome string, d time.Duration) {
	if r.metrics != nil {
		r.metrics.RecordFit(method, outcome, d)
	}
}

// Discover lists the light-curve archives (*.npz) directly inside dir in
// name order. Entries that resolve outside dir through a symlink are
// dropped.
func Discover(dir string) ([]string, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("light-curve directory: %w", err)
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.npz"))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, m := range matches {
		if err := fsutil.WithinDir(m, dir); err != nil {
			opsf("ignoring %s: %v", m, err)
			continue
		}
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

// ErrNoLightCurves is returned by RunDir when a directory has no archives.
var ErrNoLightCurves = errors.New("no light-curve archives found")

// RunDir discovers the archives in dir and runs them.
func (r *Runner) RunDir(ctx context.Context, dir string) (Summary, error) {
	paths, err := Discover(dir)
	if err != nil {
		return Summary{}, err
	}
	if len(paths) == 0 {
		return Summary{}, fmt.Errorf("%w in %s", ErrNoLightCurves, dir)
	}
	return r.Run(ctx, paths)
}
