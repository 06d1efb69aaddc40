// Command superphot fits multi-band supernova light curves and manages the
// resulting posterior archives and fit catalog.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/superphot/internal/catalog"
	"github.com/banshee-data/superphot/internal/config"
	"github.com/banshee-data/superphot/internal/fsutil"
	"github.com/banshee-data/superphot/internal/lightcurve"
	"github.com/banshee-data/superphot/internal/monitoring"
	"github.com/banshee-data/superphot/internal/pipeline"
	"github.com/banshee-data/superphot/internal/posterior"
	"github.com/banshee-data/superphot/internal/priors"
	"github.com/banshee-data/superphot/internal/sampler"
	"github.com/banshee-data/superphot/internal/version"
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	switch command {
	case "fit":
		handleFit(args)
	case "batch":
		handleBatch(args)
	case "show":
		handleShow(args)
	case "serve":
		handleServe(args)
	case "migrate":
		handleMigrate(args)
	case "version":
		fmt.Println(version.String())
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`superphot - Bayesian light-curve fitting for supernova photometry

Usage: superphot <command> [options]

Commands:
  fit        Fit a single light-curve archive
  batch      Fit every light-curve archive in a directory
  show       Summarise a saved posterior or catalog entry
  serve      Serve the fit catalog as JSON over HTTP
  migrate    Manage the fit catalog schema (up, down, version, force N)
  version    Show version information
  help       Show this help message

Common Flags:
  -config <file>    Fit configuration (JSON); defaults are used when omitted
  -method <name>    Override the sampler: dynesty, NUTS, svi or map
  -out <dir>        Posterior output directory (default: fits)
  -db <file>        Fit catalog (SQLite); not written when empty
  -v                Log rejections and per-fit summaries
  -trace            Log sampler iterations (very verbose)

Examples:
  # Fit one object with the default nested sampler
  superphot fit -out fits ZTF21abcdefg.npz

  # Fit a directory with SVI on 8 workers, exporting metrics
  superphot batch -method svi -workers 8 -db fits.db -metrics :9090 lightcurves/

  # Browse the catalog at http://localhost:8080/api/fits
  superphot serve -db fits.db -listen :8080

  # Inspect the newest catalog entry for an object
  superphot show -db fits.db -method svi ZTF21abcdefg`)
}

// commonFlags are shared by fit and batch.
type commonFlags struct {
	configPath *string
	method     *string
	outDir     *string
	dbPath     *string
	verbose    *bool
	trace      *bool
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		configPath: fs.String("config", "", "Fit configuration file (JSON)"),
		method:     fs.String("method", "", "Sampler override"),
		outDir:     fs.String("out", "fits", "Posterior output directory"),
		dbPath:     fs.String("db", "", "Fit catalog path (SQLite)"),
		verbose:    fs.Bool("v", false, "Enable diagnostic logging"),
		trace:      fs.Bool("trace", false, "Enable sampler trace logging"),
	}
}

// setup configures logging and returns the validated config and priors.
func (c commonFlags) setup() (*config.FitConfig, *priors.MultibandPriors) {
	setLogging(*c.verbose, *c.trace)

	cfg := config.DefaultFitConfig()
	if *c.configPath != "" {
		loaded, err := config.LoadFitConfig(*c.configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	if *c.method != "" {
		cfg.Method = *c.method
		if err := cfg.Validate(); err != nil {
			log.Fatalf("Invalid config: %v", err)
		}
	}
	mp, err := cfg.Priors()
	if err != nil {
		log.Fatalf("Failed to load priors: %v", err)
	}
	return cfg, mp
}

func (c commonFlags) openCatalog() *catalog.Catalog {
	if *c.dbPath == "" {
		return nil
	}
	cat, err := catalog.Open(*c.dbPath)
	if err != nil {
		log.Fatalf("Failed to open catalog: %v", err)
	}
	return cat
}

func setLogging(verbose, trace bool) {
	var diag, tr io.Writer
	if verbose || trace {
		diag = os.Stderr
	}
	if trace {
		tr = os.Stderr
	}
	sampler.SetLogWriters(os.Stderr, diag, tr)
	pipeline.SetLogWriters(os.Stderr, diag)
	lightcurve.SetLogWriter(diag)
	catalog.SetLogWriter(diag)
}

func handleFit(args []string) {
	fs := flag.NewFlagSet("fit", flag.ExitOnError)
	common := addCommonFlags(fs)
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: fit takes exactly one light-curve archive")
		fs.Usage()
		os.Exit(1)
	}
	cfg, mp := common.setup()

	fsys := fsutil.OSFileSystem{}
	lc, err := lightcurve.Load(fsys, fs.Arg(0), cfg.LoadOptions(mp))
	if err != nil {
		log.Fatalf("Failed to load light curve: %v", err)
	}
	lc.Name = fsutil.SanitizeName(lc.Name)

	s, err := cfg.NewSampler(mp)
	if err != nil {
		log.Fatalf("Failed to create sampler: %v", err)
	}
	start := time.Now()
	res, err := pipeline.RunSingleCurve(lc, s, mp, cfg)
	if err != nil {
		log.Fatalf("Fit failed: %v", err)
	}
	if res == nil {
		fmt.Printf("%s: light curve rejected, no fit\n", lc.Name)
		return
	}
	elapsed := time.Since(start)

	path, err := res.Save(fsys, *common.outDir)
	if err != nil {
		log.Fatalf("Failed to save posterior: %v", err)
	}
	if cat := common.openCatalog(); cat != nil {
		defer cat.Close()
		fit, err := cat.Record(res, mp.Schema().Names(), elapsed)
		if err != nil {
			log.Fatalf("Failed to record fit: %v", err)
		}
		fmt.Printf("Catalogued as %s\n", fit.ID)
	}
	fmt.Printf("Saved %d draws to %s in %v\n", res.Len(), path, elapsed.Round(time.Millisecond))
	printSamples(os.Stdout, res, mp.Schema().Names())
}

func handleBatch(args []string) {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	common := addCommonFlags(fs)
	workers := fs.Int("workers", 1, "Number of light curves fit concurrently")
	overwrite := fs.Bool("overwrite", false, "Refit objects that already have a posterior")
	metricsAddr := fs.String("metrics", "", "Serve Prometheus metrics and the catalog API on this address (e.g. :9090)")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: batch takes exactly one light-curve directory")
		fs.Usage()
		os.Exit(1)
	}
	cfg, mp := common.setup()

	sum, err := runBatch(cfg, mp, common, fs.Arg(0), *workers, *overwrite, *metricsAddr)
	fmt.Println(sum)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Batch stopped: %v\n", err)
		os.Exit(1)
	}
}

func runBatch(cfg *config.FitConfig, mp *priors.MultibandPriors, common commonFlags, dir string, workers int, overwrite bool, metricsAddr string) (pipeline.Summary, error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []pipeline.Option{
		pipeline.WithWorkers(workers),
		pipeline.WithOverwrite(overwrite),
	}
	cat := common.openCatalog()
	if cat != nil {
		defer cat.Close()
		opts = append(opts, pipeline.WithCatalog(cat))
	}
	if metricsAddr != "" {
		rec := monitoring.NewRecorder()
		opts = append(opts, pipeline.WithMetrics(rec))
		srv := startServer(metricsAddr, newMux(cat, rec))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	runner := pipeline.NewRunner(cfg, mp, fsutil.OSFileSystem{}, *common.outDir, opts...)
	return runner.RunDir(ctx, dir)
}

// newMux routes the catalog API and metrics; either may be nil.
func newMux(cat *catalog.Catalog, rec *monitoring.Recorder) *http.ServeMux {
	mux := http.NewServeMux()
	if cat != nil {
		cat.RegisterRoutes(mux)
	}
	if rec != nil {
		mux.Handle("/metrics", rec.Handler())
	}
	return mux
}

func newServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func startServer(addr string, h http.Handler) *http.Server {
	srv := newServer(addr, h)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP server: %v", err)
		}
	}()
	log.Printf("Listening on %s", addr)
	return srv
}

func handleServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	dbPath := fs.String("db", "fits.db", "Fit catalog path (SQLite)")
	listen := fs.String("listen", ":8080", "HTTP listen address")
	fs.Parse(args)

	cat, err := catalog.Open(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open catalog: %v", err)
	}
	defer cat.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := newServer(*listen, newMux(cat, nil))
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	log.Printf("Serving catalog %s on %s", *dbPath, *listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("HTTP server: %v", err)
	}
}

func handleShow(args []string) {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	dbPath := fs.String("db", "", "Read the newest catalog entry instead of the archive")
	outDir := fs.String("out", "fits", "Posterior directory")
	method := fs.String("method", sampler.MethodNested, "Sampler that produced the posterior")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: show takes exactly one object name")
		fs.Usage()
		os.Exit(1)
	}
	name := fs.Arg(0)

	if *dbPath != "" {
		cat, err := catalog.Open(*dbPath)
		if err != nil {
			log.Fatalf("Failed to open catalog: %v", err)
		}
		defer cat.Close()
		fit, err := cat.Latest(name, *method)
		if err != nil {
			log.Fatalf("Lookup failed: %v", err)
		}
		printFit(os.Stdout, fit)
		return
	}

	fsys := fsutil.OSFileSystem{}
	res, err := posterior.FromFile(fsys, *outDir, name, *method)
	if errors.Is(err, os.ErrNotExist) && *method == sampler.MethodNested {
		res, err = posterior.FromFile(fsys, *outDir, name, "")
	}
	if err != nil {
		log.Fatalf("Failed to read posterior: %v", err)
	}
	printSamples(os.Stdout, res, columnNames(res.Dim()))
}

// columnNames returns the default schema names when they match n columns.
func columnNames(n int) []string {
	names := priors.ZTF().Schema().Names()
	if len(names) == n {
		return names
	}
	names = make([]string, n)
	for i := range names {
		names[i] = "param_" + strconv.Itoa(i)
	}
	return names
}

func printSamples(w io.Writer, res *posterior.Samples, names []string) {
	fmt.Fprintf(w, "%s (%s): %d draws\n", res.Name(), res.Method(), res.Len())
	if score, ok := res.Score(); ok {
		fmt.Fprintf(w, "reduced chi2: %.4f\n", score)
	}
	mean, variance := res.SampleMean(), res.SampleVariance()
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PARAM\tMEAN\tSTD")
	for i, name := range names {
		fmt.Fprintf(tw, "%s\t%.5g\t%.3g\n", name, mean[i], math.Sqrt(variance[i]))
	}
	tw.Flush()
}

func printFit(w io.Writer, f *catalog.Fit) {
	fmt.Fprintf(w, "%s %s (%s): %d draws, runtime %v, recorded %s\n",
		f.ID, f.Name, f.Method, f.NumDraws, f.Runtime, f.CreatedAt.Format(time.RFC3339))
	if f.HasScore() {
		fmt.Fprintf(w, "reduced chi2: %.4f\n", f.Score)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PARAM\tMEAN")
	for i, name := range f.Columns {
		fmt.Fprintf(tw, "%s\t%.5g\n", name, f.Mean[i])
	}
	tw.Flush()
}

func handleMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	dbPath := fs.String("db", "fits.db", "Fit catalog path (SQLite)")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: migrate needs an action: up, down, version or force N")
		os.Exit(1)
	}
	catalog.SetLogWriter(os.Stderr)

	// Open applies pending migrations, so down and force act on an
	// up-to-date schema.
	cat, err := catalog.Open(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open catalog: %v", err)
	}
	defer cat.Close()

	switch action := fs.Arg(0); action {
	case "up":
		err = cat.MigrateUp()
	case "down":
		err = cat.MigrateDown()
	case "force":
		if fs.NArg() != 2 {
			log.Fatal("migrate force needs a version")
		}
		v, perr := strconv.Atoi(fs.Arg(1))
		if perr != nil {
			log.Fatalf("Invalid version %q: %v", fs.Arg(1), perr)
		}
		err = cat.MigrateForce(v)
	case "version":
	default:
		log.Fatalf("Unknown migrate action: %s", action)
	}
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	v, dirty, err := cat.MigrateVersion()
	if err != nil {
		log.Fatalf("Failed to read version: %v", err)
	}
	fmt.Printf("Schema version %d (dirty: %v)\n", v, dirty)
}
