// Command zinflate decodes DEFLATE/zlib streams and zip archive entries
// from the command line, decoding one file, several files, or a doublestar
// glob of files, with an optional on-disk decode cache.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/getsentry/sentry-go"

	"github.com/elliotnunn/zinflate/internal/decodecache"
	"github.com/elliotnunn/zinflate/internal/flate"
)

func main() {
	debug.SetMemoryLimit(memLimitBytes)

	outDir := flag.String("out", "", "directory to write decoded files into (default: stdout, only valid for one input)")
	cacheDir := flag.String("cache", "", "directory for the on-disk decode cache (disabled if empty)")
	metricsAddr := flag.String("metrics-addr", "", "address to serve Prometheus metrics on, e.g. :9090 (disabled if empty)")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: zinflate [flags] <file-or-glob>...")
		os.Exit(2)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: dsn}); err != nil {
			slog.Error("sentryInitFailed", "err", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler())
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				slog.Error("metricsServerFailed", "err", err)
			}
		}()
	}

	var cache *decodecache.Cache
	if *cacheDir != "" {
		c, err := decodecache.Open(*cacheDir, hotEntriesForMemLimit(memLimitBytes))
		if err != nil {
			fatal("decodeCacheOpenFailed", err)
		}
		defer c.Close()
		cache = c
	}

	var paths []string
	for _, pattern := range flag.Args() {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			fatal("globFailed", err, "pattern", pattern)
		}
		if len(matches) == 0 {
			matches = []string{pattern} // let the Open below report a clean not-found error
		}
		paths = append(paths, matches...)
	}

	if *outDir == "" && len(paths) > 1 {
		fmt.Fprintln(os.Stderr, "zinflate: -out is required when more than one file is given")
		os.Exit(2)
	}

	exitCode := 0
	for _, p := range paths {
		if err := decodeFile(p, *outDir, cache); err != nil {
			exitCode = 1
			slog.Error("decodeFailed", "path", p, "err", err)
			if reportableError(err) {
				sentry.CaptureException(fmt.Errorf("decoding %s: %w", p, err))
			}
		}
	}
	os.Exit(exitCode)
}

func decodeFile(path, outDir string, cache *decodecache.Cache) error {
	start := time.Now()
	in, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	decode := func(compressed []byte) ([]byte, error) {
		return decodeContainer(compressed)
	}

	var out []byte
	if cache != nil {
		out, err = cache.Decode(in, decode)
	} else {
		out, err = decode(in)
	}

	metricDecodeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metricDecodeErrors.Inc()
		return err
	}
	metricBytesIn.Add(float64(len(in)))
	metricBytesOut.Add(float64(len(out)))

	if outDir == "" {
		_, err := os.Stdout.Write(out)
		return err
	}
	outPath := filepath.Join(outDir, filepath.Base(path))
	slog.Info("decodeOK", "path", path, "bytesIn", len(in), "bytesOut", len(out), "out", outPath)
	return os.WriteFile(outPath, out, 0o644)
}

// reportableError tells a malformed-input failure, which is an expected
// outcome of feeding zinflate arbitrary files, from a failure that
// indicates a bug worth paging someone about.
func reportableError(err error) bool {
	return !errors.Is(err, flate.ErrCorruptData) &&
		!errors.Is(err, flate.ErrInsufficientData) &&
		!errors.Is(err, io.ErrUnexpectedEOF)
}

func hotEntriesForMemLimit(limit int64) int {
	const assumedEntrySize = 1 << 20 // 1MiB: a conservative guess until an entry is actually seen
	const hotFraction = 4            // keep a quarter of the budget in the fast in-memory tier
	n := int(limit / (assumedEntrySize * hotFraction))
	if n < 16 {
		n = 16
	}
	return n
}

func fatal(event string, err error, kv ...any) {
	slog.Error(event, append(kv, "err", err)...)
	os.Exit(1)
}
