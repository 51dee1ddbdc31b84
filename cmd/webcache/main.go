package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/magictractor/webcache/core"
	"github.com/magictractor/webcache/pkg/storage"
	"github.com/magictractor/webcache/pkg/storage/local"
	"github.com/magictractor/webcache/pkg/storage/sqlite"
)

var (
	// CLI flags
	configFlag         string
	cacheDirFlag       string
	dbFilenameFlag     string
	serveFlag          int
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFlag, "config", "webcache.yml", "Resource configuration file")
	flag.StringVar(&cacheDirFlag, "cache-dir", "cache", "Directory for cached files")
	flag.StringVar(&dbFilenameFlag, "db", "", "Cache everything in a single SQLite db instead of the cache dir (use 'memory' for an in-memory db)")
	flag.IntVar(&serveFlag, "serve", 0, "Serve cached resources over HTTP on this port instead of exiting after the refresh")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()

	config, err := getConfig(configFlag)
	if err != nil {
		log.Fatal().Err(err).Str("config", configFlag).Msg("Cannot read configuration")
	}

	var backend storage.Backend
	if dbFilenameFlag != "" {
		dbFilename := dbFilenameFlag
		if dbFilename == "memory" {
			dbFilename = ""
		}
		backend = sqlite.New(dbFilename)
	} else {
		backend = local.New(cacheDirFlag)
	}

	resources, err := buildResources(config, backend)
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot build resources")
	}

	refresh(resources)

	if serveFlag > 0 {
		log.Info().Int("port", serveFlag).Msg("Serving cached resources")
		if err := http.ListenAndServe(fmt.Sprintf(":%d", serveFlag), router(resources)); err != nil {
			panic(err)
		}
	}
}

func buildResources(config Config, backend storage.Backend) ([]core.ExternalResource, error) {
	resources := make([]core.ExternalResource, 0, len(config.Resources))
	for _, cr := range config.Resources {
		var res core.ExternalResource
		var err error
		switch {
		case cr.URL != "" && cr.File != "":
			return nil, fmt.Errorf("resource has both url %q and file %q", cr.URL, cr.File)
		case cr.URL != "":
			res, err = core.NewWebResource(cr.URL, backend)
		case cr.File != "":
			res, err = core.NewFileResource(cr.File, backend)
		default:
			return nil, fmt.Errorf("resource has neither url nor file")
		}
		if err != nil {
			return nil, err
		}

		if cr.Expiry != nil {
			policy, err := cr.Expiry.policy()
			if err != nil {
				return nil, err
			}
			res.AddListener(core.PolicyListener(policy))
		}
		if cr.PrettyJSON {
			res.AddListener(core.PrettyPrintJSON())
		}
		resources = append(resources, res)
	}
	return resources, nil
}

// refresh opens every resource once, fetching those that are absent or
// expired. All resources share one clock snapshot so that a policy boundary
// crossed mid-run does not split the batch.
func refresh(resources []core.ExternalResource) {
	now := core.FixedClock(time.Now())
	for _, res := range resources {
		if r, ok := res.(*core.Resource); ok {
			r.WithClock(now)
		}
		in, err := res.Open()
		if err != nil {
			log.Error().Err(err).Str("resource", res.Name()).Msg("Refresh failed")
			continue
		}
		in.Close()
	}
}

// router serves the cached bodies: an index of resources at / and each body
// at /r/{index}. Serving reads the local cache only, it never triggers a
// fetch beyond the usual expiry handling.
func router(resources []core.ExternalResource) http.Handler {
	r := chi.NewRouter()

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		for i, res := range resources {
			fmt.Fprintf(w, "/r/%d %s\n", i, res.Name())
		}
	})

	r.Get("/r/{index}", func(w http.ResponseWriter, req *http.Request) {
		index, err := strconv.Atoi(chi.URLParam(req, "index"))
		if err != nil || index < 0 || index >= len(resources) {
			http.NotFound(w, req)
			return
		}
		res := resources[index]

		props, err := res.Properties()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		in, err := res.Open()
		if err != nil {
			log.Error().Err(err).Str("resource", res.Name()).Msg("Cannot open cached body")
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		defer in.Close()

		contentType := props.ContentType()
		if charset := props.CharsetName(); charset != "" {
			contentType += "; charset=" + charset
		}
		w.Header().Set("Content-Type", contentType)
		if _, err := io.Copy(w, in); err != nil {
			log.Error().Err(err).Str("resource", res.Name()).Msg("Cannot write cached body")
		}
	})

	return r
}
