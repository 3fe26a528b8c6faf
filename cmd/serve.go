package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/marketmind/internal/aggregate"
	"github.com/sells-group/marketmind/internal/analysis"
	"github.com/sells-group/marketmind/internal/metrics"
	"github.com/sells-group/marketmind/internal/model"
	"github.com/sells-group/marketmind/internal/monitoring"
	"github.com/sells-group/marketmind/internal/store"
)

var servePort int

// researchFunc runs one research request to completion.
type researchFunc func(ctx context.Context, companyID string) (*model.CompanyRecord, error)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve research records over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := initStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		m := metrics.New()
		runner, err := newRunner(cfg, st, m)
		if err != nil {
			return err
		}
		defer runner.Wait()
		m.WatchBreakers(runner.Guards().Breakers())

		sources, err := model.ParseSources(cfg.Aggregate.ExpectedSources)
		if err != nil {
			return eris.Wrap(err, "serve")
		}
		if cfg.Monitoring.Enabled {
			collector := monitoring.NewCollector(st, runner.Guards().Breakers())
			checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			go checker.Run(ctx)
		}

		research := func(ctx context.Context, companyID string) (*model.CompanyRecord, error) {
			return runner.Research(ctx, companyID, collaborators(cfg.Collect, sources))
		}

		return startServer(ctx, buildRouter(st, research, m.Handler()), resolvePort(servePort, cfg.Server.Port))
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// resolvePort prefers the flag value over the configured port.
func resolvePort(flag, configured int) int {
	if flag != 0 {
		return flag
	}
	return configured
}

// buildRouter wires the HTTP API. research may be nil, in which case
// POST /research answers 503. /metrics is mounted when metricsHandler is set.
func buildRouter(st store.Store, research researchFunc, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Get("/records", func(w http.ResponseWriter, req *http.Request) {
		filter, err := parseRecordFilter(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		recs, err := st.ListRecords(req.Context(), filter)
		if err != nil {
			zap.L().Error("serve: list records failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "list records failed")
			return
		}
		if recs == nil {
			recs = []store.RecordSummary{}
		}
		writeJSON(w, http.StatusOK, recs)
	})

	r.Get("/records/{id}", func(w http.ResponseWriter, req *http.Request) {
		rec, ok := lookup(w, req, func(ctx context.Context) (*model.CompanyRecord, error) {
			return st.GetRecord(ctx, chi.URLParam(req, "id"))
		})
		if ok {
			writeJSON(w, http.StatusOK, rec)
		}
	})

	r.Get("/records/{id}/analysis", func(w http.ResponseWriter, req *http.Request) {
		rec, ok := lookup(w, req, func(ctx context.Context) (*model.CompanyRecord, error) {
			return st.GetRecord(ctx, chi.URLParam(req, "id"))
		})
		if ok {
			writeJSON(w, http.StatusOK, analysis.Analyze(rec))
		}
	})

	r.Get("/companies/{company}/latest", func(w http.ResponseWriter, req *http.Request) {
		key, err := aggregate.CompanyKey(chi.URLParam(req, "company"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid company")
			return
		}
		rec, ok := lookup(w, req, func(ctx context.Context) (*model.CompanyRecord, error) {
			return st.LatestRecord(ctx, key)
		})
		if ok {
			writeJSON(w, http.StatusOK, researchOutput{Record: rec, Analysis: analysis.Analyze(rec)})
		}
	})

	r.Get("/sources/stats", func(w http.ResponseWriter, req *http.Request) {
		history, err := st.SourceHistory(req.Context())
		if err != nil {
			zap.L().Error("serve: source history failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "source history failed")
			return
		}
		writeJSON(w, http.StatusOK, history)
	})

	r.Post("/research", func(w http.ResponseWriter, req *http.Request) {
		if research == nil {
			writeError(w, http.StatusServiceUnavailable, "research is not configured")
			return
		}
		var body struct {
			Company string `json:"company"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if _, err := aggregate.CompanyKey(body.Company); err != nil {
			writeError(w, http.StatusBadRequest, "company is required")
			return
		}

		rec, err := research(req.Context(), body.Company)
		if rec == nil {
			zap.L().Error("serve: research failed", zap.String("company", body.Company), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "research failed")
			return
		}
		if err != nil {
			zap.L().Warn("serve: research record not saved", zap.String("record_id", rec.ID), zap.Error(err))
		}
		writeJSON(w, http.StatusOK, researchOutput{Record: rec, Analysis: analysis.Analyze(rec)})
	})

	return r
}

// lookup runs a single-record read and answers 404 or 500 itself on failure.
func lookup(w http.ResponseWriter, req *http.Request, get func(context.Context) (*model.CompanyRecord, error)) (*model.CompanyRecord, bool) {
	rec, err := get(req.Context())
	switch {
	case err == nil:
		return rec, true
	case eris.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "record not found")
	default:
		zap.L().Error("serve: record lookup failed", zap.String("path", req.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "record lookup failed")
	}
	return nil, false
}

func parseRecordFilter(req *http.Request) (store.RecordFilter, error) {
	q := req.URL.Query()
	var f store.RecordFilter
	if c := q.Get("company"); c != "" {
		key, err := aggregate.CompanyKey(c)
		if err != nil {
			return f, eris.New("invalid company")
		}
		f.CompanyKey = key
	}
	if v := q.Get("min_completeness"); v != "" {
		m, err := strconv.ParseFloat(v, 64)
		if err != nil || m < 0 || m > 1 {
			return f, eris.New("min_completeness must be a number in [0,1]")
		}
		f.MinCompleteness = m
	}
	for name, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, eris.Errorf("%s must be a non-negative integer", name)
		}
		*dst = n
	}
	return f, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// startServer serves handler on port until ctx is done, then shuts down gracefully.
func startServer(ctx context.Context, handler http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server listen")
	}
	return nil
}
