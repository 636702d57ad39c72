// Package web implements JSON API server for arbor: jobs with status streaming, artifacts and their
// trees, configs, tasks and ml endpoints.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/didip/tollbooth/v8"
	"github.com/didip/tollbooth/v8/limiter"
	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/umputun/arbor/app/artifact"
	"github.com/umputun/arbor/app/configs"
	"github.com/umputun/arbor/app/errs"
	"github.com/umputun/arbor/app/jobs"
	"github.com/umputun/arbor/app/ml"
	"github.com/umputun/arbor/app/task"
)

// Jobs is the scheduler side of the api
type Jobs interface {
	Get(id string) (jobs.Job, error)
	List(statuses ...jobs.Status) []jobs.Job
	Counts() map[jobs.Status]int
	Cancel(id string) error
	Delete(id string) error
	Stream(ctx context.Context, id string, interval time.Duration) (<-chan jobs.Job, error)
}

// Artifacts is the artifact engine side of the api
type Artifacts interface {
	Save(ctx context.Context, a artifact.Artifact) (artifact.Artifact, error)
	SaveAll(ctx context.Context, items []artifact.Artifact) ([]artifact.Artifact, error)
	Get(ctx context.Context, id string) (artifact.Artifact, error)
	Delete(ctx context.Context, id string) error
	BuildTree(ctx context.Context, id string) (*artifact.TreeNode, error)
	Expand(ctx context.Context, id string) (*artifact.TreeNode, error)
}

// Configs is the config manager side of the api
type Configs interface {
	Save(ctx context.Context, c configs.Config) (configs.Config, error)
	Get(ctx context.Context, id string) (configs.Config, error)
	List(ctx context.Context) ([]configs.Config, error)
	Delete(ctx context.Context, id string) error
	LinkArtifact(ctx context.Context, configID, artifactID string) error
	UnlinkFromConfig(ctx context.Context, configID, artifactID string) error
	ConfigForArtifact(ctx context.Context, artifactID string) (*configs.Config, error)
	ArtifactsForConfig(ctx context.Context, configID string) ([]artifact.Artifact, error)
}

// Tasks is the task manager side of the api
type Tasks interface {
	Save(ctx context.Context, t task.Task) (task.Task, error)
	Get(ctx context.Context, idOrName string) (task.Task, error)
	List(ctx context.Context) ([]task.Task, error)
	Delete(ctx context.Context, idOrName string) error
	Execute(ctx context.Context, idOrName string) (string, error)
}

// ML is the ml manager side of the api
type ML interface {
	Train(ctx context.Context, req ml.TrainRequest) (ml.TrainResponse, error)
	Predict(ctx context.Context, req ml.PredictRequest) (ml.PredictResponse, error)
}

// Config holds server configuration
type Config struct {
	Jobs      Jobs
	Artifacts Artifacts
	Configs   Configs
	Tasks     Tasks
	ML        ML // optional, ml endpoints respond with 503 if not set

	Version     string
	SubmitLimit float64 // per-ip requests per second for execute, train and predict, 0 disables
	MaxBodySize int64   // max request size, 1MB if not set
}

// Server is JSON API server
type Server struct {
	Config
	submitLimiter *limiter.Limiter
	metrics       *metrics
	startedAt     time.Time
}

const defaultMaxBodySize = 1024 * 1024

// New makes server, all services but ML are required
func New(cfg Config) (*Server, error) {
	if cfg.Jobs == nil || cfg.Artifacts == nil || cfg.Configs == nil || cfg.Tasks == nil {
		return nil, fmt.Errorf("web server needs jobs, artifacts, configs and tasks: %w", errs.ErrConfiguration)
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaultMaxBodySize
	}
	s := &Server{Config: cfg, metrics: newMetrics(cfg.Jobs), startedAt: time.Now()}
	if cfg.SubmitLimit > 0 {
		s.submitLimiter = tollbooth.NewLimiter(cfg.SubmitLimit, nil)
		s.submitLimiter.SetIPLookup(limiter.IPLookup{Name: "RemoteAddr"})
		s.submitLimiter.SetMessageContentType("application/json")
		s.submitLimiter.SetMessage(`{"error":"too many requests"}`)
	}
	return s, nil
}

// Run starts the web server and blocks until ctx is done
func (s *Server) Run(ctx context.Context, address string) error {
	server := &http.Server{
		Addr:              address,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second, // streaming handlers lift it per request
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] failed to shutdown server: %v", err)
		}
	}()

	log.Printf("[INFO] starting web server on %s", address)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("web server failed: %w", err)
	}
	return nil
}

// routes returns the http.Handler with all routes configured
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	router := routegroup.New(mux)

	router.Use(
		s.metrics.middleware(mux),
		rest.RealIP,
		rest.Recoverer(log.Default()),
		rest.Throttle(1000),
		rest.AppInfo("arbor", "umputun", s.Version),
		rest.Ping,
		rest.Trace,
		rest.SizeLimit(s.MaxBodySize),
		logger.New(logger.Log(log.Default()), logger.Prefix("[DEBUG]")).Handler,
	)

	router.HandleFunc("GET /health", s.handleHealth)
	router.Handle("GET /metrics", s.metrics.handler())

	router.Mount("/api/v1").Route(func(api *routegroup.Bundle) {
		api.Use(rest.NoCache)

		api.HandleFunc("GET /jobs", s.handleListJobs)
		api.HandleFunc("GET /jobs/{id}", s.handleGetJob)
		api.HandleFunc("DELETE /jobs/{id}", s.handleDeleteJob)
		api.HandleFunc("POST /jobs/{id}/cancel", s.handleCancelJob)
		api.HandleFunc("GET /jobs/{id}/$stream", s.handleStreamJob)

		api.HandleFunc("POST /artifacts", s.handleSaveArtifact)
		api.HandleFunc("POST /artifacts/$batch", s.handleSaveArtifacts)
		api.HandleFunc("GET /artifacts/{id}", s.handleGetArtifact)
		api.HandleFunc("DELETE /artifacts/{id}", s.handleDeleteArtifact)
		api.HandleFunc("GET /artifacts/{id}/$tree", s.handleArtifactTree)
		api.HandleFunc("GET /artifacts/{id}/$expand", s.handleExpandArtifact)
		api.HandleFunc("GET /artifacts/{id}/$config", s.handleArtifactConfig)

		api.HandleFunc("POST /configs", s.handleSaveConfig)
		api.HandleFunc("GET /configs", s.handleListConfigs)
		api.HandleFunc("GET /configs/{id}", s.handleGetConfig)
		api.HandleFunc("DELETE /configs/{id}", s.handleDeleteConfig)
		api.HandleFunc("POST /configs/{id}/$link", s.handleLinkArtifact)
		api.HandleFunc("POST /configs/{id}/$unlink", s.handleUnlinkArtifact)
		api.HandleFunc("GET /configs/{id}/$artifacts", s.handleConfigArtifacts)

		api.HandleFunc("POST /tasks", s.handleSaveTask)
		api.HandleFunc("GET /tasks", s.handleListTasks)
		api.HandleFunc("GET /tasks/{id}", s.handleGetTask)
		api.HandleFunc("DELETE /tasks/{id}", s.handleDeleteTask)

		// endpoints submitting jobs are rate limited
		api.Group().Route(func(submit *routegroup.Bundle) {
			if s.submitLimiter != nil {
				submit.Use(tollbooth.HTTPMiddleware(s.submitLimiter))
			}
			submit.HandleFunc("POST /tasks/{id}/$execute", s.handleExecuteTask)
			submit.HandleFunc("POST /ml/$train", s.handleTrain)
			submit.HandleFunc("POST /ml/$predict", s.handlePredict)
		})
	})

	return router
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[WARN] failed to encode JSON response: %v", err)
	}
}

// writeJSONError writes a JSON error response
func (s *Server) writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]string{"error": message}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("[WARN] failed to encode JSON error response: %v", err)
	}
}

// writeError writes error response with status derived from error kind
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errStatus(err)
	if status == http.StatusInternalServerError {
		log.Printf("[WARN] %s %s failed: %v", r.Method, r.URL.Path, err)
	}
	s.writeJSONError(w, status, err.Error())
}

func errStatus(err error) int {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, errs.ErrConfiguration):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decode reads JSON body into v, responds with 422 on failure
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeJSONError(w, http.StatusUnprocessableEntity, "can't decode request: "+err.Error())
		return false
	}
	return true
}
