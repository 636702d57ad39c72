package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/arbor/app/artifact"
	"github.com/umputun/arbor/app/configs"
	"github.com/umputun/arbor/app/errs"
	"github.com/umputun/arbor/app/jobs"
	"github.com/umputun/arbor/app/ml"
	"github.com/umputun/arbor/app/task"
)

// linkRequest is the body of config link and unlink requests
type linkRequest struct {
	ArtifactID string `json:"artifact_id"`
}

// jobIDResponse is returned by endpoints submitting a job
type jobIDResponse struct {
	JobID string `json:"job_id"`
}

// handleListJobs returns jobs, optionally filtered by one or more ?status= values
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var statuses []jobs.Status
	for _, v := range r.URL.Query()["status"] {
		for part := range strings.SplitSeq(v, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			st, err := jobs.ParseStatus(part)
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			statuses = append(statuses, st)
		}
	}
	res := s.Jobs.List(statuses...)
	if res == nil {
		res = []jobs.Job{}
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.Jobs.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.Jobs.Delete(r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCancelJob cancels job and returns its snapshot
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.Jobs.Cancel(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	job, err := s.Jobs.Get(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

// handleStreamJob sends job snapshots as server-sent events until the job is terminal.
// Polling interval is set with ?interval= in go duration format.
func (s *Server) handleStreamJob(w http.ResponseWriter, r *http.Request) {
	var interval time.Duration
	if v := r.URL.Query().Get("interval"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid interval %q", v))
			return
		}
		interval = d
	}
	ch, err := s.Jobs.Stream(r.Context(), r.PathValue("id"), interval)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		log.Printf("[WARN] can't lift write deadline for stream, %v", err)
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for job := range ch {
		data, err := json.Marshal(job)
		if err != nil {
			log.Printf("[WARN] can't marshal job %s, %v", job.ID, err)
			return
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return // client gone, request ctx stops the stream
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return
		}
	}
}

func (s *Server) handleSaveArtifact(w http.ResponseWriter, r *http.Request) {
	var a artifact.Artifact
	if !s.decode(w, r, &a) {
		return
	}
	res, err := s.Artifacts.Save(r.Context(), a)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// handleSaveArtifacts saves a batch in one transaction, parents may follow their children
func (s *Server) handleSaveArtifacts(w http.ResponseWriter, r *http.Request) {
	var items []artifact.Artifact
	if !s.decode(w, r, &items) {
		return
	}
	res, err := s.Artifacts.SaveAll(r.Context(), items)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	a, err := s.Artifacts.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleDeleteArtifact(w http.ResponseWriter, r *http.Request) {
	if err := s.Artifacts.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleArtifactTree(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	tree, err := s.Artifacts.BuildTree(r.Context(), id)
	s.writeTree(w, r, id, tree, err)
}

func (s *Server) handleExpandArtifact(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	tree, err := s.Artifacts.Expand(r.Context(), id)
	s.writeTree(w, r, id, tree, err)
}

func (s *Server) writeTree(w http.ResponseWriter, r *http.Request, id string, tree *artifact.TreeNode, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if tree == nil {
		s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("artifact %s not found", id))
		return
	}
	s.writeJSON(w, http.StatusOK, tree)
}

// handleArtifactConfig returns config linked to the root of artifact's tree, null if not linked
func (s *Server) handleArtifactConfig(w http.ResponseWriter, r *http.Request) {
	c, err := s.Configs.ConfigForArtifact(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	var c configs.Config
	if !s.decode(w, r, &c) {
		return
	}
	res, err := s.Configs.Save(r.Context(), c)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListConfigs(w http.ResponseWriter, r *http.Request) {
	res, err := s.Configs.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if res == nil {
		res = []configs.Config{}
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	c, err := s.Configs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

// handleDeleteConfig removes config with every artifact tree linked to it
func (s *Server) handleDeleteConfig(w http.ResponseWriter, r *http.Request) {
	if err := s.Configs.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLinkArtifact(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.Configs.LinkArtifact(r.Context(), r.PathValue("id"), req.ArtifactID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUnlinkArtifact removes link between config and artifact, 404 if this artifact is not linked to the config
func (s *Server) handleUnlinkArtifact(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.Configs.UnlinkFromConfig(r.Context(), r.PathValue("id"), req.ArtifactID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConfigArtifacts(w http.ResponseWriter, r *http.Request) {
	res, err := s.Configs.ArtifactsForConfig(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if res == nil {
		res = []artifact.Artifact{}
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSaveTask(w http.ResponseWriter, r *http.Request) {
	var t task.Task
	if !s.decode(w, r, &t) {
		return
	}
	res, err := s.Tasks.Save(r.Context(), t)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	res, err := s.Tasks.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if res == nil {
		res = []task.Task{}
	}
	s.writeJSON(w, http.StatusOK, res)
}

// handleGetTask accepts task id or name
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.Tasks.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.Tasks.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleExecuteTask submits task as a job, the job id is returned right away
func (s *Server) handleExecuteTask(w http.ResponseWriter, r *http.Request) {
	jobID, err := s.Tasks.Execute(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, jobIDResponse{JobID: jobID})
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	if s.ML == nil {
		s.writeError(w, r, fmt.Errorf("ml runner: %w", errs.ErrConfiguration))
		return
	}
	var req ml.TrainRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.ML.Train(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, res)
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	if s.ML == nil {
		s.writeError(w, r, fmt.Errorf("ml runner: %w", errs.ErrConfiguration))
		return
	}
	var req ml.PredictRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.ML.Predict(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, res)
}
