package server

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"cutroom/internal/generate"
	"cutroom/internal/services"
)

type jobAccepted struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

// generationHandler validates the request synchronously, then runs the
// generation as a job and answers 202 with its id.
func (s *Server) generationHandler(kind generate.Kind) http.HandlerFunc {
	op := "generate " + string(kind)
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Generate == nil || s.deps.Jobs == nil {
			s.writeError(w, r, unavailable(op, "generation"))
			return
		}
		var params generate.Params
		if r.ContentLength != 0 {
			if err := decodeJSON(w, r, op, &params); err != nil {
				s.writeError(w, r, err)
				return
			}
		}
		ctx := sessionContext(r)
		sessionID := mux.Vars(r)["id"]
		if err := s.deps.Generate.Check(ctx, sessionID, kind, params); err != nil {
			s.writeError(w, r, err)
			return
		}
		job := s.deps.Jobs.Start(ctx, sessionID, string(kind), func(ctx context.Context) (any, error) {
			asset, err := s.deps.Generate.Generate(ctx, sessionID, kind, params)
			if err != nil {
				return nil, err
			}
			return map[string]any{"assetId": asset.ID, "asset": asset}, nil
		})
		s.writeJSON(w, http.StatusAccepted, jobAccepted{JobID: job.ID, Status: string(job.Status)})
	}
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		s.writeError(w, r, services.Wrap(services.ErrNotFound, "poll job", "", "no jobs", nil))
		return
	}
	v := mux.Vars(r)
	if _, err := s.deps.Layout.Session(v["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	job, err := s.deps.Jobs.Take(v["id"], v["jobId"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}
