package catalog

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/banshee-data/superphot/internal/httputil"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// fitResponse is the JSON form of a Fit. Missing scores and non-finite
// means are null.
type fitResponse struct {
	ID        string     `json:"fit_id"`
	Name      string     `json:"name"`
	Method    string     `json:"method"`
	Score     *float64   `json:"score"`
	NumDraws  int        `json:"num_draws"`
	Columns   []string   `json:"columns"`
	Mean      []*float64 `json:"mean"`
	RuntimeMs int64      `json:"runtime_ms"`
	CreatedAt time.Time  `json:"created_at"`
}

func newFitResponse(f *Fit) fitResponse {
	resp := fitResponse{
		ID:        f.ID,
		Name:      f.Name,
		Method:    f.Method,
		NumDraws:  f.NumDraws,
		Columns:   f.Columns,
		Mean:      nanToNull(f.Mean),
		RuntimeMs: f.Runtime.Milliseconds(),
		CreatedAt: f.CreatedAt,
	}
	if f.HasScore() {
		score := f.Score
		resp.Score = &score
	}
	return resp
}

// RegisterRoutes serves the catalog read API on mux:
//
//	GET    /api/fits?method=&limit=         newest first
//	GET    /api/fits?method=&name=          latest fit of name
//	GET    /api/fits/{id}
//	DELETE /api/fits/{id}
func (c *Catalog) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/fits", c.handleList)
	mux.HandleFunc("/api/fits/", c.handleFit)
}

func (c *Catalog) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	limit, err := httputil.QueryInt(r, "limit", defaultListLimit, maxListLimit)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	q := r.URL.Query()
	method := q.Get("method")

	if name := q.Get("name"); name != "" {
		if method == "" {
			httputil.BadRequest(w, "name requires method")
			return
		}
		f, err := c.Latest(name, method)
		if errors.Is(err, ErrNotFound) {
			httputil.WriteJSONOK(w, []fitResponse{})
			return
		}
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, []fitResponse{newFitResponse(f)})
		return
	}

	fits, err := c.List(method, limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	out := make([]fitResponse, 0, len(fits))
	for _, f := range fits {
		out = append(out, newFitResponse(f))
	}
	httputil.WriteJSONOK(w, out)
}

func (c *Catalog) handleFit(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/fits/")
	if id == "" || strings.Contains(id, "/") {
		httputil.NotFound(w, "fit not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		f, err := c.Get(id)
		if errors.Is(err, ErrNotFound) {
			httputil.NotFound(w, "fit not found")
			return
		}
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, newFitResponse(f))
	case http.MethodDelete:
		err := c.Delete(id)
		if errors.Is(err, ErrNotFound) {
			httputil.NotFound(w, "fit not found")
			return
		}
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		httputil.MethodNotAllowed(w)
	}
}
