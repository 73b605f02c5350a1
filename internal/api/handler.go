package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/intake"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/profile"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// maxBodyBytes bounds request bodies. Batch uploads are the largest.
const maxBodyBytes = 10 << 20

// Handler holds dependencies for API handlers.
type Handler struct {
	pipeline *pipeline.Service
	intake   *intake.Normalizer
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(svc *pipeline.Service, normalizer *intake.Normalizer, version string) *Handler {
	if normalizer == nil {
		normalizer = intake.New()
	}
	return &Handler{
		pipeline: svc,
		intake:   normalizer,
		version:  version,
	}
}

// EvaluateResponse is the response for POST /cases/evaluate.
type EvaluateResponse struct {
	*pipeline.Result
	CaseID   string `json:"case_id"`
	Version  string `json:"version"`
	TenantID string `json:"tenant_id"`
}

// Evaluate handles POST /cases/evaluate.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req intake.CaseRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, ok := h.resolveProfile(w, req.Profile, req.Customer.FirstCurrency())
	if !ok {
		return
	}

	c, err := h.intake.FromRequest(&req, &p)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := h.pipeline.Assess(ctx, tenantID, p.Name, c)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, EvaluateResponse{
		Result:   res,
		CaseID:   c.CaseID,
		Version:  h.version,
		TenantID: tenantID,
	})
}

// BatchEntry is one assessed or failed case of a batch upload.
type BatchEntry struct {
	Index          int              `json:"index"`
	CaseID         string           `json:"case_id,omitempty"`
	CustomerID     string           `json:"customer_id"`
	Profile        string           `json:"profile,omitempty"`
	AssessmentID   string           `json:"assessment_id,omitempty"`
	Score          int              `json:"score"`
	RiskLevel      domain.RiskLevel `json:"risk_level,omitempty"`
	Classification string           `json:"classification,omitempty"`
	Status         string           `json:"status,omitempty"`
	RequiresSAR    bool             `json:"requires_sar"`
	Error          string           `json:"error,omitempty"`
}

// BatchResponse is the response for POST /cases/batch.
type BatchResponse struct {
	Total    int                `json:"total"`
	Assessed int                `json:"assessed"`
	Failed   int                `json:"failed"`
	Results  []BatchEntry       `json:"results"`
	Rejected []intake.Rejection `json:"rejected,omitempty"`

	// ByClassification counts assessed cases per final classification.
	ByClassification map[string]int `json:"by_classification"`
}

// Batch handles POST /cases/batch. Invalid customers are rejected
// individually; the rest are assessed concurrently.
func (h *Handler) Batch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var upload intake.Upload
	if !decodeJSON(w, r, &upload) {
		return
	}

	valid, rejected, err := h.intake.Split(&upload)
	if err != nil {
		writeError(w, err)
		return
	}

	// Index of each valid record within the upload.
	indexes := make(map[*intake.CustomerRecord]int, len(upload.Customers))
	for i := range upload.Customers {
		indexes[&upload.Customers[i]] = i
	}

	resp := BatchResponse{
		Total:            len(upload.Customers),
		Rejected:         rejected,
		ByClassification: make(map[string]int),
	}

	// Cases are grouped by profile so every case is normalized against the
	// profile that scores it.
	type group struct {
		cases   []*domain.CaseData
		indexes []int
		ids     []string
	}
	groups := make(map[string]*group)
	var order []string

	for _, rec := range valid {
		idx := indexes[rec]
		p, err := h.pipeline.Registry().Resolve(upload.Profile, rec.FirstCurrency())
		if err != nil {
			writeError(w, err)
			return
		}
		prof := p.Profile()

		c, err := h.intake.Case("", rec, &prof)
		if err != nil {
			resp.Rejected = append(resp.Rejected, intake.Rejection{Index: idx, CustomerID: rec.CustomerID, Error: err.Error(), Err: err})
			continue
		}

		g, ok := groups[prof.Name]
		if !ok {
			g = &group{}
			groups[prof.Name] = g
			order = append(order, prof.Name)
		}
		g.cases = append(g.cases, c)
		g.indexes = append(g.indexes, idx)
		g.ids = append(g.ids, rec.CustomerID)
	}

	for _, name := range order {
		g := groups[name]
		items := h.pipeline.AssessBatch(ctx, tenantID, name, g.cases)
		for i, it := range items {
			entry := BatchEntry{
				Index:      g.indexes[i],
				CaseID:     it.CaseID,
				CustomerID: g.ids[i],
				Profile:    name,
			}
			if it.Err != nil {
				entry.Error = it.Err.Error()
				resp.Results = append(resp.Results, entry)
				continue
			}
			a := it.Result.Assessment
			entry.AssessmentID = it.Result.AssessmentID
			entry.Score = a.AggregatedRiskScore
			entry.RiskLevel = a.RiskLevel
			entry.Classification = a.FinalClassification
			entry.Status = it.Result.Decision.Status
			entry.RequiresSAR = it.Result.Decision.RequiresSAR
			resp.Results = append(resp.Results, entry)
		}
	}

	sort.Slice(resp.Results, func(i, j int) bool { return resp.Results[i].Index < resp.Results[j].Index })
	for _, e := range resp.Results {
		if e.Error != "" {
			resp.Failed++
			continue
		}
		resp.Assessed++
		resp.ByClassification[e.Classification]++
	}
	resp.Failed += len(resp.Rejected)

	slog.Info("batch assessed",
		"tenant_id", tenantID,
		"total", resp.Total,
		"assessed", resp.Assessed,
		"failed", resp.Failed,
	)
	writeJSON(w, http.StatusOK, resp)
}

// GetCase retrieves a stored case by ID.
func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := h.pipeline.GetCase(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ListCases returns the tenant's cases, newest first. Query parameters
// status, customer_id, limit and offset narrow the listing.
func (h *Handler) ListCases(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	filter := domain.CaseFilter{
		Status:     q.Get("status"),
		CustomerID: q.Get("customer_id"),
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": name + " must be a non-negative integer",
			})
			return
		}
		*dst = n
	}

	cases, err := h.pipeline.ListCases(ctx, GetTenantID(ctx), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cases": cases,
		"count": len(cases),
	})
}

// ChangeCaseStatus moves a case along its review lifecycle. The acting
// reviewer comes from the X-User-ID header.
func (h *Handler) ChangeCaseStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req pipeline.StatusChange
	if !decodeJSON(w, r, &req) {
		return
	}

	c, err := h.pipeline.ChangeCaseStatus(ctx, GetTenantID(ctx), r.Header.Get(UserIDHeader), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// DeleteCase soft-deletes a case.
func (h *Handler) DeleteCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if err := h.pipeline.DeleteCase(ctx, GetTenantID(ctx), r.Header.Get(UserIDHeader), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "case deleted",
		"case_id": id,
	})
}

// GetAssessment retrieves a stored assessment by ID.
func (h *Handler) GetAssessment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, err := h.pipeline.GetAssessment(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ListProfiles returns the loaded profiles.
func (h *Handler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	reg := h.pipeline.Registry()
	profiles := reg.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"profiles": profiles,
		"count":    len(profiles),
		"default":  reg.Default(),
	})
}

// GetProfile returns one loaded profile.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	ev, err := h.pipeline.Registry().Get(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev.Profile())
}

// CreateProfile validates and stores a profile sent as JSON or YAML.
// Call POST /profiles/reload to apply it.
func (h *Handler) CreateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
		return
	}

	// YAML is a superset of JSON, so one decoder serves both.
	p, err := profile.Decode(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if err := h.pipeline.SaveProfile(ctx, GetTenantID(ctx), r.Header.Get(UserIDHeader), p); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "profile saved; call POST /profiles/reload to apply",
		"name":    p.Name,
		"version": p.Version,
	})
}

// DeleteProfile disables a stored profile.
func (h *Handler) DeleteProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")

	if err := h.pipeline.DeleteProfile(ctx, GetTenantID(ctx), r.Header.Get(UserIDHeader), name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "profile deleted; call POST /profiles/reload to apply",
		"name":    name,
	})
}

// ReloadProfiles rebuilds the registry without a restart.
func (h *Handler) ReloadProfiles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	names, err := h.pipeline.ReloadProfiles(ctx, GetTenantID(ctx))
	if err != nil {
		slog.Error("failed to reload profiles", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload profiles: " + err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "profiles reloaded successfully",
		"count":    len(names),
		"profiles": names,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if err := h.pipeline.Ping(r.Context()); err != nil {
		slog.Warn("health check degraded", "error", err)
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   status,
		"version":  h.version,
		"profiles": h.pipeline.Registry().Count(),
	})
}

// Ready reports whether at least one profile is loaded.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.pipeline.Registry().Count() == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func (h *Handler) resolveProfile(w http.ResponseWriter, name, currency string) (domain.RiskProfile, bool) {
	ev, err := h.pipeline.Registry().Resolve(name, currency)
	if err != nil {
		writeError(w, err)
		return domain.RiskProfile{}, false
	}
	return ev.Profile(), true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return false
	}
	return true
}

// writeError maps domain errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var (
		malformed  *domain.MalformedInputError
		validation *intake.ValidationError
		config     *domain.ConfigurationError
		transition *domain.TransitionError
	)

	switch {
	case errors.As(err, &malformed):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error":          err.Error(),
			"case_id":        malformed.CaseID,
			"transaction_id": malformed.TransactionID,
			"field":          malformed.Field,
		})
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": validation.Fields,
		})
	case errors.As(err, &config):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":    "invalid risk profile",
			"profile":  config.Profile,
			"problems": config.Problems,
		})
	case errors.As(err, &transition):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":          err.Error(),
			"current_status": transition.From,
		})
	case errors.Is(err, repository.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": err.Error(),
		})
	case errors.Is(err, profile.ErrProfileNotFound), errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": err.Error(),
		})
	case errors.Is(err, repository.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal server error",
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
