package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"link-tracker/pkg/logging"
	"link-tracker/pkg/middleware"
	"link-tracker/pkg/service"
	"link-tracker/pkg/storage"

	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

// ClickSink accepts clicks for accounting without blocking the response.
type ClickSink interface {
	Enqueue(ctx context.Context, link storage.LinkRecord, meta service.RequestMeta) bool
}

type Handler struct {
	resolver  *service.Resolver
	recorder  ClickSink
	links     *service.LinkService
	analytics *service.AnalyticsService
	logger    *logging.Logger

	interstitialDelay time.Duration
}

type Options struct {
	Resolver  *service.Resolver
	Recorder  ClickSink
	Links     *service.LinkService
	Analytics *service.AnalyticsService
	Logger    *logging.Logger

	InterstitialDelay time.Duration
}

// NewHandler builds the handler. A zero InterstitialDelay redirects from the
// interstitial immediately; a negative one falls back to one second.
func NewHandler(opts Options) *Handler {
	if opts.InterstitialDelay < 0 {
		opts.InterstitialDelay = time.Second
	}
	return &Handler{
		resolver:          opts.Resolver,
		recorder:          opts.Recorder,
		links:             opts.Links,
		analytics:         opts.Analytics,
		logger:            opts.Logger,
		interstitialDelay: opts.InterstitialDelay,
	}
}

// Redirect resolves the short code and answers before the click has been
// accounted. Terminal outcomes never reach the recorder.
func (h *Handler) Redirect(w http.ResponseWriter, r *http.Request) {
	arrived := time.Now()
	code := chi.URLParam(r, "shortCode")

	res, err := h.resolver.Resolve(r.Context(), code)
	switch {
	case errors.Is(err, service.ErrNotFound):
		renderStatusPage(w, http.StatusNotFound, pageNotFound)
		return
	case errors.Is(err, service.ErrInactive):
		renderStatusPage(w, http.StatusGone, pageDisabled)
		return
	case errors.Is(err, service.ErrExpired):
		renderStatusPage(w, http.StatusGone, pageExpired)
		return
	case err != nil:
		h.logger.Error(r.Context(), "link resolution failed", "error", err)
		renderStatusPage(w, http.StatusInternalServerError, pageError)
		return
	}

	h.recorder.Enqueue(r.Context(), res.Link, service.RequestMeta{
		ClientIP:  middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
		Referrer:  r.Referer(),
		ArrivedAt: arrived,
	})

	if res.Outcome == service.OutcomeCloaked {
		renderInterstitial(w, res.Destination, h.interstitialDelay)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, res.Destination, http.StatusFound)
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.analytics.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := h.links.ListCampaigns(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, campaigns)
}

func (h *Handler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req service.CreateCampaignRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	campaign, err := h.links.CreateCampaign(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, campaign)
}

func (h *Handler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	campaign, err := h.links.GetCampaign(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

func (h *Handler) ToggleCampaign(w http.ResponseWriter, r *http.Request) {
	campaign, err := h.links.ToggleCampaign(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

func (h *Handler) ListLinks(w http.ResponseWriter, r *http.Request) {
	links, err := h.links.ListLinks(r.Context(), r.URL.Query().Get("campaign_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, links)
}

func (h *Handler) CreateLink(w http.ResponseWriter, r *http.Request) {
	var req service.CreateLinkRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	link, err := h.links.CreateLink(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, link)
}

func (h *Handler) GetLink(w http.ResponseWriter, r *http.Request) {
	link, err := h.links.GetLink(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (h *Handler) ToggleLink(w http.ResponseWriter, r *http.Request) {
	link, err := h.links.ToggleLink(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (h *Handler) DeleteLink(w http.ResponseWriter, r *http.Request) {
	if err := h.links.DeleteLink(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListDomains(w http.ResponseWriter, r *http.Request) {
	domains, err := h.links.ListDomains(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domains)
}

type addDomainRequest struct {
	Domain string `json:"domain"`
}

func (h *Handler) AddDomain(w http.ResponseWriter, r *http.Request) {
	var req addDomainRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	domain, err := h.links.AddDomain(r.Context(), req.Domain)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, domain)
}

func (h *Handler) VerifyDomain(w http.ResponseWriter, r *http.Request) {
	domain, err := h.links.VerifyDomain(r.Context(), chi.URLParam(r, "domain"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domain)
}

func (h *Handler) DeleteDomain(w http.ResponseWriter, r *http.Request) {
	if err := h.links.DeleteDomain(r.Context(), chi.URLParam(r, "domain")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// clickFilter reads range, from, to, link_id and campaign_id. Explicit
// from/to bounds take precedence over a named range. The returned label
// names the selection in export file names.
func (h *Handler) clickFilter(r *http.Request) (service.ClickFilter, string, error) {
	q := r.URL.Query()
	var (
		f     service.ClickFilter
		label string
	)
	if q.Get("from") != "" || q.Get("to") != "" {
		for _, b := range []struct {
			name string
			dst  *time.Time
		}{{"from", &f.From}, {"to", &f.To}} {
			v := q.Get(b.name)
			if v == "" {
				continue
			}
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return f, "", fmt.Errorf("%w: %s must be RFC3339", service.ErrInvalidInput, b.name)
			}
			*b.dst = t
		}
		label = "custom"
	} else {
		var err error
		label = q.Get("range")
		if label == "" {
			label = service.DefaultRange
		}
		if f, err = h.analytics.RangeFilter(label); err != nil {
			return f, "", err
		}
	}
	f.LinkID = q.Get("link_id")
	f.CampaignID = q.Get("campaign_id")
	return f, label, nil
}

func (h *Handler) Analytics(w http.ResponseWriter, r *http.Request) {
	f, _, err := h.clickFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	clicks, err := h.analytics.Clicks(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, clicks)
}

func (h *Handler) ExportAnalytics(w http.ResponseWriter, r *http.Request) {
	f, label, err := h.clickFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	clicks, err := h.analytics.Clicks(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=analytics-%s.csv", label))
	if err := service.ExportCSV(w, clicks); err != nil {
		h.logger.Error(r.Context(), "analytics export failed", "error", err)
	}
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	res, err := h.analytics.Reconcile(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request"})
		return false
	}
	return true
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps service errors to status codes. Anything unclassified,
// storage failures included, is a 500 with a generic message.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrGone):
		status = http.StatusGone
	case errors.Is(err, service.ErrCodeExists), errors.Is(err, service.ErrDomainExists):
		status = http.StatusConflict
	case errors.Is(err, service.ErrInvalidURL),
		errors.Is(err, service.ErrInvalidAlias),
		errors.Is(err, service.ErrInvalidDomain),
		errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrUnknownCampaign):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		h.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeJSON(w, status, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
