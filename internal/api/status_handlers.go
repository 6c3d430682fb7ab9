package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitetree-crawler/internal/progress"
	"github.com/JakeFAU/sitetree-crawler/internal/speed"
)

const (
	defaultSpeedWindow = time.Hour
	maxSpeedWindow     = 7 * 24 * time.Hour
	progressTimeout    = 3 * time.Second
)

// SpeedSource is the live throughput view. *speed.Monitor implements it.
type SpeedSource interface {
	Report(window time.Duration) speed.Report
	ETA(target int64, window time.Duration) speed.ETA
}

// ProgressSource lists checkpoint summaries. *progress.Store implements it.
type ProgressSource interface {
	Summarize(ctx context.Context) []progress.Summary
}

// StatusHandler serves the read-only crawl status endpoints.
type StatusHandler struct {
	speed    SpeedSource
	progress ProgressSource
	timeout  time.Duration
	logger   *zap.Logger
}

// NewStatusHandler wires the sources and logger.
func NewStatusHandler(speed SpeedSource, progress ProgressSource, logger *zap.Logger) *StatusHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusHandler{
		speed:    speed,
		progress: progress,
		timeout:  progressTimeout,
		logger:   logger,
	}
}

// Speed handles GET /v1/speed?window=&target=. It returns {"report": {...}}
// plus an "eta" object when target is given, 400 for invalid parameters, or
// 503 when no monitor is attached.
func (h *StatusHandler) Speed(w http.ResponseWriter, r *http.Request) {
	if h.speed == nil {
		writeError(w, http.StatusServiceUnavailable, "speed monitor unavailable")
		return
	}
	window, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	target, err := parseTarget(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	payload := map[string]any{"report": toSpeedDTO(h.speed.Report(window))}
	if target > 0 {
		payload["eta"] = toETADTO(h.speed.ETA(target, window))
	}
	writeJSON(w, http.StatusOK, payload)
}

// Progress handles GET /v1/progress. It returns {"domains": [...]} or 503
// when no progress store is attached.
func (h *StatusHandler) Progress(w http.ResponseWriter, r *http.Request) {
	if h.progress == nil {
		writeError(w, http.StatusServiceUnavailable, "progress store unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	writeJSON(w, http.StatusOK, map[string]any{"domains": h.progress.Summarize(ctx)})
}

func parseWindow(r *http.Request) (time.Duration, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("window"))
	if raw == "" {
		return defaultSpeedWindow, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, errors.New("invalid window")
	}
	return min(d, maxSpeedWindow), nil
}

func parseTarget(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("target"))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 0, errors.New("invalid target")
	}
	return n, nil
}

func toSpeedDTO(r speed.Report) speedDTO {
	dto := speedDTO{
		WindowSeconds:      r.Window.Seconds(),
		ElapsedSeconds:     r.Elapsed.Seconds(),
		Total:              r.Total,
		Successful:         r.Successful,
		Failed:             r.Failed,
		SuccessRate:        r.SuccessRate,
		URLsInWindow:       r.URLsInWindow,
		URLsPerHour:        r.URLsPerHour,
		OverallURLsPerHour: r.OverallURLsPerHour,
		AverageLatencyMS:   r.AverageLatency.Milliseconds(),
		StatusCodes:        make(map[string]int64, len(r.StatusCodes)),
		Domains:            make([]domainDTO, 0, len(r.Domains)),
	}
	for code, n := range r.StatusCodes {
		dto.StatusCodes[strconv.Itoa(code)] = n
	}
	for _, d := range r.Domains {
		dto.Domains = append(dto.Domains, domainDTO{
			Domain:           d.Domain,
			Total:            d.Total,
			Successful:       d.Successful,
			Failed:           d.Failed,
			SuccessRate:      d.SuccessRate,
			AverageLatencyMS: d.AverageLatency.Milliseconds(),
		})
	}
	return dto
}

func toETADTO(e speed.ETA) etaDTO {
	dto := etaDTO{
		Known:         e.Known,
		Completed:     e.Completed,
		RemainingURLs: e.RemainingURLs,
		URLsPerHour:   e.URLsPerHour,
		HoursNeeded:   e.HoursNeeded,
	}
	if !e.At.IsZero() {
		at := e.At
		dto.At = &at
	}
	return dto
}

type speedDTO struct {
	WindowSeconds      float64          `json:"window_seconds"`
	ElapsedSeconds     float64          `json:"elapsed_seconds"`
	Total              int64            `json:"total"`
	Successful         int64            `json:"successful"`
	Failed             int64            `json:"failed"`
	SuccessRate        float64          `json:"success_rate"`
	URLsInWindow       int              `json:"urls_in_window"`
	URLsPerHour        float64          `json:"urls_per_hour"`
	OverallURLsPerHour float64          `json:"overall_urls_per_hour"`
	AverageLatencyMS   int64            `json:"average_latency_ms"`
	StatusCodes        map[string]int64 `json:"status_codes"`
	Domains            []domainDTO      `json:"domains"`
}

type domainDTO struct {
	Domain           string  `json:"domain"`
	Total            int64   `json:"total"`
	Successful       int64   `json:"successful"`
	Failed           int64   `json:"failed"`
	SuccessRate      float64 `json:"success_rate"`
	AverageLatencyMS int64   `json:"average_latency_ms"`
}

type etaDTO struct {
	Known         bool       `json:"known"`
	Completed     bool       `json:"completed"`
	RemainingURLs int64      `json:"remaining_urls"`
	URLsPerHour   float64    `json:"urls_per_hour"`
	HoursNeeded   float64    `json:"hours_needed"`
	At            *time.Time `json:"at,omitempty"`
}
