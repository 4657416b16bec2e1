package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/chadmayfield/rainfalld/internal/dataset"
	"github.com/chadmayfield/rainfalld/internal/observability"
	"github.com/chadmayfield/rainfalld/internal/rainfall"
	"github.com/chadmayfield/rainfalld/internal/resolve"
	"github.com/chadmayfield/rainfalld/internal/store"
	"github.com/chadmayfield/rainfalld/internal/unresolved"
)

// maxSuggestions caps the "did you mean" names on a 404.
const maxSuggestions = 5

var validate = validator.New()

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Datasets      *dataset.Holder
	Log           store.Store     // unresolved-query log, read by the diagnostics endpoint
	Sink          unresolved.Sink // receives failed resolutions
	Metrics       *observability.Metrics
	Logger        *slog.Logger
	MeanMonths    int
	SumMonths     int
	Autocomplete  resolve.AutocompleteOptions
	StartTime     time.Time
	StorageDriver string
	Version       string
}

// Register adds every API route to mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/rainfall/monthly-mean", h.MonthlyMean)
	mux.HandleFunc("GET /api/v1/rainfall/monthly-total", h.MonthlyTotal)
	mux.HandleFunc("GET /api/v1/cities/autocomplete", h.AutocompleteCities)
	mux.HandleFunc("GET /api/v1/cities/{name}", h.GetCity)
	mux.HandleFunc("GET /api/v1/unresolved", h.ListUnresolved)
	mux.HandleFunc("GET /api/v1/health", h.Health)
}

// apiError is a JSON error response.
type apiError struct {
	Error       string   `json:"error"`
	Code        int      `json:"code"`
	Suggestions []string `json:"suggestions,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiError{Error: msg, Code: status})
}

// cityQuery is the validated form of the lookup parameters. The Portuguese
// names used by existing clients are accepted as aliases.
type cityQuery struct {
	Name string   `validate:"omitempty,max=200"`
	Code string   `validate:"omitempty,max=32"`
	Lat  *float64 `validate:"omitnil,gte=-90,lte=90"`
	Lon  *float64 `validate:"omitnil,gte=-180,lte=180"`
}

func firstParam(r *http.Request, keys ...string) string {
	q := r.URL.Query()
	for _, k := range keys {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			return v
		}
	}
	return ""
}

func parseCoordinate(r *http.Request, keys ...string) (*float64, error) {
	s := firstParam(r, keys...)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %q is not a number", keys[0], s)
	}
	return &v, nil
}

func parseCityQuery(r *http.Request) (resolve.Query, error) {
	lat, err := parseCoordinate(r, "lat", "latitude")
	if err != nil {
		return resolve.Query{}, err
	}
	lon, err := parseCoordinate(r, "lon", "longitude")
	if err != nil {
		return resolve.Query{}, err
	}

	cq := cityQuery{
		Name: firstParam(r, "name", "nome"),
		Code: firstParam(r, "code", "codigo_ibge"),
		Lat:  lat,
		Lon:  lon,
	}
	if err := validate.Struct(cq); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return resolve.Query{}, fmt.Errorf("invalid %s", strings.ToLower(verrs[0].Field()))
		}
		return resolve.Query{}, err
	}

	return resolve.Query{Name: cq.Name, Code: cq.Code, Lat: cq.Lat, Lon: cq.Lon}, nil
}

type meanMonth struct {
	Month       int     `json:"month"`
	MonthAbbrev string  `json:"month_abbrev"`
	YearMonth   string  `json:"year_month"`
	Mean        float64 `json:"mean"`
	Days        int     `json:"days"`
}

type totalMonth struct {
	Month       int     `json:"month"`
	MonthAbbrev string  `json:"month_abbrev"`
	YearMonth   string  `json:"year_month"`
	Total       float64 `json:"total"`
	Days        int     `json:"days"`
}

type monthlyResponse struct {
	City       string   `json:"city"`
	State      string   `json:"state,omitempty"`
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
	Code       string   `json:"code"`
	Match      string   `json:"match"`
	DistanceKm *float64 `json:"distance_km,omitempty"`
	Monthly    any      `json:"monthly"`
}

// MonthlyMean handles GET /api/v1/rainfall/monthly-mean
func (h *Handlers) MonthlyMean(w http.ResponseWriter, r *http.Request) {
	h.monthly(w, r, rainfall.Mean, h.MeanMonths)
}

// MonthlyTotal handles GET /api/v1/rainfall/monthly-total
func (h *Handlers) MonthlyTotal(w http.ResponseWriter, r *http.Request) {
	h.monthly(w, r, rainfall.Sum, h.SumMonths)
}

func (h *Handlers) monthly(w http.ResponseWriter, r *http.Request, mode rainfall.Mode, window int) {
	q, err := parseCityQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s := h.Datasets.Store()
	m, err := resolve.Resolve(s, q)
	if errors.Is(err, resolve.ErrNotFound) {
		h.Metrics.Resolutions.WithLabelValues("none").Inc()
		if h.Sink != nil {
			h.Sink.Notify(r.Context(), q.Name, q.Code)
		}
		writeJSON(w, http.StatusNotFound, apiError{
			Error:       "city not found",
			Code:        http.StatusNotFound,
			Suggestions: resolve.Suggest(s, q.Name, maxSuggestions),
		})
		return
	}
	if err != nil {
		h.Logger.Error("resolving city", "error", err, "request_id", requestIDFrom(r.Context()))
		writeError(w, http.StatusInternalServerError, "failed to resolve city")
		return
	}
	h.Metrics.Resolutions.WithLabelValues(string(m.Method)).Inc()

	buckets := rainfall.Aggregate(m.City.Daily, mode, window)
	resp := monthlyResponse{
		City:      m.City.Name,
		State:     m.City.State,
		Latitude:  m.City.Latitude,
		Longitude: m.City.Longitude,
		Code:      m.City.Code,
		Match:     string(m.Method),
	}
	if m.Method == resolve.MethodNearest {
		d := m.DistanceKm
		resp.DistanceKm = &d
	}

	switch mode {
	case rainfall.Sum:
		items := make([]totalMonth, 0, len(buckets))
		for _, b := range buckets {
			items = append(items, totalMonth{Month: b.Month, MonthAbbrev: b.Abbrev, YearMonth: b.YearMonth, Total: b.Value, Days: b.Days})
		}
		resp.Monthly = items
	default:
		items := make([]meanMonth, 0, len(buckets))
		for _, b := range buckets {
			items = append(items, meanMonth{Month: b.Month, MonthAbbrev: b.Abbrev, YearMonth: b.YearMonth, Mean: b.Value, Days: b.Days})
		}
		resp.Monthly = items
	}

	writeJSON(w, http.StatusOK, resp)
}

// AutocompleteCities handles GET /api/v1/cities/autocomplete
func (h *Handlers) AutocompleteCities(w http.ResponseWriter, r *http.Request) {
	h.Metrics.AutocompleteRequests.Inc()

	names, err := resolve.Autocomplete(h.Datasets.Store(), r.URL.Query().Get("q"), h.Autocomplete)
	if errors.Is(err, resolve.ErrPrefixTooShort) {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("query must be at least %d characters", h.Autocomplete.MinLength))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "autocomplete failed")
		return
	}

	writeJSON(w, http.StatusOK, names)
}

// GetCity handles GET /api/v1/cities/{name}
func (h *Handlers) GetCity(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.PathValue("name"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "city name is required")
		return
	}

	c, ok := h.Datasets.Store().ByName(name)
	if !ok {
		writeError(w, http.StatusNotFound, "city not found")
		return
	}

	writeJSON(w, http.StatusOK, cityToMap(c))
}

// ListUnresolved handles GET /api/v1/unresolved
func (h *Handlers) ListUnresolved(w http.ResponseWriter, r *http.Request) {
	if h.Log == nil {
		writeError(w, http.StatusServiceUnavailable, "unresolved log is not configured")
		return
	}

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	entries, err := h.Log.GetUnresolved(r.Context(), limit)
	if err != nil {
		h.Logger.Error("reading unresolved log", "error", err, "request_id", requestIDFrom(r.Context()))
		writeError(w, http.StatusInternalServerError, "failed to read unresolved log")
		return
	}

	type entryResponse struct {
		ID        int64     `json:"id"`
		Name      *string   `json:"name"`
		Code      *string   `json:"code"`
		Timestamp time.Time `json:"timestamp"`
	}
	result := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		result = append(result, entryResponse{
			ID:        e.ID,
			Name:      nullable(e.Name),
			Code:      nullable(e.Code),
			Timestamp: e.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, result)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Health handles GET /api/v1/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	type sourceError struct {
		Source string `json:"source"`
		Error  string `json:"error"`
	}
	type datasetHealth struct {
		Cities   int           `json:"cities"`
		Sources  []string      `json:"sources"`
		Errors   []sourceError `json:"errors,omitempty"`
		LoadedAt time.Time     `json:"loaded_at"`
	}
	type storageHealth struct {
		Driver  string `json:"driver"`
		Status  string `json:"status"`
		Entries int    `json:"unresolved_entries"`
	}
	type healthResponse struct {
		Status  string        `json:"status"`
		Version string        `json:"version"`
		Uptime  string        `json:"uptime"`
		Dataset datasetHealth `json:"dataset"`
		Storage storageHealth `json:"storage"`
	}

	s := h.Datasets.Store()
	resp := healthResponse{
		Status:  "ok",
		Version: h.Version,
		Uptime:  formatUptime(time.Since(h.StartTime)),
		Dataset: datasetHealth{
			Cities:   s.Len(),
			Sources:  s.Sources(),
			LoadedAt: s.LoadedAt(),
		},
		Storage: storageHealth{Driver: h.StorageDriver, Status: "ok"},
	}
	if resp.Dataset.Sources == nil {
		resp.Dataset.Sources = []string{}
	}
	for _, se := range s.Errors() {
		resp.Dataset.Errors = append(resp.Dataset.Errors, sourceError{Source: se.Source, Error: se.Err.Error()})
	}
	if s.Len() == 0 {
		resp.Status = "degraded"
	}

	if h.Log != nil {
		n, err := h.Log.CountUnresolved(r.Context())
		if err != nil {
			resp.Storage.Status = "error"
			resp.Status = "degraded"
		} else {
			resp.Storage.Entries = n
		}
	} else {
		resp.Storage.Status = "disabled"
	}

	writeJSON(w, http.StatusOK, resp)
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

// cityToMap converts a City to a map with snake_case keys for JSON responses.
// The daily series is summarized rather than returned whole.
func cityToMap(c *dataset.City) map[string]any {
	var first, last string
	for d := range c.Daily {
		if first == "" || d < first {
			first = d
		}
		if last == "" || d > last {
			last = d
		}
	}
	return map[string]any{
		"name":       c.Name,
		"code":       c.Code,
		"state":      c.State,
		"latitude":   c.Latitude,
		"longitude":  c.Longitude,
		"days":       len(c.Daily),
		"first_date": first,
		"last_date":  last,
	}
}
