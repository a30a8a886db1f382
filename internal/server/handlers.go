package server

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/meriley/lingua-nexus-sub001/internal"
	"github.com/meriley/lingua-nexus-sub001/internal/language"
	"github.com/meriley/lingua-nexus-sub001/internal/nexuserr"
	"github.com/meriley/lingua-nexus-sub001/internal/stream"
)

// translateRequest is the wire shape of the translate endpoints.
// Pointer fields distinguish "absent" from explicit zero values.
type translateRequest struct {
	Text       string `json:"text"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
	Backend    string `json:"backend"`
	Preference string `json:"preference"`

	MaxLatencyMS      *int64 `json:"max_latency_ms"`
	MaxOptimizationMS *int64 `json:"max_optimisation_ms"`
	AllowOptimization *bool  `json:"allow_optimisation"`
}

// toCore converts the wire request, applying defaults. adaptive
// controls whether optimisation is allowed by default.
func (r *translateRequest) toCore(adaptive bool) internal.TranslationRequest {
	req := internal.TranslationRequest{
		Text:        r.Text,
		SourceLang:  r.SourceLang,
		TargetLang:  r.TargetLang,
		BackendHint: r.Backend,
		Preference:  internal.Preference(r.Preference),
	}
	if req.SourceLang == "" {
		req.SourceLang = language.Auto
	}
	if req.Preference == "" {
		req.Preference = internal.PreferenceBalanced
	}

	req.Budgets.MaxLatencyMS = defaultMaxLatencyMS
	if r.MaxLatencyMS != nil {
		req.Budgets.MaxLatencyMS = *r.MaxLatencyMS
	}

	req.Budgets.AllowOptimization = adaptive
	if r.AllowOptimization != nil {
		req.Budgets.AllowOptimization = *r.AllowOptimization
	}

	req.Budgets.MaxOptimizationMS = req.Budgets.MaxLatencyMS / 2
	if r.MaxOptimizationMS != nil {
		req.Budgets.MaxOptimizationMS = *r.MaxOptimizationMS
	}

	return req
}

// translateResponse is the wire shape of a completed translation.
type translateResponse struct {
	TranslatedText      string         `json:"translated_text"`
	DetectedSource      string         `json:"detected_source"`
	QualityGrade        internal.Grade `json:"quality_grade"`
	QualityComposite    float64        `json:"quality_composite"`
	Path                internal.Path  `json:"path"`
	ChunksUsed          int            `json:"chunks_used"`
	OptimizationApplied bool           `json:"optimisation_applied"`
	ProcessingMS        int64          `json:"processing_ms"`
	CacheHit            bool           `json:"cache_hit"`
	Warnings            []int          `json:"warnings,omitempty"`
}

func toWire(res *internal.TranslationResult) translateResponse {
	return translateResponse{
		TranslatedText:      res.Text,
		DetectedSource:      res.DetectedSource,
		QualityGrade:        res.Quality.Grade,
		QualityComposite:    res.Quality.Composite,
		Path:                res.Path,
		ChunksUsed:          res.ChunksUsed,
		OptimizationApplied: res.OptimizationApplied,
		ProcessingMS:        res.ProcessingMS,
		CacheHit:            res.CacheHit,
		Warnings:            res.Warnings,
	}
}

func (s *Server) handleTranslate(c echo.Context) error {
	return s.translate(c, false)
}

func (s *Server) handleTranslateAdaptive(c echo.Context) error {
	return s.translate(c, true)
}

func (s *Server) translate(c echo.Context, adaptive bool) error {
	var wire translateRequest
	if err := c.Bind(&wire); err != nil {
		return s.errorResponse(c, nexuserr.Wrapf(nexuserr.KindInvalidRequest, err, "malformed request body"))
	}

	res, err := s.controller.Translate(c.Request().Context(), wire.toCore(adaptive))
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, toWire(res))
}

// handleTranslateProgressive streams the §4.9 event sequence as one
// JSON object per line.
func (s *Server) handleTranslateProgressive(c echo.Context) error {
	var wire translateRequest
	if err := c.Bind(&wire); err != nil {
		return s.errorResponse(c, nexuserr.Wrapf(nexuserr.KindInvalidRequest, err, "malformed request body"))
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "application/x-ndjson")
	resp.WriteHeader(http.StatusOK)

	ctx := c.Request().Context()
	st := stream.New(16)

	go func() {
		_ = s.controller.TranslateStream(ctx, wire.toCore(true), st)
	}()

	enc := json.NewEncoder(resp)
	for ev := range st.Events() {
		if err := enc.Encode(ev); err != nil {
			// Consumer is gone; the producer observes it via ctx.
			return nil
		}
		resp.Flush()
	}
	return nil
}

func (s *Server) handleListModels(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"models": s.registry.List()})
}

func (s *Server) handleLoadModel(c echo.Context) error {
	name := c.Param("name")
	if err := s.registry.Load(c.Request().Context(), name); err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"name": name, "state": "ready"})
}

func (s *Server) handleUnloadModel(c echo.Context) error {
	name := c.Param("name")
	if err := s.registry.Unload(name); err != nil {
		return s.errorResponse(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleListLanguages(c echo.Context) error {
	out := make(map[string][]string)
	for _, backendName := range s.languages.Backends() {
		out[backendName] = s.languages.ListSupported(backendName)
	}
	return c.JSON(http.StatusOK, map[string]any{"languages": out})
}

func (s *Server) handleListBackendLanguages(c echo.Context) error {
	backendName := c.Param("backend")
	codes := s.languages.ListSupported(backendName)
	if len(codes) == 0 {
		return s.errorResponse(c, nexuserr.New(nexuserr.KindModelNotLoaded, "backend %q has no registered languages", backendName))
	}
	return c.JSON(http.StatusOK, map[string]any{"backend": backendName, "languages": codes})
}
