package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/llm-dashboard/internal/gateway"
	"github.com/nulpointcorp/llm-dashboard/internal/llm"
	"github.com/nulpointcorp/llm-dashboard/internal/services"
	"github.com/nulpointcorp/llm-dashboard/pkg/apierr"
)

const maxRequestTimeout = 5 * time.Minute

type generateRequest struct {
	llm.GenerationRequest
	// TimeoutMs overrides the default generation timeout.
	TimeoutMs int64 `json:"timeout_ms,omitempty"`
}

type generationResponse struct {
	Text       string `json:"text"`
	TokenCount int    `json:"token_count"`
	Model      string `json:"model"`
	Source     string `json:"source"`
}

type providerStatus struct {
	llm.ProviderHealth
	Status     string `json:"status"`
	Configured bool   `json:"configured"`
}

func (s *Server) handleGenerate(ctx *fasthttp.RequestCtx) {
	var req generateRequest
	if !decode(ctx, &req) {
		return
	}

	timeout := s.timeout
	if req.TimeoutMs > 0 {
		timeout = min(time.Duration(req.TimeoutMs)*time.Millisecond, maxRequestTimeout)
	}

	out, err := s.gen.GenerateDetailed(ctx, req.GenerationRequest, timeout)
	s.respond(ctx, req.Provider, out, err)
}

func (s *Server) handleTranslate(ctx *fasthttp.RequestCtx) {
	var req services.TranslateRequest
	if !decode(ctx, &req) {
		return
	}
	out, err := s.translator.Translate(ctx, req)
	s.respond(ctx, req.Provider, out, err)
}

func (s *Server) handleChat(ctx *fasthttp.RequestCtx) {
	var req services.ChatRequest
	if !decode(ctx, &req) {
		return
	}
	out, err := s.chat.Reply(ctx, req)
	s.respond(ctx, req.Provider, out, err)
}

func (s *Server) handleImprove(ctx *fasthttp.RequestCtx) {
	var req services.ImproveRequest
	if !decode(ctx, &req) {
		return
	}
	out, err := s.improver.Improve(ctx, req)
	s.respond(ctx, req.Provider, out, err)
}

func (s *Server) handleSummarize(ctx *fasthttp.RequestCtx) {
	var req services.SummarizeRequest
	if !decode(ctx, &req) {
		return
	}
	out, err := s.summarizer.Summarize(ctx, req)
	s.respond(ctx, req.Provider, out, err)
}

func (s *Server) handleProviders(ctx *fasthttp.RequestCtx) {
	snaps := s.health.All()
	out := make([]providerStatus, 0, len(snaps))
	for _, h := range snaps {
		out = append(out, s.providerStatus(h))
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{"providers": out})
}

func (s *Server) handleProbe(ctx *fasthttp.RequestCtx) {
	name, _ := ctx.UserValue("name").(string)
	if !llm.IsKnownProvider(name) {
		apierr.WriteNotFound(ctx, "unknown provider")
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, s.providerStatus(s.health.Probe(ctx, name)))
}

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	overall := "ok"
	statuses := make(map[string]string)
	for _, h := range s.health.All() {
		st := h.Status()
		statuses[h.Provider] = st
		if st == "down" && s.isConfigured(h.Provider) {
			overall = "degraded"
		}
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"status":         overall,
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"providers":      statuses,
	})
}

func (s *Server) handleReadiness(ctx *fasthttp.RequestCtx) {
	if s.health.Ready() {
		writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ok"})
		return
	}
	writeJSON(ctx, fasthttp.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
}

func (s *Server) providerStatus(h llm.ProviderHealth) providerStatus {
	return providerStatus{ProviderHealth: h, Status: h.Status(), Configured: s.isConfigured(h.Provider)}
}

func (s *Server) isConfigured(name string) bool {
	return s.configured != nil && s.configured.IsConfigured(name)
}

// respond writes either the result with its X-Cache header or the generic
// error envelope; the structured error only goes to the log.
func (s *Server) respond(ctx *fasthttp.RequestCtx, provider string, out gateway.Outcome, err error) {
	if err != nil {
		status := fasthttp.StatusInternalServerError
		var ge *gateway.GatewayError
		if errors.As(err, &ge) {
			status = ge.HTTPStatus()
		}
		reqID, _ := ctx.UserValue("request_id").(string)
		s.log.Warn("request_failed",
			slog.String("request_id", reqID),
			slog.String("path", string(ctx.Path())),
			slog.String("provider", provider),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
		apierr.WriteStatus(ctx, status)
		return
	}

	switch out.Source {
	case gateway.SourceHit:
		ctx.Response.Header.Set("X-Cache", "HIT")
	case gateway.SourceMiss:
		ctx.Response.Header.Set("X-Cache", "MISS")
	case gateway.SourceShared:
		ctx.Response.Header.Set("X-Cache", "SHARED")
	}

	writeJSON(ctx, fasthttp.StatusOK, generationResponse{
		Text:       out.Result.Text,
		TokenCount: out.Result.TokenCount,
		Model:      out.Result.Model,
		Source:     string(out.Source),
	})
}

func decode(ctx *fasthttp.RequestCtx, v any) bool {
	if err := json.Unmarshal(ctx.PostBody(), v); err != nil {
		apierr.WriteInvalid(ctx, "request body must be valid JSON")
		return false
	}
	return true
}
