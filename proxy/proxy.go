// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"sentryvolt/sidecar/analyzer"
	"sentryvolt/sidecar/cost"
	"sentryvolt/sidecar/events"
	"sentryvolt/sidecar/metrics"
	"sentryvolt/sidecar/shared/logger"
	"sentryvolt/sidecar/tools"
)

// AgentHeader identifies the calling agent on inbound requests.
const AgentHeader = "x-sv-agent"

// Response annotation headers.
const (
	HeaderBudgetStatus = "X-SV-Budget-Status"
	HeaderThreat       = "X-SV-Threat"
)

// Options tunes one proxy instance. Zero values get sensible defaults
// from New.
type Options struct {
	DefaultAgent    string
	BlockMode       bool
	ScanRequests    bool
	ScanResponses   bool
	StoreText       bool
	TeeCapBytes     int64
	UpstreamTimeout time.Duration
}

// Proxy is the forwarding handler. It holds no per-request state; all
// shared resources are injected at construction.
type Proxy struct {
	opts     Options
	analyzer *analyzer.Analyzer
	engine   *tools.Engine
	guardian *cost.Guardian
	recorder *cost.Recorder
	events   *events.Repository
	writer   *Writer
	client   *http.Client
	log      *logger.Logger

	requests atomic.Int64
	blocked  atomic.Int64
}

// New wires a proxy over its collaborators.
func New(opts Options, az *analyzer.Analyzer, engine *tools.Engine, guardian *cost.Guardian,
	recorder *cost.Recorder, eventRepo *events.Repository, writer *Writer) *Proxy {
	if opts.DefaultAgent == "" {
		opts.DefaultAgent = "default"
	}
	if opts.TeeCapBytes <= 0 {
		opts.TeeCapBytes = 2 << 20
	}
	if opts.UpstreamTimeout <= 0 {
		opts.UpstreamTimeout = 5 * time.Minute
	}
	return &Proxy{
		opts:     opts,
		analyzer: az,
		engine:   engine,
		guardian: guardian,
		recorder: recorder,
		events:   eventRepo,
		writer:   writer,
		client: &http.Client{
			Timeout: opts.UpstreamTimeout,
			// Redirect targets would bypass credential substitution.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		log: logger.New("llm-proxy"),
	}
}

// RequestCount reports how many requests this instance has handled.
func (p *Proxy) RequestCount() int64 { return p.requests.Load() }

// BlockedCount reports how many requests were blocked locally.
func (p *Proxy) BlockedCount() int64 { return p.blocked.Load() }

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.requests.Add(1)
	requestID := uuid.NewString()

	prefix, rest := splitProviderPath(r.URL.Path)
	provider, ok := LookupProvider(prefix)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_provider",
			fmt.Sprintf("no provider registered for prefix %q", prefix), "")
		return
	}
	if provider.BaseURL == "" {
		writeError(w, http.StatusBadGateway, "provider_unconfigured",
			fmt.Sprintf("provider %s has no upstream base URL", provider.Name),
			"set SV_"+strings.ToUpper(provider.Name)+"_BASE_URL")
		return
	}

	agentID := r.Header.Get(AgentHeader)
	if agentID == "" {
		agentID = p.opts.DefaultAgent
	}

	// Budget gate before any upstream contact.
	decision := p.guardian.Check(r.Context(), agentID)
	switch decision.Verdict {
	case cost.VerdictDeny:
		p.blocked.Add(1)
		metrics.ProxyRequests.WithLabelValues(provider.Name, "budget_blocked").Inc()
		w.Header().Set(HeaderBudgetStatus, "block")
		w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfterSeconds))
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"error": map[string]interface{}{
				"kind":    "budget_exceeded",
				"message": decision.Message,
				"detail": map[string]interface{}{
					"scope":         decision.Scope,
					"day_total_usd": decision.DayTotalUSD,
					"limit_usd":     decision.LimitUSD,
				},
			},
		})
		p.persistBudgetEvent(agentID, requestID, provider.Name, decision)
		return
	case cost.VerdictWarn:
		w.Header().Set(HeaderBudgetStatus, "warn")
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 32<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "body_read_failed", "failed to read request body", err.Error())
		return
	}
	r.Body.Close()

	threatHeader := "none"
	if p.opts.ScanRequests {
		if content := ExtractUserContent(provider.Dialect, body); content != "" {
			res, err := p.analyzer.Analyze(r.Context(), content)
			if err != nil {
				p.log.Errorf(agentID, requestID, "Request analysis failed", err, nil)
			} else if res.IsThreat {
				threatHeader = "matched"
				p.persistAnalysisEvent(agentID, requestID, provider.Name, "proxy-request", content, res)
				if p.opts.BlockMode {
					p.blocked.Add(1)
					metrics.ProxyRequests.WithLabelValues(provider.Name, "threat_blocked").Inc()
					metrics.ThreatsDetected.WithLabelValues(res.ThreatType, "proxy-request").Inc()
					w.Header().Set(HeaderThreat, "blocked")
					writeJSON(w, http.StatusForbidden, map[string]interface{}{
						"error": map[string]interface{}{
							"kind":    "threat_blocked",
							"message": fmt.Sprintf("request blocked: %s detected (risk %d)", res.ThreatType, res.RiskScore),
							"detail":  res.MatchedRules,
						},
					})
					return
				}
			}
		}
	}

	upstream, err := p.buildUpstreamRequest(r, provider, rest, body)
	if err != nil {
		writeError(w, http.StatusBadGateway, "upstream_request_failed", "failed to build upstream request", err.Error())
		return
	}

	resp, err := p.client.Do(upstream)
	if err != nil {
		if r.Context().Err() != nil {
			// client went away; nothing to answer
			return
		}
		metrics.ProxyRequests.WithLabelValues(provider.Name, "upstream_error").Inc()
		writeError(w, http.StatusBadGateway, "upstream_unreachable",
			fmt.Sprintf("failed to reach %s upstream", provider.Name), err.Error())
		p.persistUpstreamErrorEvent(agentID, requestID, provider.Name, err.Error(), 0)
		return
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	w.Header().Set(HeaderThreat, threatHeader)
	upstreamReqID := resp.Header.Get("x-request-id")

	// Non-streamed 2xx bodies can be inspected before anything is sent,
	// so block-mode can still suppress a threatening response.
	streaming := strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream")
	if !streaming && p.opts.ScanResponses && p.opts.BlockMode &&
		resp.StatusCode >= 200 && resp.StatusCode < 300 {
		p.relayBuffered(w, r, resp, provider, agentID, requestID, upstreamReqID)
		return
	}

	w.WriteHeader(resp.StatusCode)
	captured := p.relayStream(w, resp.Body)

	metrics.ProxyRequests.WithLabelValues(provider.Name, "forwarded").Inc()
	p.schedulePostCall(provider, agentID, requestID, upstreamReqID, resp.StatusCode, captured, r.Context().Err() != nil)
}

// relayBuffered reads the whole upstream body, analyzes it, and either
// forwards it unchanged or substitutes a block body.
func (p *Proxy) relayBuffered(w http.ResponseWriter, r *http.Request, resp *http.Response,
	provider Provider, agentID, requestID, upstreamReqID string) {

	body, err := io.ReadAll(io.LimitReader(resp.Body, p.opts.TeeCapBytes+1))
	if err != nil {
		writeError(w, http.StatusBadGateway, "upstream_read_failed", "failed to read upstream response", err.Error())
		return
	}

	overCap := int64(len(body)) > p.opts.TeeCapBytes
	if !overCap {
		if res, err := p.analyzer.Analyze(r.Context(), string(body)); err == nil && res.IsThreat {
			p.blocked.Add(1)
			w.Header().Set(HeaderThreat, "blocked")
			w.Header().Del("Content-Length")
			writeJSON(w, http.StatusForbidden, map[string]interface{}{
				"error": map[string]interface{}{
					"kind":    "threat_blocked",
					"message": fmt.Sprintf("response blocked: %s detected (risk %d)", res.ThreatType, res.RiskScore),
					"detail":  res.MatchedRules,
				},
			})
			p.persistAnalysisEvent(agentID, requestID, provider.Name, "proxy-response", string(body), res)
			// tokens were still consumed upstream
			p.scheduleCost(provider.Name, agentID, upstreamReqID, body)
			return
		}
	}

	w.WriteHeader(resp.StatusCode)
	w.Write(body)

	// Exceeding the cap drops the capture, never response bytes: the
	// remainder still streams through to the client.
	captured := body
	if overCap {
		captured = nil
		io.Copy(w, resp.Body)
	}
	p.schedulePostCall(provider, agentID, requestID, upstreamReqID, resp.StatusCode, captured, false)
}

// relayStream copies upstream bytes to the client in arrival order,
// teeing into a capped buffer. Returns the capture, or nil if the cap
// was exceeded.
func (p *Proxy) relayStream(w http.ResponseWriter, body io.Reader) []byte {
	flusher, _ := w.(http.Flusher)
	var capture bytes.Buffer
	dropped := false

	buf := make([]byte, 32*1024)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return nil
			}
			if flusher != nil {
				flusher.Flush()
			}
			if !dropped {
				if int64(capture.Len()+n) > p.opts.TeeCapBytes {
					dropped = true
					capture.Reset()
				} else {
					capture.Write(buf[:n])
				}
			}
		}
		if err != nil {
			break
		}
	}
	if dropped {
		return nil
	}
	return capture.Bytes()
}

// schedulePostCall hands event persistence, tool-call evaluation and
// cost recording to the background writer.
func (p *Proxy) schedulePostCall(provider Provider, agentID, requestID, upstreamReqID string,
	status int, captured []byte, cancelled bool) {

	p.scheduleCost(provider.Name, agentID, upstreamReqID, captured)

	// A cancelled request records its partial cost but no completed event.
	if cancelled {
		return
	}

	p.writer.Enqueue(func(ctx context.Context) {
		metadata := map[string]interface{}{
			"provider": provider.Name,
			"status":   status,
		}
		if upstreamReqID != "" {
			metadata["upstream_request_id"] = upstreamReqID
		}

		var res *analyzer.Analysis
		content := string(captured)
		if p.opts.ScanResponses && len(captured) > 0 && status >= 200 && status < 300 {
			var err error
			res, err = p.analyzer.Analyze(ctx, content)
			if err != nil {
				p.log.Errorf(agentID, requestID, "Response analysis failed", err, nil)
				res = nil
			}
		}

		if len(captured) > 0 {
			if decisions := p.engine.EvaluateAll(ctx, tools.ParseToolCalls(captured)); len(decisions) > 0 {
				metadata["tool_decisions"] = decisions
			}
		}
		if status >= 400 {
			metadata["upstream_error"] = true
			if len(captured) > 0 && len(captured) <= 4096 {
				metadata["upstream_body"] = content
			}
		}

		e := events.Event{
			RequestID:     requestID,
			ContentHash:   contentDigest(content),
			ContentLength: len(content),
			Source:        "proxy",
			SessionID:     agentID,
			Metadata:      metadata,
		}
		if p.opts.StoreText {
			e.Content = content
		}
		if res != nil {
			e.IsThreat = res.IsThreat
			e.ThreatType = res.ThreatType
			e.RiskScore = res.RiskScore
			e.Confidence = res.Confidence
			e.MatchedRules = res.MatchedRules
			e.ProcessingMS = res.ProcessingMS
		}
		if err := p.events.Insert(ctx, &e); err != nil {
			p.log.Errorf(agentID, requestID, "Failed to persist event", err, nil)
		}
	})
}

func (p *Proxy) scheduleCost(providerName, agentID, upstreamReqID string, captured []byte) {
	if len(captured) == 0 {
		return
	}
	body := append([]byte(nil), captured...)
	p.writer.Enqueue(func(ctx context.Context) {
		p.recorder.Record(ctx, providerName, agentID, upstreamReqID, body)
	})
}

func (p *Proxy) persistAnalysisEvent(agentID, requestID, providerName, source, content string, res *analyzer.Analysis) {
	stored := ""
	if p.opts.StoreText {
		stored = content
	}
	p.writer.Enqueue(func(ctx context.Context) {
		e := events.Event{
			RequestID:     requestID,
			Content:       stored,
			ContentHash:   contentDigest(content),
			ContentLength: len(content),
			IsThreat:      res.IsThreat,
			ThreatType:    res.ThreatType,
			RiskScore:     res.RiskScore,
			Confidence:    res.Confidence,
			MatchedRules:  res.MatchedRules,
			Source:        source,
			SessionID:     agentID,
			ProcessingMS:  res.ProcessingMS,
			Metadata:      map[string]interface{}{"provider": providerName},
		}
		if err := p.events.Insert(ctx, &e); err != nil {
			p.log.Errorf(agentID, requestID, "Failed to persist event", err, nil)
		}
	})
}

func (p *Proxy) persistBudgetEvent(agentID, requestID, providerName string, d cost.Decision) {
	p.writer.Enqueue(func(ctx context.Context) {
		e := events.Event{
			RequestID:   requestID,
			ContentHash: contentDigest(""),
			Source:      "budget",
			SessionID:   agentID,
			ThreatType:  "none",
			Metadata: map[string]interface{}{
				"provider":      providerName,
				"budget_scope":  d.Scope,
				"day_total_usd": d.DayTotalUSD,
				"limit_usd":     d.LimitUSD,
			},
		}
		if err := p.events.Insert(ctx, &e); err != nil {
			p.log.Errorf(agentID, requestID, "Failed to persist budget event", err, nil)
		}
	})
}

func (p *Proxy) persistUpstreamErrorEvent(agentID, requestID, providerName, detail string, status int) {
	p.writer.Enqueue(func(ctx context.Context) {
		e := events.Event{
			RequestID:   requestID,
			ContentHash: contentDigest(""),
			Source:      "proxy",
			SessionID:   agentID,
			ThreatType:  "none",
			Metadata: map[string]interface{}{
				"provider":       providerName,
				"upstream_error": detail,
				"status":         status,
			},
		}
		if err := p.events.Insert(ctx, &e); err != nil {
			p.log.Errorf(agentID, requestID, "Failed to persist upstream error event", err, nil)
		}
	})
}

func (p *Proxy) buildUpstreamRequest(r *http.Request, provider Provider, rest string, body []byte) (*http.Request, error) {
	target := provider.BaseURL + "/" + rest
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	upstream, err := http.NewRequestWithContext(r.Context(), r.Method, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	copyHeaders(upstream.Header, r.Header)
	// Inbound credentials never reach the upstream; ours do.
	upstream.Header.Del("Authorization")
	upstream.Header.Del(AgentHeader)
	upstream.Header.Del("Host")

	key, err := credential(provider)
	if err != nil {
		return nil, err
	}
	if key != "" && provider.AuthHeader != "" {
		upstream.Header.Set(provider.AuthHeader, fmt.Sprintf(provider.AuthFormat, key))
	}
	upstream.ContentLength = int64(len(body))
	return upstream, nil
}

// hop-by-hop headers per RFC 7230 section 6.1
var hopByHop = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

func copyHeaders(dst, src http.Header) {
	for name, values := range src {
		if hopByHop[http.CanonicalHeaderKey(name)] {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

func contentDigest(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func splitProviderPath(path string) (prefix, rest string) {
	trimmed := strings.TrimPrefix(path, "/")
	if i := strings.Index(trimmed, "/"); i >= 0 {
		return trimmed[:i], trimmed[i+1:]
	}
	return trimmed, ""
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, kind, message, detail string) {
	body := map[string]interface{}{
		"error": map[string]interface{}{
			"kind":    kind,
			"message": message,
		},
	}
	if detail != "" {
		body["error"].(map[string]interface{})["detail"] = detail
	}
	writeJSON(w, status, body)
}
