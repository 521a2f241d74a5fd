package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/torii/pkg/agent"
	"github.com/kadirpekel/torii/pkg/apierror"
	"github.com/kadirpekel/torii/pkg/crypto"
	"github.com/kadirpekel/torii/pkg/tools"
)

const executeTimeout = 30 * time.Second

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		s.writeError(w, r, apierror.Wrap(apierror.CodeValidation, "invalid JSON body", err))
		return false
	}
	return true
}

// handleChat runs the agent loop to completion and returns the assembled
// response in one JSON document.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req agent.ChatRequest
	if !s.decode(w, r, &req) {
		return
	}

	started := time.Now()
	bus, err := s.deps.Engine.Execute(r.Context(), &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp, err := agent.Collect(r.Context(), bus)
	s.recordChat(r.Context(), &req, resp, started, err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) recordChat(ctx context.Context, req *agent.ChatRequest, resp *agent.ChatResponse, started time.Time, err error) {
	tokens := 0
	if resp != nil {
		tokens = resp.Metadata.TokensUsed.Total
	}
	s.deps.Obs.Metrics().RecordChatRequest(ctx,
		req.AgentConfig.Provider, req.AgentConfig.Model, time.Since(started), tokens, err)
}

type enhanceRequest struct {
	CurrentPrompt string `json:"current_prompt"`
}

func (s *Server) handleEnhancePrompt(w http.ResponseWriter, r *http.Request) {
	if s.deps.Enhancer == nil {
		s.writeError(w, r, apierror.New(apierror.CodeInvalidProvider, "prompt enhancement provider is not configured"))
		return
	}

	var req enhanceRequest
	if !s.decode(w, r, &req) {
		return
	}

	result, err := s.deps.Enhancer.Enhance(r.Context(), req.CurrentPrompt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type servicesResponse struct {
	Services []tools.ServiceInfo `json:"services"`
	Count    int                 `json:"count"`
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	infos := s.deps.Services.List()
	writeJSON(w, http.StatusOK, servicesResponse{Services: infos, Count: len(infos)})
}

type serviceToolsResponse struct {
	ServiceClass string                 `json:"service_class"`
	Tools        []tools.ToolDescriptor `json:"tools"`
	Count        int                    `json:"count"`
}

func (s *Server) handleServiceTools(w http.ResponseWriter, r *http.Request) {
	class := chi.URLParam(r, "class")
	if !s.deps.Services.Has(class) {
		s.writeError(w, r, apierror.Newf(apierror.CodeNotFound, "unknown service class: %s", class))
		return
	}

	descriptors, err := s.deps.Services.ServiceTools(r.Context(), class)
	if err != nil {
		s.writeError(w, r, apierror.Wrap(apierror.CodeValidation, "failed to list service tools", err))
		return
	}
	writeJSON(w, http.StatusOK, serviceToolsResponse{ServiceClass: class, Tools: descriptors, Count: len(descriptors)})
}

type executeRequest struct {
	ToolName  string                 `json:"tool_name"`
	Arguments map[string]interface{} `json:"arguments"`
	Config    map[string]interface{} `json:"config"`
	Auth      map[string]string      `json:"auth"`
}

type executeResponse struct {
	Success bool   `json:"success"`
	Result  string `json:"result"`
	Error   string `json:"error,omitempty"`
}

// handleExecuteTool invokes a single tool outside the agent loop. Domain
// failures ("エラー:" strings) still return 200 with success=false so the
// caller can show them verbatim.
func (s *Server) handleExecuteTool(w http.ResponseWriter, r *http.Request) {
	class := chi.URLParam(r, "class")
	if !s.deps.Services.Has(class) {
		s.writeError(w, r, apierror.Newf(apierror.CodeNotFound, "unknown service class: %s", class))
		return
	}

	var req executeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.ToolName == "" {
		s.writeError(w, r, apierror.New(apierror.CodeValidation, "tool_name is required"))
		return
	}

	auth, err := s.decryptAuth(req.Auth)
	if err != nil {
		s.writeError(w, r, apierror.Wrap(apierror.CodeValidation, "failed to decrypt credentials", err))
		return
	}

	service, err := s.deps.Services.Instantiate(class, req.Config, auth)
	if err != nil {
		s.writeError(w, r, apierror.Wrap(apierror.CodeValidation, "failed to initialize service", err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), executeTimeout)
	defer cancel()

	if fetcher, ok := service.(tools.Fetcher); ok {
		if err := fetcher.Fetch(ctx); err != nil {
			s.writeError(w, r, apierror.Wrap(apierror.CodeUpstreamUnavailable, "tool server is unreachable", err))
			return
		}
	}

	started := time.Now()
	output, err := service.Call(ctx, req.ToolName, req.Arguments)
	s.deps.Obs.Metrics().RecordToolExecution(r.Context(), req.ToolName, time.Since(started), err)
	if err != nil {
		writeJSON(w, http.StatusOK, executeResponse{Success: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, executeResponse{Success: true, Result: output})
}

func (s *Server) decryptAuth(auth map[string]string) (map[string]string, error) {
	if len(auth) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(auth))
	for name, value := range auth {
		if s.deps.Cipher != nil && crypto.IsEnvelope(value) {
			plain, err := s.deps.Cipher.Decrypt(value)
			if err != nil {
				return nil, err
			}
			value = plain
		}
		out[name] = value
	}
	return out, nil
}

type healthResponse struct {
	Status       string            `json:"status"`
	Service      string            `json:"service"`
	Timestamp    string            `json:"timestamp"`
	Dependencies map[string]string `json:"dependencies"`
	Errors       []string          `json:"errors"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dependencies := make(map[string]string, 3)
	healthy := false
	for _, provider := range []string{"openai", "anthropic", "gemini"} {
		if s.cfg.HasProvider(provider) {
			dependencies[provider] = "ok"
			healthy = true
		} else {
			dependencies[provider] = "not_configured"
		}
	}

	status := "healthy"
	errors := []string{}
	if !healthy {
		status = "unhealthy"
		errors = append(errors, "少なくとも1つのLLM APIキーが必要です")
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:       status,
		Service:      "torii",
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		Dependencies: dependencies,
		Errors:       errors,
	})
}
