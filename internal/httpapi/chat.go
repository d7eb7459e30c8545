package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/bindevz/tilsoftai/internal/observability"
	"github.com/bindevz/tilsoftai/internal/planner"
	"github.com/bindevz/tilsoftai/pkg/models"
)

// Execution context headers.
const (
	headerTenantID       = "X-Tenant-Id"
	headerUserID         = "X-User-Id"
	headerRoles          = "X-Roles"
	headerConversationID = "X-Conversation-Id"
	headerCorrelationID  = "X-Correlation-Id"
	headerLanguage       = "X-Language"
)

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	var body apiError
	body.Error.Message = message
	body.Error.Type = errType
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "invalid_request_error", "POST required")
		return
	}

	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "request body must be a chat completion object")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "messages must not be empty")
		return
	}

	execCtx, ok := s.executionContext(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request_error", headerTenantID+" header is required")
		return
	}

	ctx := observability.WithRequestID(r.Context(), execCtx.RequestID)
	ctx = observability.WithCorrelationID(ctx, execCtx.CorrelationID)
	ctx = observability.WithTenantID(ctx, execCtx.TenantID)
	ctx = observability.WithConversationID(ctx, execCtx.ConversationID)
	if s.tracer != nil {
		spanCtx, span := s.tracer.TraceChatTurn(ctx, execCtx.TenantID, execCtx.ConversationID)
		defer span.End()
		ctx = spanCtx
		execCtx.TraceID = observability.GetTraceID(ctx)
	}

	result, err := s.runner.RunTurn(ctx, planner.TurnRequest{
		Messages: req.Messages,
		ExecCtx:  execCtx,
	})
	if err != nil {
		s.logger.Error(ctx, "chat turn failed", "error", err,
			"tenant_id", execCtx.TenantID, "conversation_id", execCtx.ConversationID)
		writeError(w, http.StatusBadGateway, "upstream_error", "the assistant could not complete this turn; please retry")
		return
	}

	model := req.Model
	if model == "" {
		model = s.model
	}
	resp := models.ChatResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []models.ChatChoice{{
			Index:        0,
			FinishReason: "stop",
			Message: models.ChatMessage{
				Role:    models.RoleAssistant,
				Content: result.Content,
			},
		}},
		Usage: result.Usage,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// executionContext builds the immutable per-turn context from headers.
// The tenant is mandatory; roles come from the X-Roles CSV with the
// bearer token as fallback.
func (s *Server) executionContext(r *http.Request) (models.ExecutionContext, bool) {
	tenantID := r.Header.Get(headerTenantID)
	if tenantID == "" {
		return models.ExecutionContext{}, false
	}

	userID := r.Header.Get(headerUserID)
	if userID == "" {
		userID = "anonymous"
	}
	conversationID := r.Header.Get(headerConversationID)
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	correlationID := r.Header.Get(headerCorrelationID)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	roles := s.roles.Resolve(r.Header.Get(headerRoles), r.Header.Get("Authorization"))

	return models.ExecutionContext{
		TenantID:       tenantID,
		UserID:         userID,
		Roles:          roles,
		CorrelationID:  correlationID,
		RequestID:      uuid.NewString(),
		ConversationID: conversationID,
		Language:       r.Header.Get(headerLanguage),
	}, true
}
