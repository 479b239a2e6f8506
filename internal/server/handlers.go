package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/antigravity-gateway/rotation-gateway/internal/engine"
	"github.com/antigravity-gateway/rotation-gateway/internal/geminiapi"
	"github.com/antigravity-gateway/rotation-gateway/internal/gwerrors"
	"github.com/antigravity-gateway/rotation-gateway/internal/logging"
	"github.com/antigravity-gateway/rotation-gateway/internal/ssepipe"
	"github.com/antigravity-gateway/rotation-gateway/internal/store"
)

type handlers struct {
	eng   *engine.Engine
	store store.Store
}

// handleModelAction dispatches POST /v1beta/models/{model}:{action} to the
// unary or streaming path. Gin's router treats ":" as a param delimiter, so
// the model and action are split out of the single :modelAction segment
// here rather than declared as two route params.
func (h *handlers) handleModelAction(c *gin.Context) {
	model, action, ok := splitModelAction(c.Param("modelAction"))
	if !ok {
		writeError(c, gwerrors.InvalidRequest("malformed model/action path segment"))
		return
	}

	var req geminiapi.GenerateContentRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		writeError(c, gwerrors.InvalidRequest("malformed request body: "+err.Error()))
		return
	}
	if len(req.Contents) == 0 {
		writeError(c, gwerrors.InvalidRequest("contents must be a non-empty array"))
		return
	}

	switch action {
	case "generateContent":
		h.generate(c, model, req)
	case "streamGenerateContent":
		h.streamGenerate(c, model, req)
	default:
		writeError(c, gwerrors.InvalidRequest("unsupported action: "+action))
	}
}

func (h *handlers) generate(c *gin.Context, model string, req geminiapi.GenerateContentRequest) {
	resp, email, err := h.eng.Generate(c.Request.Context(), model, req)
	if err != nil {
		h.logRequest(c, req, "", "", 0, false)
		writeError(c, err)
		return
	}
	h.logRequest(c, req, email, resp.FirstText(), resp.TotalTokens(), true)
	c.JSON(http.StatusOK, resp)
}

func (h *handlers) streamGenerate(c *gin.Context, model string, req geminiapi.GenerateContentRequest) {
	frames, errs := h.eng.StreamGenerate(c.Request.Context(), model, req)

	// Header-commit trap: wait for either the first frame or a pre-commit
	// failure before writing any response headers at all.
	first, frameOK := <-frames
	if !frameOK {
		err := <-errs
		h.logRequest(c, req, "", "", 0, false)
		writeError(c, err)
		return
	}

	writer, err := ssepipe.NewWriter(c.Writer)
	if err != nil {
		h.logRequest(c, req, "", "", 0, false)
		writeError(c, gwerrors.Internal(err))
		return
	}
	writer.SetHeaders()
	c.Status(http.StatusOK)

	var lastText, lastIdentity string
	var lastTokens int
	writeFrame := func(f ssepipe.Frame) {
		if f.Identity != "" {
			lastIdentity = f.Identity
		}
		if f.ParseOK {
			unwrapped := f.Envelope.Unwrap()
			if text := unwrapped.FirstText(); text != "" {
				lastText = text
			}
			if tokens := unwrapped.TotalTokens(); tokens > 0 {
				lastTokens = tokens
			}
			_ = writer.WriteJSON(unwrapped)
		} else {
			_ = writer.WriteRaw(f.Raw)
		}
	}

	writeFrame(first)
	for f := range frames {
		writeFrame(f)
	}
	_ = writer.WriteDone()

	streamErr := <-errs
	h.logRequest(c, req, lastIdentity, lastText, lastTokens, streamErr == nil)
}

// handleHealth reports each pooled identity's cooldown/health status:
// whether it's currently cooling down (C2) and its passively-recovering
// health score, never the strict LRU ordering the rotation loop itself uses.
func (h *handlers) handleHealth(c *gin.Context) {
	ctx := c.Request.Context()
	identities, err := h.eng.Identities.GetReadyAccounts(ctx)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "degraded", "error": err.Error()})
		return
	}

	type identityStatus struct {
		Email       string  `json:"email"`
		InCooldown  bool    `json:"inCooldown"`
		HealthScore float64 `json:"healthScore"`
	}

	statuses := make([]identityStatus, 0, len(identities))
	available := 0
	for _, id := range identities {
		inCooldown := h.eng.Cooldowns.InCooldown(id.Email)
		if !inCooldown {
			available++
		}
		statuses = append(statuses, identityStatus{
			Email:       id.Email,
			InCooldown:  inCooldown,
			HealthScore: h.eng.Identities.HealthScore(id.Email),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"counts": gin.H{
			"total":     len(identities),
			"available": available,
		},
		"identities": statuses,
	})
}

func (h *handlers) logRequest(c *gin.Context, req geminiapi.GenerateContentRequest, identity, responseText string, tokenCount int, success bool) {
	entry := store.RequestLogEntry{
		Identity:          identity,
		Prompt:            firstUserText(req),
		ResponseText:      responseText,
		TokenCount:        tokenCount,
		Success:           success,
		SystemInstruction: systemInstructionText(req),
		Timestamp:         time.Now(),
	}
	if err := h.store.AddRequestLog(c.Request.Context(), entry); err != nil {
		logging.Warn("request log write failed: %v", err)
	}
}

func firstUserText(req geminiapi.GenerateContentRequest) string {
	for _, content := range req.Contents {
		for _, part := range content.Parts {
			if part.Text != "" {
				return part.Text
			}
		}
	}
	return ""
}

func systemInstructionText(req geminiapi.GenerateContentRequest) string {
	if req.SystemInstruction == nil {
		return ""
	}
	parts, ok := req.SystemInstruction["parts"].([]interface{})
	if !ok {
		return ""
	}
	for _, p := range parts {
		pm, ok := p.(map[string]interface{})
		if !ok {
			continue
		}
		if text, ok := pm["text"].(string); ok && text != "" {
			return text
		}
	}
	return ""
}

func splitModelAction(segment string) (model, action string, ok bool) {
	idx := strings.LastIndex(segment, ":")
	if idx < 0 {
		return "", "", false
	}
	return segment[:idx], segment[idx+1:], true
}

func writeError(c *gin.Context, err error) {
	ge, ok := err.(*gwerrors.GatewayError)
	if !ok {
		ge = gwerrors.Internal(err)
	}
	c.JSON(ge.HTTPStatus, gin.H{
		"error": gin.H{
			"code":    ge.HTTPStatus,
			"message": ge.Message,
			"status":  string(ge.Code),
		},
	})
}
