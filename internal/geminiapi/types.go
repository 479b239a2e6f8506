// Package geminiapi holds the wire types for the Gemini v1beta completion
// contract this gateway exposes and the Code-Assist envelope it forwards
// to upstream.
//
// Open-ended shapes (parts carrying any of text/functionCall/
// functionResponse/thought, tool schemas) are modeled as
// map[string]interface{} passthrough, keeping named fields for the
// well-known shapes and opaque passthrough for everything else.
package geminiapi

import "encoding/json"

// Part is one entry in a Content's parts list. Only the paths the engine
// documents (text, functionCall) are named; everything else round-trips
// through Extra.
type Part struct {
	Text         string                 `json:"text,omitempty"`
	FunctionCall map[string]interface{} `json:"functionCall,omitempty"`
	Extra        map[string]interface{} `json:"-"`
}

// MarshalJSON flattens Extra alongside the named fields.
func (p Part) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(p.Extra)+2)
	for k, v := range p.Extra {
		m[k] = v
	}
	if p.Text != "" {
		m["text"] = p.Text
	}
	if p.FunctionCall != nil {
		m["functionCall"] = p.FunctionCall
	}
	return json.Marshal(m)
}

// UnmarshalJSON pulls the named fields out and retains the rest as Extra.
func (p *Part) UnmarshalJSON(data []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if v, ok := m["text"].(string); ok {
		p.Text = v
		delete(m, "text")
	}
	if v, ok := m["functionCall"].(map[string]interface{}); ok {
		p.FunctionCall = v
		delete(m, "functionCall")
	}
	p.Extra = m
	return nil
}

// Content is one turn of the conversation.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// GenerateContentRequest is the inbound body for both the unary and
// streaming endpoints.
type GenerateContentRequest struct {
	Contents          []Content              `json:"contents"`
	GenerationConfig  map[string]interface{} `json:"generationConfig,omitempty"`
	SystemInstruction map[string]interface{} `json:"systemInstruction,omitempty"`
	Tools             []map[string]interface{} `json:"tools,omitempty"`
	ToolConfig        map[string]interface{} `json:"toolConfig,omitempty"`
	ToolConfigLegacy  map[string]interface{} `json:"tool_config,omitempty"`
}

// Normalize coalesces the legacy tool_config alias into toolConfig and
// assigns a default role of "user" to every content entry missing one.
func (r *GenerateContentRequest) Normalize() {
	if r.ToolConfig == nil && r.ToolConfigLegacy != nil {
		r.ToolConfig = r.ToolConfigLegacy
	}
	r.ToolConfigLegacy = nil
	for i := range r.Contents {
		if r.Contents[i].Role == "" {
			r.Contents[i].Role = "user"
		}
	}
}

// UsageMetadata carries token accounting.
type UsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount int `json:"candidatesTokenCount,omitempty"`
	TotalTokenCount      int `json:"totalTokenCount,omitempty"`
}

// Candidate is one generated response candidate.
type Candidate struct {
	Content      Content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

// GenerateContentResponse is the unwrapped downstream response shape:
// {candidates, usageMetadata?}.
type GenerateContentResponse struct {
	Candidates    []Candidate    `json:"candidates"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
}

// EnvelopeResponse is the wrapped shape the upstream may use:
// {response:{candidates,usageMetadata?}, usageMetadata?}.
type EnvelopeResponse struct {
	Response      *GenerateContentResponse `json:"response,omitempty"`
	Candidates    []Candidate              `json:"candidates,omitempty"`
	UsageMetadata *UsageMetadata           `json:"usageMetadata,omitempty"`
}

// Unwrap normalizes either shape into the plain GenerateContentResponse form,
// merging any outer usageMetadata into the inner object when both frame
// shapes carry one (the inner one wins on conflict, since it corresponds to
// the wrapped response's own most current field).
func (e *EnvelopeResponse) Unwrap() *GenerateContentResponse {
	if e.Response != nil {
		out := *e.Response
		if out.UsageMetadata == nil {
			out.UsageMetadata = e.UsageMetadata
		}
		return &out
	}
	return &GenerateContentResponse{Candidates: e.Candidates, UsageMetadata: e.UsageMetadata}
}

// FirstText returns the text of the first text-bearing part of the first
// candidate, or "" if none, used for the audit log's response text.
func (r *GenerateContentResponse) FirstText() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	for _, p := range r.Candidates[0].Content.Parts {
		if p.Text != "" {
			return p.Text
		}
	}
	return ""
}

// TotalTokens returns the usage total, or 0 if absent.
func (r *GenerateContentResponse) TotalTokens() int {
	if r.UsageMetadata == nil {
		return 0
	}
	return r.UsageMetadata.TotalTokenCount
}

// CloudCodePayload is the envelope the upstream Code-Assist endpoint
// expects: {model, project, user_prompt_id, request}.
type CloudCodePayload struct {
	Model        string                 `json:"model"`
	Project      string                 `json:"project"`
	UserPromptID string                 `json:"user_prompt_id"`
	Request      GenerateContentRequest `json:"request"`
}

// BuildCloudCodePayload assembles the upstream envelope for one call, with
// only the Gemini-native fields this gateway forwards (no format
// conversion).
func BuildCloudCodePayload(model, projectID string, req GenerateContentRequest) CloudCodePayload {
	req.Normalize()
	return CloudCodePayload{
		Model:        model,
		Project:      projectID,
		UserPromptID: "default-prompt",
		Request:      req,
	}
}
