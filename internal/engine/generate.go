package engine

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/antigravity-gateway/rotation-gateway/internal/backoff"
	"github.com/antigravity-gateway/rotation-gateway/internal/classify"
	"github.com/antigravity-gateway/rotation-gateway/internal/config"
	"github.com/antigravity-gateway/rotation-gateway/internal/gate"
	"github.com/antigravity-gateway/rotation-gateway/internal/geminiapi"
	"github.com/antigravity-gateway/rotation-gateway/internal/gwerrors"
	"github.com/antigravity-gateway/rotation-gateway/internal/identity"
	"github.com/antigravity-gateway/rotation-gateway/internal/upstream"
)

// Generate runs the unary rotation loop to completion: it tries identities,
// in LRU order, across up to config.MaxAttempts rounds, sleeping a backoff
// delay between rounds, until one returns a non-empty 200 response or every
// identity is exhausted. On success it also returns the email of the
// identity that served the response, for the caller's audit log.
func (e *Engine) Generate(ctx context.Context, requestedModel string, req geminiapi.GenerateContentRequest) (*geminiapi.GenerateContentResponse, string, error) {
	model := resolveModel(requestedModel)

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		ids, err := e.Identities.GetReadyAccounts(ctx)
		if err != nil {
			return nil, "", gwerrors.Internal(err)
		}
		if len(ids) == 0 {
			return nil, "", gwerrors.NoIdentities()
		}

		var retryAfter string
		for i, id := range ids {
			if !e.admitCandidate(id, i) {
				continue
			}

			token, err := e.Identities.EnsureFreshToken(ctx, id)
			if err != nil {
				e.failIdentity(ctx, id, err.Error())
				continue
			}

			result, status, bodyText, ra, callErr := e.callUnary(ctx, model, token, id, req)
			if callErr != nil {
				e.failIdentity(ctx, id, callErr.Error())
				continue
			}

			if status == 200 && result != nil && len(result.Candidates) > 0 {
				e.succeedIdentity(ctx, id, result.TotalTokens())
				return result, id.Email, nil
			}
			if ra != "" {
				retryAfter = ra
			}

			if status == 429 {
				if fb, ok := e.tryFallbackChainUnary(ctx, model, id, token, req); ok {
					e.succeedIdentity(ctx, id, fb.TotalTokens())
					return fb, id.Email, nil
				}
			}

			category := classify.Classify(classify.WithStatus(status, bodyText))
			if status == 200 {
				// 2xx but an unparsable or empty body: not a known classifier pattern, so
				// this always falls through to CategoryUnknown's default retry.
				category = classify.CategoryUnknown
			}
			e.markCooldown(ctx, id.Email, category)
		}

		e.sleep(backoff.ComputeWithRetryAfter(attempt, retryAfter))
	}

	return nil, "", gwerrors.AllExhausted()
}

// callUnary issues one upstream call for model against id, returning the
// unwrapped response on a 200, or the raw status and body text otherwise,
// plus any Retry-After header value the upstream sent.
func (e *Engine) callUnary(ctx context.Context, model, token string, id identity.Identity, req geminiapi.GenerateContentRequest) (*geminiapi.GenerateContentResponse, int, string, string, error) {
	payload := geminiapi.BuildCloudCodePayload(model, id.ProjectID, req)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, "", "", err
	}
	headers := config.UpstreamHeaders(token)

	callCtx, cancel := context.WithTimeout(ctx, config.UnaryTimeout)
	defer cancel()

	resp, err := gate.Run(callCtx, e.Gate, func() (*upstream.Response, error) {
		return e.HTTP.Do(callCtx, http.MethodPost, e.Endpoints.Generate, headers, body)
	})
	if err != nil {
		return nil, 0, "", "", err
	}
	retryAfter := resp.Header.Get("Retry-After")

	if resp.StatusCode != 200 {
		return nil, resp.StatusCode, resp.Text(), retryAfter, nil
	}

	var env geminiapi.EnvelopeResponse
	if err := resp.JSON(&env); err != nil {
		// A 200 with an unparsable body is returned as a plain status and body
		// rather than a transport exception, since the connection itself
		// succeeded; Generate records it as an unknown-category failure.
		return nil, resp.StatusCode, resp.Text(), retryAfter, nil
	}
	return env.Unwrap(), resp.StatusCode, resp.Text(), retryAfter, nil
}

// tryFallbackChainUnary implements the "on a 429, attempt the model-fallback
// chain exactly once" rule: every remaining model in the chain is tried in
// order against the same identity and token, stopping at the first 200.
// The primary call's cooldown is intentionally not recorded when this
// succeeds: a fallback success forgives the primary model's 429 for this
// identity rather than also cooling it down.
func (e *Engine) tryFallbackChainUnary(ctx context.Context, currentModel string, id identity.Identity, token string, req geminiapi.GenerateContentRequest) (*geminiapi.GenerateContentResponse, bool) {
	for _, fbModel := range remainingFallbacks(currentModel) {
		result, status, _, _, err := e.callUnary(ctx, fbModel, token, id, req)
		if err == nil && status == 200 && result != nil {
			return result, true
		}
	}
	return nil, false
}
