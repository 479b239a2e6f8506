package engine

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/antigravity-gateway/rotation-gateway/internal/backoff"
	"github.com/antigravity-gateway/rotation-gateway/internal/classify"
	"github.com/antigravity-gateway/rotation-gateway/internal/config"
	"github.com/antigravity-gateway/rotation-gateway/internal/gate"
	"github.com/antigravity-gateway/rotation-gateway/internal/geminiapi"
	"github.com/antigravity-gateway/rotation-gateway/internal/gwerrors"
	"github.com/antigravity-gateway/rotation-gateway/internal/identity"
	"github.com/antigravity-gateway/rotation-gateway/internal/ssepipe"
	"github.com/antigravity-gateway/rotation-gateway/internal/store"
	"github.com/antigravity-gateway/rotation-gateway/internal/upstream"
)

// StreamGenerate runs the streaming rotation loop in a background goroutine
// and returns two channels: frames delivers parsed upstream SSE frames as
// they arrive, each stamped with the identity that produced it; errs
// receives exactly one value before closing, nil on a clean end-of-stream.
//
// The header-commit trap is enforced here, not by the caller: no frame is
// ever sent until an identity's stream has yielded at least one frame, so
// the caller may safely defer writing its own response headers until the
// first value is available on either channel. Once a frame has been sent,
// the engine has committed to that identity's stream and will not attempt
// another one even if the stream later errors mid-flight.
func (e *Engine) StreamGenerate(ctx context.Context, requestedModel string, req geminiapi.GenerateContentRequest) (<-chan ssepipe.Frame, <-chan error) {
	frames := make(chan ssepipe.Frame, 8)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		defer close(frames)
		model := resolveModel(requestedModel)

		for attempt := 0; attempt < config.MaxAttempts; attempt++ {
			ids, err := e.Identities.GetReadyAccounts(ctx)
			if err != nil {
				errs <- gwerrors.Internal(err)
				return
			}
			if len(ids) == 0 {
				errs <- gwerrors.NoIdentities()
				return
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

				committed, ra, streamErr := e.runStreamAttempt(ctx, model, id, token, req, frames)
				if committed {
					errs <- streamErr
					return
				}
				if ra != "" {
					retryAfter = ra
				}
				if streamErr != nil {
					e.failIdentity(ctx, id, streamErr.Error())
				}
			}

			e.sleep(backoff.ComputeWithRetryAfter(attempt, retryAfter))
		}
		errs <- gwerrors.AllExhausted()
	}()

	return frames, errs
}

// runStreamAttempt opens one streaming call against id/model. If it commits
// (at least one frame was read), it pumps every remaining frame to out and
// returns (true, "", err), err non-nil only for a failure that struck after
// commit (no further rotation is possible at that point). If it never
// commits, any bookkeeping (cooldown, stats) for the attempt has already
// been applied internally, and the caller should move on to the next
// identity; the returned Retry-After value (only meaningful when committed
// is false) feeds the inter-round backoff, and a non-nil, non-committed
// error indicates a transport exception the caller should classify itself.
func (e *Engine) runStreamAttempt(ctx context.Context, model string, id identity.Identity, token string, req geminiapi.GenerateContentRequest, out chan<- ssepipe.Frame) (bool, string, error) {
	streamCtx, cancel := context.WithTimeout(ctx, config.StreamingTimeout)
	defer cancel()

	resp, err := e.openStream(streamCtx, model, id, token, req)
	if err != nil {
		return false, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		bodyText := drainAndRead(resp.Body)
		retryAfter := resp.Header.Get("Retry-After")

		if resp.StatusCode == 429 {
			if fbResp, ok := e.openFallbackStream(streamCtx, model, id, token, req); ok {
				defer fbResp.Body.Close()
				committed, tokens, pumpErr := e.pumpStream(fbResp.Body, id.Email, out)
				if committed {
					if pumpErr == nil {
						e.succeedIdentity(ctx, id, tokens)
					}
					return true, "", pumpErr
				}
				fbBody := drainAndRead(fbResp.Body)
				category := classify.Classify(classify.WithStatus(fbResp.StatusCode, fbBody+bodyText))
				e.markCooldown(ctx, id.Email, category)
				return false, retryAfter, nil
			}
		}

		category := classify.Classify(classify.WithStatus(resp.StatusCode, bodyText))
		e.markCooldown(ctx, id.Email, category)
		return false, retryAfter, nil
	}

	committed, tokens, pumpErr := e.pumpStream(resp.Body, id.Email, out)
	if committed {
		if pumpErr == nil {
			e.succeedIdentity(ctx, id, tokens)
		}
		return true, "", pumpErr
	}

	// 200 status but the body ended without a single frame: not the
	// identity's fault in any classifiable way, but not usable either.
	_ = e.Store.IncrementAccountStats(ctx, id.Email, store.StatsDelta{Failed: 1})
	return false, "", nil
}

// openStream issues the streaming upstream call for model, acquiring the
// concurrency gate only for the duration of establishing the connection
// (headers received), not for the lifetime of the body read.
func (e *Engine) openStream(ctx context.Context, model string, id identity.Identity, token string, req geminiapi.GenerateContentRequest) (*upstream.StreamResponse, error) {
	payload := geminiapi.BuildCloudCodePayload(model, id.ProjectID, req)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	headers := config.UpstreamHeaders(token)

	return gate.Run(ctx, e.Gate, func() (*upstream.StreamResponse, error) {
		return e.HTTP.Stream(ctx, http.MethodPost, e.Endpoints.StreamGenerate, headers, body)
	})
}

// openFallbackStream implements the "before committing headers, open a
// second streaming call to the fallback model" rule: exactly one additional
// attempt, against the next model in the chain, not the whole remaining
// chain (unlike the unary path, which tries the whole chain).
func (e *Engine) openFallbackStream(ctx context.Context, currentModel string, id identity.Identity, token string, req geminiapi.GenerateContentRequest) (*upstream.StreamResponse, bool) {
	chain := remainingFallbacks(currentModel)
	if len(chain) == 0 {
		return nil, false
	}
	resp, err := e.openStream(ctx, chain[0], id, token, req)
	if err != nil {
		return nil, false
	}
	if resp.StatusCode != 200 {
		resp.Body.Close()
		return nil, false
	}
	return resp, true
}

// pumpStream reads every SSE frame from body and forwards it to out, each
// frame stamped with identity so the caller can attribute the eventual
// audit row, tracking the latest usage total seen ("latest frame wins" for
// end-of-stream token accounting). committed becomes true the moment the
// first frame is read.
func (e *Engine) pumpStream(body io.ReadCloser, email string, out chan<- ssepipe.Frame) (committed bool, tokens int, err error) {
	scanErr := ssepipe.ScanFrames(body, func(f ssepipe.Frame) error {
		committed = true
		f.Identity = email
		if f.ParseOK && f.Envelope != nil {
			if unwrapped := f.Envelope.Unwrap(); unwrapped.TotalTokens() > 0 {
				tokens = unwrapped.TotalTokens()
			}
		}
		out <- f
		return nil
	})
	return committed, tokens, scanErr
}

func drainAndRead(r io.Reader) string {
	data, _ := io.ReadAll(r)
	return string(data)
}
