// Package engine implements the Fulfillment Engine (C7): the per-request
// identity-rotation loop shared by the unary and streaming entry points.
package engine

import (
	"context"
	"time"

	"github.com/antigravity-gateway/rotation-gateway/internal/classify"
	"github.com/antigravity-gateway/rotation-gateway/internal/config"
	"github.com/antigravity-gateway/rotation-gateway/internal/cooldown"
	"github.com/antigravity-gateway/rotation-gateway/internal/gate"
	"github.com/antigravity-gateway/rotation-gateway/internal/identity"
	"github.com/antigravity-gateway/rotation-gateway/internal/ratelimit"
	"github.com/antigravity-gateway/rotation-gateway/internal/store"
	"github.com/antigravity-gateway/rotation-gateway/internal/upstream"
)

// Endpoints names the upstream Code-Assist URLs the engine calls.
type Endpoints struct {
	Generate       string // POST .../v1internal:generateContent
	StreamGenerate string // POST .../v1internal:streamGenerateContent?alt=sse
}

// Engine is the Fulfillment Engine (C7): select -> refresh -> call ->
// classify -> cooldown -> retry, for both unary and streaming callers.
type Engine struct {
	Identities *identity.Manager
	Cooldowns  *cooldown.Registry
	Limiter    *ratelimit.Limiter
	Gate       *gate.Gate
	HTTP       *upstream.Client
	Store      store.Store
	Endpoints  Endpoints

	sleep func(time.Duration)
}

// New builds an Engine from its component dependencies.
func New(ids *identity.Manager, cd *cooldown.Registry, rl *ratelimit.Limiter, g *gate.Gate, httpClient *upstream.Client, st store.Store, endpoints Endpoints) *Engine {
	return &Engine{
		Identities: ids,
		Cooldowns:  cd,
		Limiter:    rl,
		Gate:       g,
		HTTP:       httpClient,
		Store:      st,
		Endpoints:  endpoints,
		sleep:      time.Sleep,
	}
}

// modelFallbackChain is the ordered fallback list: the default model, then
// each configured fallback in turn.
var modelFallbackChain = []string{config.DefaultModel, config.FallbackModel, config.FallbackModelV2}

// resolveModel rewrites a request for the unsupported
// "gemini-3.1-pro-preview" alias to the configured fallback model; an empty
// model falls back to the default.
func resolveModel(requested string) string {
	if requested == "" {
		return config.DefaultModel
	}
	if requested == config.FallbackModelV2 {
		return config.FallbackModel
	}
	return requested
}

// remainingFallbacks returns the models after current in the fallback
// chain, or the whole chain if current is not a member of it.
func remainingFallbacks(current string) []string {
	for i, m := range modelFallbackChain {
		if m == current {
			if i+1 >= len(modelFallbackChain) {
				return nil
			}
			return modelFallbackChain[i+1:]
		}
	}
	return modelFallbackChain
}

// admitCandidate applies the cooldown/probe and rate-limit checks of one
// rotation-loop iteration, plus the inter-identity stagger sleep. It
// returns false if id should be skipped this round.
func (e *Engine) admitCandidate(id identity.Identity, indexInRound int) bool {
	if e.Cooldowns.InCooldown(id.Email) {
		if e.Cooldowns.ShouldProbe(id.Email) {
			e.Cooldowns.RecordProbe(id.Email)
		} else {
			return false
		}
	}
	if !e.Limiter.Consume(id.Email).Allowed {
		return false
	}
	if indexInRound > 0 {
		e.sleep(config.InterIdentityStagger)
	}
	return true
}

// succeedIdentity records the terminal success transition for id: cooldown
// is cleared (the sole healing transition), LastUsedAt and health are
// touched, and durable counters are incremented.
func (e *Engine) succeedIdentity(ctx context.Context, id identity.Identity, tokens int) {
	e.Cooldowns.MarkSuccess(id.Email)
	e.Identities.NotifySuccess(ctx, id)
	_ = e.Store.IncrementAccountStats(ctx, id.Email, store.StatsDelta{Successful: 1, Tokens: int64(tokens)})
}

// failIdentity handles a transport-level exception (token refresh failed, a
// dial or read error): classify the failure message and record a cooldown
// with that category.
func (e *Engine) failIdentity(ctx context.Context, id identity.Identity, message string) {
	category := classify.Classify(message)
	e.markCooldown(ctx, id.Email, category)
	e.Identities.NotifyFailure(id)
}

// markCooldown is the single call site every failure branch in the rotation
// loop (transport exceptions and classified HTTP responses alike) goes
// through: it records the in-memory cooldown and bumps the failure counter,
// and for the categories the registry treats as effectively permanent
// (quota, auth, billing) it also persists the identity as exhausted so the
// Background Reactivator has something to sweep after a process restart.
func (e *Engine) markCooldown(ctx context.Context, email string, category classify.Category) {
	e.Cooldowns.MarkCooldown(email, category)
	_ = e.Store.IncrementAccountStats(ctx, email, store.StatsDelta{Failed: 1})

	switch category {
	case classify.CategoryQuota, classify.CategoryAuth, classify.CategoryBilling:
		now := time.Now()
		active := false
		_ = e.Store.UpdateAccount(ctx, email, store.AccountPatch{Active: &active, ExhaustedAt: &now})
	}
}
