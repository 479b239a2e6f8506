package classify

import "testing"

func TestClassifyTotality(t *testing.T) {
	valid := map[Category]bool{
		CategoryQuota: true, CategoryRateLimit: true, CategoryOverloaded: true,
		CategoryAuth: true, CategoryTimeout: true, CategoryModelNotFound: true,
		CategoryFormat: true, CategoryBilling: true, CategoryUnknown: true,
	}
	cases := []string{
		"quota exceeded", "rate limit exceeded", "service is overloaded",
		"invalid_grant", "request timed out", "unknown model requested",
		"invalid request format", "payment required", "something bizarre happened",
		"429 resource_exhausted", "500 internal server error", "",
	}
	for _, in := range cases {
		got := Classify(in)
		if !valid[got] {
			t.Fatalf("Classify(%q) = %q, not in the nine-category set", in, got)
		}
	}
}

func TestClassifyStatusShortcuts(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   Category
	}{
		{429, "quota exceeded for this project", CategoryQuota},
		{429, "please slow down", CategoryRateLimit},
		{401, "unauthenticated", CategoryAuth},
		{403, "forbidden", CategoryAuth},
		{402, "", CategoryBilling},
		{404, "", CategoryModelNotFound},
		{408, "", CategoryTimeout},
		{500, "", CategoryTimeout},
		{502, "", CategoryTimeout},
		{503, "", CategoryTimeout},
		{504, "", CategoryTimeout},
		{521, "", CategoryTimeout},
		{529, "", CategoryTimeout},
	}
	for _, c := range cases {
		got := Classify(WithStatus(c.status, c.body))
		if got != c.want {
			t.Errorf("status %d body %q: got %q want %q", c.status, c.body, got, c.want)
		}
	}
}

func TestClassifyPatternBankPriority(t *testing.T) {
	// "quota exceeded" and "rate limit" together classify as quota.
	if got := Classify("quota exceeded and rate limit hit"); got != CategoryQuota {
		t.Errorf("got %q want %q", got, CategoryQuota)
	}
	// "unknown model" and "quota exceeded" together classify as model_not_found.
	if got := Classify("unknown model requested, quota exceeded"); got != CategoryModelNotFound {
		t.Errorf("got %q want %q", got, CategoryModelNotFound)
	}
}

func TestClassifyPatternBanks(t *testing.T) {
	cases := map[string]Category{
		"resource has been exhausted":       CategoryQuota,
		"RESOURCE_EXHAUSTED":                CategoryQuota,
		"Quota Exceeded":                    CategoryQuota,
		"insufficient_quota":                CategoryQuota,
		"rate_limit hit":                    CategoryRateLimit,
		"too many requests":                 CategoryRateLimit,
		"you exceeded your current quota":   CategoryRateLimit,
		"usage limit reached":               CategoryRateLimit,
		"overloaded_error":                  CategoryOverloaded,
		"server overloaded":                 CategoryOverloaded,
		"service unavailable":               CategoryOverloaded,
		"experiencing high demand":          CategoryOverloaded,
		"invalid_api_key supplied":          CategoryAuth,
		"invalid_grant":                     CategoryAuth,
		"token refresh failed":              CategoryAuth,
		"unauthorized access":               CategoryAuth,
		"forbidden resource":                CategoryAuth,
		"please re-authenticate":            CategoryAuth,
		"request timeout":                   CategoryTimeout,
		"connection timed out":              CategoryTimeout,
		"deadline exceeded":                 CategoryTimeout,
		"stream ended without sending chunks": CategoryTimeout,
		"stop reason: abort":                CategoryTimeout,
		"unknown model gemini-x":            CategoryModelNotFound,
		"models/gemini-x is not found":      CategoryModelNotFound,
		"invalid request format":            CategoryFormat,
		"string should match pattern ^sk-":  CategoryFormat,
		"status: 402":                       CategoryBilling,
		"payment required":                  CategoryBilling,
		"insufficient credits":              CategoryBilling,
		"a totally novel failure":           CategoryUnknown,
	}
	for body, want := range cases {
		if got := Classify(body); got != want {
			t.Errorf("Classify(%q) = %q, want %q", body, got, want)
		}
	}
}

func TestRetryStrategy(t *testing.T) {
	s := Strategy(CategoryFormat)
	if s.ShouldRetry || s.ShouldRotateIdentity {
		t.Errorf("format category must not retry or rotate: %+v", s)
	}
	s = Strategy(CategoryModelNotFound)
	if s.ShouldRetry || s.ShouldRotateIdentity {
		t.Errorf("model_not_found category must not retry or rotate: %+v", s)
	}
	s = Strategy(CategoryAuth)
	if !s.ShouldRotateIdentity {
		t.Errorf("auth category must rotate identity: %+v", s)
	}
	s = Strategy(CategoryRateLimit)
	if !s.ShouldTryFallbackModel {
		t.Errorf("rate_limit category must try fallback model: %+v", s)
	}
}
