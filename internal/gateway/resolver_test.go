package gateway

import (
	"context"
	"net/http"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/aibot-search-gateway/internal/domain"
	"github.com/xela07ax/aibot-search-gateway/internal/infra/auth"
)

// tableVerifier отдает claims по значению токена, запоминая последний aud.
type tableVerifier struct {
	tokens      map[string]*domain.IdentityClaims
	err         error
	lastAud     string
	lastChecked string
}

func (v *tableVerifier) Verify(assertion, expectedAudience string) (*domain.IdentityClaims, error) {
	v.lastChecked = assertion
	v.lastAud = expectedAudience
	if v.err != nil {
		return nil, v.err
	}
	if claims, ok := v.tokens[assertion]; ok {
		return claims, nil
	}
	return nil, auth.ErrInvalidAssertion
}

type fakeCounter struct {
	allowed bool
	err     error
	calls   int
	lastID  string
}

func (c *fakeCounter) RecordAndCheck(_ context.Context, identity string, _ time.Duration, _ int) (bool, error) {
	c.calls++
	c.lastID = identity
	return c.allowed, c.err
}

var testPolicies = []IntermediaryPolicy{
	{Pattern: "aibot-logic", VerifyAudience: true, Audience: "client-id-123"},
	{Pattern: "mcp-client-accessor", VerifyAudience: false},
}

func newTestResolver(v *tableVerifier, c *fakeCounter) *Resolver {
	return NewResolver(v, c, testPolicies, time.Minute, 20, zap.NewNop())
}

func TestResolver_DirectUserPassesThrough(t *testing.T) {
	counter := &fakeCounter{allowed: true}
	r := newTestResolver(&tableVerifier{}, counter)

	acting, pol, aerr := r.Resolve(context.Background(), "alice@example.com", "")
	if aerr != nil {
		t.Fatalf("Resolve() error = %v, want nil", aerr)
	}
	if acting != "alice@example.com" {
		t.Errorf("acting = %q, want caller itself", acting)
	}
	if pol != nil {
		t.Error("policy != nil for direct user")
	}
	// Прямой пользователь не тратит бюджет лимитера
	if counter.calls != 0 {
		t.Errorf("counter.calls = %d, want 0", counter.calls)
	}
}

func TestResolver_IntermediaryRequiresToken(t *testing.T) {
	r := newTestResolver(&tableVerifier{}, &fakeCounter{allowed: true})

	_, _, aerr := r.Resolve(context.Background(), "sa-aibot-logic@project.iam", "")
	if aerr == nil {
		t.Fatal("Resolve() error = nil, want missing impersonation error")
	}
	if aerr.Status != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", aerr.Status)
	}
	if aerr.Code != domain.CodeMissingImpersonation {
		t.Errorf("code = %q, want %q", aerr.Code, domain.CodeMissingImpersonation)
	}
}

func TestResolver_LogicIntermediaryVerifiesAudience(t *testing.T) {
	verifier := &tableVerifier{tokens: map[string]*domain.IdentityClaims{
		"obo-token": {Email: "bob@example.com"},
	}}
	counter := &fakeCounter{allowed: true}
	r := newTestResolver(verifier, counter)

	acting, pol, aerr := r.Resolve(context.Background(), "sa-aibot-logic@project.iam", "obo-token")
	if aerr != nil {
		t.Fatalf("Resolve() error = %v, want nil", aerr)
	}
	if acting != "bob@example.com" {
		t.Errorf("acting = %q, want bob@example.com", acting)
	}
	if pol == nil || pol.Pattern != "aibot-logic" {
		t.Errorf("policy = %+v, want aibot-logic", pol)
	}
	if verifier.lastAud != "client-id-123" {
		t.Errorf("verified audience = %q, want client-id-123", verifier.lastAud)
	}
	if counter.lastID != "bob@example.com" {
		t.Errorf("counter saw %q, want acting identity", counter.lastID)
	}
}

func TestResolver_AccessorIntermediarySkipsAudience(t *testing.T) {
	verifier := &tableVerifier{tokens: map[string]*domain.IdentityClaims{
		"obo-token": {Email: "carol@example.com"},
	}}
	r := newTestResolver(verifier, &fakeCounter{allowed: true})

	_, pol, aerr := r.Resolve(context.Background(), "mcp-client-accessor@project.iam", "obo-token")
	if aerr != nil {
		t.Fatalf("Resolve() error = %v, want nil", aerr)
	}
	if pol == nil || pol.Pattern != "mcp-client-accessor" {
		t.Errorf("policy = %+v, want mcp-client-accessor", pol)
	}
	if verifier.lastAud != "" {
		t.Errorf("verified audience = %q, want empty (skipped)", verifier.lastAud)
	}
}

func TestResolver_InvalidTokenRejected(t *testing.T) {
	r := newTestResolver(&tableVerifier{}, &fakeCounter{allowed: true})

	_, _, aerr := r.Resolve(context.Background(), "sa-aibot-logic@project.iam", "bogus")
	if aerr == nil {
		t.Fatal("Resolve() error = nil, want invalid impersonation error")
	}
	if aerr.Status != http.StatusForbidden {
		t.Errorf("status = %d, want 403", aerr.Status)
	}
}

func TestResolver_MissingEmailClaimRejected(t *testing.T) {
	r := newTestResolver(&tableVerifier{err: auth.ErrMissingClaim}, &fakeCounter{allowed: true})

	_, _, aerr := r.Resolve(context.Background(), "sa-aibot-logic@project.iam", "obo-token")
	if aerr == nil {
		t.Fatal("Resolve() error = nil, want missing claim error")
	}
	if aerr.Code != domain.CodeMissingClaim {
		t.Errorf("code = %q, want %q", aerr.Code, domain.CodeMissingClaim)
	}
}

func TestResolver_RateLimitExceeded(t *testing.T) {
	verifier := &tableVerifier{tokens: map[string]*domain.IdentityClaims{
		"obo-token": {Email: "bob@example.com"},
	}}
	r := newTestResolver(verifier, &fakeCounter{allowed: false})

	_, _, aerr := r.Resolve(context.Background(), "sa-aibot-logic@project.iam", "obo-token")
	if aerr == nil {
		t.Fatal("Resolve() error = nil, want rate limit error")
	}
	if aerr.Status != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", aerr.Status)
	}
	if aerr.Message != "Impersonation rate limit exceeded" {
		t.Errorf("message = %q", aerr.Message)
	}
}

func TestResolver_CounterFailureFailsClosed(t *testing.T) {
	verifier := &tableVerifier{tokens: map[string]*domain.IdentityClaims{
		"obo-token": {Email: "bob@example.com"},
	}}
	r := newTestResolver(verifier, &fakeCounter{err: context.DeadlineExceeded})

	_, _, aerr := r.Resolve(context.Background(), "sa-aibot-logic@project.iam", "obo-token")
	if aerr == nil {
		t.Fatal("Resolve() error = nil, want internal error")
	}
	if aerr.Status != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500 (fail closed)", aerr.Status)
	}
}
