package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"keyclaims/pkg/platform/sentinel"
)

var tracer = otel.Tracer("keyclaims/directory")

// HTTPGateway talks to the directory over JSON/HTTP. Each request carries a
// short-lived HS256 bearer token identifying the institution.
type HTTPGateway struct {
	baseURL string
	ispb    string
	secret  []byte
	client  *http.Client
}

// Option configures the HTTPGateway.
type Option func(*HTTPGateway)

// WithHTTPClient overrides the underlying HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(g *HTTPGateway) {
		g.client = c
	}
}

// NewHTTP builds a directory gateway. The timeout bounds every call; a
// timeout is classified the same as a connectivity failure.
func NewHTTP(baseURL, ispb, secret string, timeout time.Duration, opts ...Option) *HTTPGateway {
	g := &HTTPGateway{
		baseURL: baseURL,
		ispb:    ispb,
		secret:  []byte(secret),
		client:  &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CreateOwnershipClaim is part of the directory contract even though
// ownership starts are directory-driven; no transition handler calls it.
func (g *HTTPGateway) CreateOwnershipClaim(ctx context.Context, req ClaimRequest) (*ClaimResult, error) {
	return g.postClaim(ctx, "/claims/ownership", req)
}

func (g *HTTPGateway) CreatePortabilityClaim(ctx context.Context, req ClaimRequest) (*ClaimResult, error) {
	return g.postClaim(ctx, "/claims/portability", req)
}

func (g *HTTPGateway) FinishClaim(ctx context.Context, ref ClaimRef) (*ClaimResult, error) {
	var result ClaimResult
	if err := g.do(ctx, "/claims/"+ref.ClaimID+"/finish", ref, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (g *HTTPGateway) DenyClaim(ctx context.Context, ref ClaimRef) error {
	return g.do(ctx, "/claims/"+ref.ClaimID+"/deny", ref, nil)
}

func (g *HTTPGateway) CancelPortabilityClaim(ctx context.Context, ref ClaimRef) error {
	return g.do(ctx, "/claims/"+ref.ClaimID+"/cancel", ref, nil)
}

func (g *HTTPGateway) RegisterKey(ctx context.Context, req KeyRequest) error {
	return g.do(ctx, "/keys", req, nil)
}

func (g *HTTPGateway) DeleteKey(ctx context.Context, req KeyRequest) error {
	return g.do(ctx, "/keys/delete", req, nil)
}

func (g *HTTPGateway) postClaim(ctx context.Context, path string, req ClaimRequest) (*ClaimResult, error) {
	var result ClaimResult
	if err := g.do(ctx, path, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// do posts the payload and classifies the outcome. Network failures,
// timeouts, and 5xx responses wrap sentinel.ErrUnavailable; 404 and 409 map
// to the business rejection sentinels.
func (g *HTTPGateway) do(ctx context.Context, path string, payload, out any) error {
	ctx, span := tracer.Start(ctx, "directory.call",
		trace.WithAttributes(attribute.String("directory.path", path)))
	defer span.End()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal directory request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build directory request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	token, err := g.bearerToken()
	if err != nil {
		return fmt.Errorf("sign directory token: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("directory %s: %v: %w", path, err, sentinel.ErrUnavailable)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("directory.status", resp.StatusCode))

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("directory %s returned %d: %w", path, resp.StatusCode, sentinel.ErrUnavailable)
	case resp.StatusCode == http.StatusNotFound:
		return ErrClaimNotFound
	case resp.StatusCode == http.StatusConflict:
		return ErrClaimAlreadyResolved
	case resp.StatusCode >= 400:
		return fmt.Errorf("directory %s rejected request: status %d", path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode directory response: %w", err)
		}
	}
	return nil
}

// bearerToken signs a one-minute HS256 token identifying the institution.
func (g *HTTPGateway) bearerToken() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    g.ispb,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
}
