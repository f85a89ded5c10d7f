package principal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/wisbric/tellerdesk/internal/apierr"
)

// claims are the JWT fields the resolver extracts.
type claims struct {
	Email       string `json:"email"`
	Subject     string `json:"sub"`
	DisplayName string `json:"name"`
}

// WarmupFunc triggers a best-effort, fire-and-forget cache warmup for a
// resolved principal. Supplied by the composition root so this package does
// not import internal/cache directly, avoiding an import cycle.
type WarmupFunc func(customerID, email string)

// Resolver is the Principal Resolver (C1). It verifies bearer tokens against
// the identity provider's JWKS, maps claims to a customer_id via the
// directory, and triggers cache warmup on success.
type Resolver struct {
	verifier  *oidc.IDTokenVerifier
	directory *Directory
	logger    *slog.Logger
	warmup    WarmupFunc
}

// NewResolver builds a Resolver. jwksURL, issuer, and audience come directly
// from config — unlike a discovery-URL flow, the key set is
// fetched from a known JWKS endpoint and cached/refreshed by go-oidc's
// RemoteKeySet according to the response's Cache-Control headers.
func NewResolver(jwksURL, issuer, audience string, directory *Directory, logger *slog.Logger, warmup WarmupFunc) *Resolver {
	keySet := oidc.NewRemoteKeySet(context.Background(), jwksURL)
	verifier := oidc.NewVerifier(issuer, keySet, &oidc.Config{ClientID: audience})

	return &Resolver{
		verifier:  verifier,
		directory: directory,
		logger:    logger,
		warmup:    warmup,
	}
}

// Resolve verifies a raw "Authorization" header value and produces a
// Principal: strip the bearer prefix, verify the token against the IDP's
// JWKS, extract claims, and look up the customer_id in the directory.
func (r *Resolver) Resolve(ctx context.Context, authHeader string) (*Principal, error) {
	token := strings.TrimPrefix(authHeader, "Bearer ")
	token = strings.TrimPrefix(token, "bearer ")
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apierr.New(apierr.Unauthenticated, "missing bearer token")
	}

	verifyCtx, cancel := context.WithTimeout(ctx, jwksRefreshTimeout)
	defer cancel()

	idToken, err := r.verifier.Verify(verifyCtx, token)
	if err != nil {
		return nil, apierr.Wrap(apierr.Unauthenticated, "verifying bearer token", err)
	}

	var c claims
	if err := idToken.Claims(&c); err != nil {
		return nil, apierr.Wrap(apierr.Unauthenticated, "extracting claims", err)
	}
	if c.Email == "" || c.Subject == "" {
		return nil, apierr.New(apierr.Unauthenticated, "token missing required claims")
	}

	entry, ok := r.directory.Lookup(c.Email)
	if !ok {
		return nil, apierr.New(apierr.UnknownCustomer, fmt.Sprintf("no customer registered for %s", c.Email))
	}

	p := &Principal{
		Email:       c.Email,
		SubjectID:   c.Subject,
		DisplayName: firstNonEmpty(c.DisplayName, entry.DisplayName),
		CustomerID:  entry.CustomerID,
	}

	if r.warmup != nil {
		go r.warmup(p.CustomerID, p.Email)
	}

	return p, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// jwksRefreshTimeout bounds the identity key fetch.
const jwksRefreshTimeout = 10 * time.Second
