// Package auth guards the sync trigger: it verifies inbound bearer tokens
// against the issuer and checks the caller's IAM permission on the service's
// project.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/acmecorp/people-sync/pkg/httpclient"
)

const (
	DefaultTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"
	DefaultIAMURL       = "https://cloudresourcemanager.googleapis.com"
	DefaultPermission   = "run.routes.invoke"
)

// Kind distinguishes the three rejection classes the HTTP boundary cares
// about: 401, 403 and 500.
type Kind string

const (
	KindUnauthenticated Kind = "unauthenticated"
	KindUnauthorized    Kind = "unauthorized"
	KindConfiguration   Kind = "configuration_error"
)

type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Identity is the verified principal behind a bearer token. Token keeps the
// credential the identity was derived from, so the permission check can be
// made on the caller's behalf.
type Identity struct {
	Email  string
	Scopes []string
	Token  string
}

type Config struct {
	Enabled            bool          `json:"enabled"`
	TokenInfoURL       string        `json:"tokeninfo_url"`
	IAMURL             string        `json:"iam_url"`
	RequiredPermission string        `json:"required_permission"`
	ProjectID          string        `json:"project_id"`
	MetadataURL        string        `json:"metadata_url"`
	Timeout            time.Duration `json:"timeout"`
}

// Gate performs the two-step check in front of the sync trigger. The project
// identifier is resolved once at process start and handed in here; the gate
// itself keeps no hidden process-wide state.
type Gate struct {
	cfg     *Config
	project string
	caller  *httpclient.Caller
	logger  zerolog.Logger
}

func NewGate(cfg *Config, project string, logger *zerolog.Logger) *Gate {
	gateLogger := logger.With().Str("component", "auth").Logger()

	return &Gate{
		cfg:     cfg,
		project: project,
		caller:  httpclient.New(&http.Client{}, cfg.Timeout, 0, &gateLogger),
		logger:  gateLogger,
	}
}

func (g *Gate) Enabled() bool {
	return g.cfg.Enabled
}

// Project is the resolved project identifier, or "" when resolution failed
// at startup.
func (g *Gate) Project() string {
	return g.project
}

type tokenInfo struct {
	Email            string `json:"email"`
	Scope            string `json:"scope"`
	ExpiresIn        string `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Verify validates the bearer token against the issuer's tokeninfo endpoint
// and extracts the principal. Any validation failure yields an
// unauthenticated *Error.
func (g *Gate) Verify(ctx context.Context, token string) (*Identity, error) {
	endpoint := g.cfg.TokenInfoURL + "?access_token=" + url.QueryEscape(token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, err
	}

	resp, err := g.caller.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "token verification request failed")
	}
	defer resp.Body.Close()

	var info tokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, &Error{Kind: KindUnauthenticated, Message: "token verification returned an unreadable response"}
	}

	if resp.StatusCode != http.StatusOK || info.Error != "" {
		g.logger.Warn().Int("status", resp.StatusCode).Str("error", info.Error).Msg("token rejected by issuer")
		return nil, &Error{Kind: KindUnauthenticated, Message: "invalid authentication token"}
	}

	if info.Email == "" {
		return nil, &Error{Kind: KindUnauthenticated, Message: "token does not identify a principal"}
	}

	identity := &Identity{Email: info.Email, Token: token}
	if info.Scope != "" {
		identity.Scopes = strings.Fields(info.Scope)
	}

	g.logger.Debug().Str("email", identity.Email).Msg("token verified")

	return identity, nil
}

type testPermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

type testPermissionsResponse struct {
	Permissions []string `json:"permissions"`
}

// CheckPermission asks the authorization backend whether identity holds the
// required permission on the resolved project. A backend failure is a server
// error, not a denial.
func (g *Gate) CheckPermission(ctx context.Context, identity *Identity) (bool, error) {
	endpoint := fmt.Sprintf("%s/v1/projects/%s:testIamPermissions", strings.TrimSuffix(g.cfg.IAMURL, "/"), g.project)

	body, err := json.Marshal(testPermissionsRequest{Permissions: []string{g.cfg.RequiredPermission}})
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(body)))
	if err != nil {
		return false, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+identity.Token)

	resp, err := g.caller.Do(req)
	if err != nil {
		return false, errors.Wrap(err, "permission check request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, errors.Errorf("permission check returned status %d", resp.StatusCode)
	}

	var granted testPermissionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&granted); err != nil {
		return false, errors.Wrap(err, "failed to decode permission check response")
	}

	for _, permission := range granted.Permissions {
		if permission == g.cfg.RequiredPermission {
			g.logger.Debug().Str("email", identity.Email).Msg("permission granted")
			return true, nil
		}
	}

	g.logger.Warn().Str("email", identity.Email).Str("permission", g.cfg.RequiredPermission).Msg("permission denied")

	return false, nil
}

// BearerToken extracts the token from an Authorization header value, or ""
// when the header is absent or not a bearer scheme.
func BearerToken(header string) string {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return parts[1]
}
