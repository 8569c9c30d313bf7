// Package keycloak fetches users and groups from the source directory's
// admin API, transparently following pagination.
package keycloak

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/acmecorp/people-sync/pkg/httpclient"
	"github.com/acmecorp/people-sync/pkg/model"
)

const DefaultPageSize = 100

var (
	ErrSourceAuth        = errors.New("authentication against source directory failed")
	ErrSourceUnreachable = errors.New("source directory unreachable")
)

type Config struct {
	BaseURL      string        `json:"base_url"`
	Realm        string        `json:"realm"`
	ClientID     string        `json:"client_id"`
	ClientSecret string        `json:"client_secret"`
	Timeout      time.Duration `json:"timeout"`
	PageSize     int           `json:"page_size"`
}

func (c *Config) Validate() error {
	if c.BaseURL == "" || c.Realm == "" || c.ClientID == "" || c.ClientSecret == "" {
		return errors.New("source.base_url, source.realm, source.client_id and source.client_secret are required")
	}

	return nil
}

func (c *Config) adminURL() string {
	return fmt.Sprintf("%s/admin/realms/%s", strings.TrimSuffix(c.BaseURL, "/"), c.Realm)
}

func (c *Config) tokenURL() string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", strings.TrimSuffix(c.BaseURL, "/"), c.Realm)
}

// Client talks to the admin API using the client-credentials grant. Tokens
// are acquired and refreshed by the oauth2 transport; every request goes
// through the retrying caller.
type Client struct {
	cfg    *Config
	caller *httpclient.Caller
	logger zerolog.Logger
}

func New(cfg *Config, logger *zerolog.Logger) *Client {
	clientLogger := logger.With().Str("component", "keycloak").Logger()

	credentials := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.tokenURL(),
	}

	transport := &oauth2.Transport{
		Source: credentials.TokenSource(context.Background()),
		Base:   http.DefaultTransport,
	}

	return &Client{
		cfg:    cfg,
		caller: httpclient.New(&http.Client{Transport: transport}, cfg.Timeout, 0, &clientLogger),
		logger: clientLogger,
	}
}

// FetchUsers returns every user the source serves, in source page order,
// each exactly once. max > 0 truncates the result for test runs without
// changing pagination. A failed page request fails the whole fetch: no
// partial page set is ever returned.
func (c *Client) FetchUsers(ctx context.Context, max int) ([]model.User, error) {
	pageSize := c.cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	var users []model.User

	for first := 0; ; first += pageSize {
		query := url.Values{
			"first": []string{strconv.Itoa(first)},
			"max":   []string{strconv.Itoa(pageSize)},
		}

		var batch []model.User
		if err := c.get(ctx, "/users", query, &batch); err != nil {
			return nil, errors.Wrap(err, "failed to fetch users")
		}

		if len(batch) == 0 {
			break
		}

		users = append(users, batch...)
		c.logger.Debug().Int("batch", len(batch)).Int("total", len(users)).Msg("fetched user page")

		if max > 0 && len(users) >= max {
			users = users[:max]
			break
		}

		if len(batch) < pageSize {
			break
		}
	}

	c.logger.Info().Int("count", len(users)).Msg("fetched users")

	return users, nil
}

// FetchGroups returns all groups of the realm.
func (c *Client) FetchGroups(ctx context.Context) ([]model.Group, error) {
	var groups []model.Group
	if err := c.get(ctx, "/groups", nil, &groups); err != nil {
		return nil, errors.Wrap(err, "failed to fetch groups")
	}

	c.logger.Info().Int("count", len(groups)).Msg("fetched groups")

	return groups, nil
}

// FetchGroupMembers returns the member user IDs of one group, in source
// order.
func (c *Client) FetchGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	var members []model.User
	if err := c.get(ctx, "/groups/"+groupID+"/members", nil, &members); err != nil {
		return nil, errors.Wrapf(err, "failed to fetch members of group %q", groupID)
	}

	ids := make([]string, 0, len(members))
	for _, member := range members {
		ids = append(ids, member.ID)
	}

	return ids, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.cfg.adminURL() + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return err
	}

	req.Header.Set("Accept", "application/json")

	resp, err := c.caller.Do(req)
	if err != nil {
		// keep the cause in the chain so callers can still see a
		// context deadline behind the sentinel
		return fmt.Errorf("%w: %w", ErrSourceUnreachable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errors.Wrapf(ErrSourceAuth, "status %d from %s", resp.StatusCode, path)
	case resp.StatusCode != http.StatusOK:
		return errors.Errorf("unexpected status %d from %s", resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "failed to decode response from %s", path)
	}

	return nil
}
