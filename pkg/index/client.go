// Package index delivers mapped employee and team records to the people
// index, either as one multi-page bulk upload or one call per record.
package index

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/acmecorp/people-sync/pkg/httpclient"
	"github.com/acmecorp/people-sync/pkg/model"
)

const (
	ModeBulk       = "bulk"
	ModeIndividual = "individual"

	DefaultPageSize = 100

	bulkEmployeesPath = "/api/index/v1/bulkindexemployees"
	bulkTeamsPath     = "/api/index/v1/bulkindexteams"
	employeePath      = "/api/index/v1/indexemployee"
)

type Config struct {
	APIURL               string        `json:"api_url"`
	APIToken             string        `json:"api_token"`
	Datasource           string        `json:"datasource"`
	Timeout              time.Duration `json:"timeout"`
	Mode                 string        `json:"mode"`
	PageSize             int           `json:"page_size"`
	DisableStaleDeletion bool          `json:"disable_stale_deletion"`
}

func (c *Config) Validate() error {
	if c.APIURL == "" || c.APIToken == "" || c.Datasource == "" {
		return errors.New("target.api_url, target.api_token and target.datasource are required")
	}

	if c.Mode != ModeBulk && c.Mode != ModeIndividual {
		return errors.Errorf("target.mode must be %q or %q, got %q", ModeBulk, ModeIndividual, c.Mode)
	}

	return nil
}

// RecordFailure identifies one record that could not be delivered.
type RecordFailure struct {
	Key   string `json:"key"`
	Error string `json:"error"`
}

// DeliveryResult is the per-batch accounting a strategy reports back.
type DeliveryResult struct {
	Total     int             `json:"total"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Failures  []RecordFailure `json:"failures,omitempty"`
}

// Err folds the per-record failures into one error, or nil when every
// record went through.
func (r *DeliveryResult) Err() error {
	var result *multierror.Error

	for _, failure := range r.Failures {
		result = multierror.Append(result, errors.Errorf("%s: %s", failure.Key, failure.Error))
	}

	return result.ErrorOrNil()
}

// Deliverer pushes mapped records to the sink. Implementations are selected
// once, at construction, from configuration.
type Deliverer interface {
	DeliverEmployees(ctx context.Context, employees []model.Employee) (*DeliveryResult, error)
	DeliverTeams(ctx context.Context, teams []model.Team) (*DeliveryResult, error)
}

// NewDeliverer returns the strategy selected by cfg.Mode.
func NewDeliverer(cfg *Config, logger *zerolog.Logger) (Deliverer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := newClient(cfg, logger)

	if cfg.Mode == ModeIndividual {
		return &individualDeliverer{client: client}, nil
	}

	return &bulkDeliverer{client: client}, nil
}

type client struct {
	cfg    *Config
	caller *httpclient.Caller
	logger zerolog.Logger
}

func newClient(cfg *Config, logger *zerolog.Logger) *client {
	clientLogger := logger.With().Str("component", "index").Logger()

	return &client{
		cfg:    cfg,
		caller: httpclient.New(&http.Client{}, cfg.Timeout, 0, &clientLogger),
		logger: clientLogger,
	}
}

func (c *client) pageSize() int {
	return lo.Ternary(c.cfg.PageSize > 0, c.cfg.PageSize, DefaultPageSize)
}

func (c *client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "failed to encode payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(c.cfg.APIURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.caller.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Errorf("target rejected payload with status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	return nil
}

type sessionPage struct {
	UploadID                      string `json:"uploadId"`
	Datasource                    string `json:"datasource"`
	PageIndex                     int    `json:"pageIndex"`
	IsFirstPage                   bool   `json:"isFirstPage"`
	IsLastPage                    bool   `json:"isLastPage"`
	DisableStaleDataDeletionCheck bool   `json:"disableStaleDataDeletionCheck"`
}

type employeesPage struct {
	sessionPage
	Employees []model.Employee `json:"employees"`
}

type teamsPage struct {
	sessionPage
	Teams []model.Team `json:"teams"`
}

func pageEnvelope(meta PageMeta, datasource string) sessionPage {
	return sessionPage{
		UploadID:                      meta.Token,
		Datasource:                    datasource,
		PageIndex:                     meta.Index,
		IsFirstPage:                   meta.First,
		IsLastPage:                    meta.Last,
		DisableStaleDataDeletionCheck: meta.SuppressStaleDeletion,
	}
}

// bulkDeliverer partitions records into pages sharing one upload session and
// sends them in order. A page failing after retries fails the whole
// delivery: partial-commit semantics belong to the target, not the caller.
type bulkDeliverer struct {
	client *client
}

var _ Deliverer = (*bulkDeliverer)(nil)

func (d *bulkDeliverer) DeliverEmployees(ctx context.Context, employees []model.Employee) (*DeliveryResult, error) {
	pages := lo.Chunk(employees, d.client.pageSize())
	session := NewUploadSession(d.client.cfg.DisableStaleDeletion)

	d.client.logger.Info().
		Str("upload_id", session.Token()).
		Int("records", len(employees)).
		Int("pages", len(pages)).
		Msg("starting bulk employee upload")

	for i, page := range pages {
		meta := session.Advance(i == len(pages)-1)

		payload := employeesPage{
			sessionPage: pageEnvelope(meta, d.client.cfg.Datasource),
			Employees:   page,
		}

		if err := d.client.post(ctx, bulkEmployeesPath, payload); err != nil {
			return nil, errors.Wrapf(err, "bulk employee upload %s failed on page %d", session.Token(), meta.Index)
		}
	}

	return &DeliveryResult{Total: len(employees), Succeeded: len(employees)}, nil
}

func (d *bulkDeliverer) DeliverTeams(ctx context.Context, teams []model.Team) (*DeliveryResult, error) {
	return deliverTeamsBulk(ctx, d.client, teams)
}

// individualDeliverer issues one indexing call per employee and keeps going
// past per-record failures, so a batch reports N-of-M rather than
// all-or-nothing.
type individualDeliverer struct {
	client *client
}

var _ Deliverer = (*individualDeliverer)(nil)

func (d *individualDeliverer) DeliverEmployees(ctx context.Context, employees []model.Employee) (*DeliveryResult, error) {
	result := &DeliveryResult{Total: len(employees)}

	for _, employee := range employees {
		payload := struct {
			Datasource string         `json:"datasource"`
			Employee   model.Employee `json:"employee"`
		}{
			Datasource: d.client.cfg.Datasource,
			Employee:   employee,
		}

		if err := d.client.post(ctx, employeePath, payload); err != nil {
			result.Failed++
			result.Failures = append(result.Failures, RecordFailure{Key: employee.Email, Error: err.Error()})
			d.client.logger.Warn().Err(err).Str("email", employee.Email).Msg("failed to index employee")

			continue
		}

		result.Succeeded++
	}

	d.client.logger.Info().
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Msg("individual employee indexing completed")

	return result, nil
}

// The target has no per-record team endpoint, so teams go through the bulk
// upload in either mode.
func (d *individualDeliverer) DeliverTeams(ctx context.Context, teams []model.Team) (*DeliveryResult, error) {
	return deliverTeamsBulk(ctx, d.client, teams)
}

func deliverTeamsBulk(ctx context.Context, c *client, teams []model.Team) (*DeliveryResult, error) {
	pages := lo.Chunk(teams, c.pageSize())
	session := NewUploadSession(c.cfg.DisableStaleDeletion)

	c.logger.Info().
		Str("upload_id", session.Token()).
		Int("records", len(teams)).
		Int("pages", len(pages)).
		Msg("starting bulk team upload")

	for i, page := range pages {
		meta := session.Advance(i == len(pages)-1)

		payload := teamsPage{
			sessionPage: pageEnvelope(meta, c.cfg.Datasource),
			Teams:       page,
		}

		if err := c.post(ctx, bulkTeamsPath, payload); err != nil {
			return nil, errors.Wrapf(err, "bulk team upload %s failed on page %d", session.Token(), meta.Index)
		}
	}

	return &DeliveryResult{Total: len(teams), Succeeded: len(teams)}, nil
}
