// Package sync runs the fetch→transform→deliver pipeline for users and
// groups and reports a per-run summary.
package sync

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/acmecorp/people-sync/pkg/index"
	"github.com/acmecorp/people-sync/pkg/model"
	"github.com/acmecorp/people-sync/pkg/transform"
)

// ErrRunInProgress is returned when a run is requested while another one is
// active. Runs are never queued.
var ErrRunInProgress = errors.New("a sync run is already in progress")

// Source yields the directory records of one realm. Implementations page
// through the upstream internally; a returned slice is always complete.
type Source interface {
	FetchUsers(ctx context.Context, max int) ([]model.User, error)
	FetchGroups(ctx context.Context) ([]model.Group, error)
	FetchGroupMembers(ctx context.Context, groupID string) ([]string, error)
}

// State of the pipeline. Failed is terminal and reachable from any fetching
// or delivering state.
type State string

const (
	StateIdle             State = "idle"
	StateFetchingUsers    State = "fetching_users"
	StateMappingUsers     State = "mapping_users"
	StateDeliveringUsers  State = "delivering_users"
	StateFetchingGroups   State = "fetching_groups"
	StateMappingGroups    State = "mapping_groups"
	StateDeliveringGroups State = "delivering_groups"
	StateCompleted        State = "completed"
	StateFailed           State = "failed"
)

// Error kinds surfaced in the run summary and at the HTTP boundary.
const (
	ErrorKindFetch    = "fetch_error"
	ErrorKindDelivery = "delivery_error"
	ErrorKindTimeout  = "timeout_error"
)

type Config struct {
	DryRun     bool          `json:"dry_run"`
	RunTimeout time.Duration `json:"run_timeout"`
	MaxUsers   int           `json:"max_users"`
}

type EntityStats struct {
	Fetched   int `json:"fetched"`
	Mapped    int `json:"mapped"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Summary is the final accounting of one run.
type Summary struct {
	Status          string      `json:"status"`
	TriggeredBy     string      `json:"triggeredBy,omitempty"`
	DryRun          bool        `json:"dryRun,omitempty"`
	StartTime       time.Time   `json:"startTime"`
	EndTime         time.Time   `json:"endTime"`
	DurationSeconds float64     `json:"durationSeconds"`
	Users           EntityStats `json:"users"`
	Groups          EntityStats `json:"groups"`
	Error           *ErrorInfo  `json:"error,omitempty"`
}

// Orchestrator composes source, mapper and delivery strategy into one
// sequential pipeline. At most one run is active per process.
type Orchestrator struct {
	source    Source
	deliverer index.Deliverer
	cfg       *Config
	logger    zerolog.Logger

	runMu   sync.Mutex
	stateMu sync.RWMutex
	state   State
}

func New(source Source, deliverer index.Deliverer, cfg *Config, logger *zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		source:    source,
		deliverer: deliverer,
		cfg:       cfg,
		logger:    logger.With().Str("component", "sync").Logger(),
		state:     StateIdle,
	}
}

// State reports the current pipeline state.
func (o *Orchestrator) State() State {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()

	return o.state
}

func (o *Orchestrator) setState(state State) {
	o.stateMu.Lock()
	o.state = state
	o.stateMu.Unlock()
}

// Run executes one full sync. A second call while a run is active returns
// ErrRunInProgress without starting anything. Fatal pipeline errors are
// reported inside the summary, not as a second return value.
func (o *Orchestrator) Run(ctx context.Context, triggeredBy string) (*Summary, error) {
	if !o.runMu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer o.runMu.Unlock()

	if o.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.RunTimeout)
		defer cancel()
	}

	summary := &Summary{
		Status:      "success",
		TriggeredBy: triggeredBy,
		DryRun:      o.cfg.DryRun,
		StartTime:   time.Now().UTC(),
	}

	o.logger.Info().
		Str("triggered_by", triggeredBy).
		Bool("dry_run", o.cfg.DryRun).
		Msg("starting sync run")

	emailByID, err := o.syncUsers(ctx, summary)
	if err == nil {
		err = o.syncGroups(ctx, summary, emailByID)
	}

	if err != nil {
		o.setState(StateFailed)
		summary.Status = "error"
		summary.Error = &ErrorInfo{Kind: classify(err), Message: err.Error()}
		o.logger.Error().Err(err).Msg("sync run failed")
	} else {
		o.setState(StateCompleted)
	}

	summary.EndTime = time.Now().UTC()
	summary.DurationSeconds = summary.EndTime.Sub(summary.StartTime).Seconds()

	o.logger.Info().
		Str("status", summary.Status).
		Int("users_delivered", summary.Users.Delivered).
		Int("groups_delivered", summary.Groups.Delivered).
		Float64("duration_seconds", summary.DurationSeconds).
		Msg("sync run finished")

	return summary, nil
}

// syncUsers runs the user pipeline and returns the id→email map the group
// stage resolves members with. Mapping failures skip the record; fetch and
// delivery failures abort the run.
func (o *Orchestrator) syncUsers(ctx context.Context, summary *Summary) (map[string]string, error) {
	o.setState(StateFetchingUsers)

	users, err := o.source.FetchUsers(ctx, o.cfg.MaxUsers)
	if err != nil {
		return nil, fatal(ErrorKindFetch, errors.Wrap(err, "user fetch failed"))
	}

	summary.Users.Fetched = len(users)

	if len(users) == 0 {
		o.logger.Warn().Msg("no users found in source directory")
		return map[string]string{}, nil
	}

	o.setState(StateMappingUsers)

	employees := make([]model.Employee, 0, len(users))
	emailByID := make(map[string]string, len(users))

	for _, user := range users {
		if user.Email != "" {
			emailByID[user.ID] = user.Email
		}

		employee, err := transform.MapUser(user)
		if err != nil {
			summary.Users.Failed++
			o.logger.Warn().Err(err).Str("id", user.ID).Msg("skipping unmappable user")

			continue
		}

		employees = append(employees, employee)
	}

	summary.Users.Mapped = len(employees)

	o.setState(StateDeliveringUsers)

	if len(employees) > 0 {
		result, err := o.deliverer.DeliverEmployees(ctx, employees)
		if err != nil {
			return nil, fatal(ErrorKindDelivery, errors.Wrap(err, "employee delivery failed"))
		}

		summary.Users.Delivered = result.Succeeded
		summary.Users.Failed += result.Failed

		if deliveryErr := result.Err(); deliveryErr != nil {
			o.logger.Warn().Err(deliveryErr).Int("failed", result.Failed).Msg("some employees were not indexed")
		}
	}

	return emailByID, nil
}

func (o *Orchestrator) syncGroups(ctx context.Context, summary *Summary, emailByID map[string]string) error {
	o.setState(StateFetchingGroups)

	groups, err := o.source.FetchGroups(ctx)
	if err != nil {
		return fatal(ErrorKindFetch, errors.Wrap(err, "group fetch failed"))
	}

	summary.Groups.Fetched = len(groups)

	if len(groups) == 0 {
		o.logger.Warn().Msg("no groups found in source directory")
		return nil
	}

	members := make(map[string][]string, len(groups))

	for _, group := range groups {
		ids, err := o.source.FetchGroupMembers(ctx, group.ID)
		if err != nil {
			return fatal(ErrorKindFetch, errors.Wrapf(err, "member fetch for group %q failed", group.ID))
		}

		members[group.ID] = ids
	}

	o.setState(StateMappingGroups)

	teams := make([]model.Team, 0, len(groups))

	for _, group := range groups {
		result := transform.MapGroup(group, members[group.ID], emailByID)
		if len(result.Unresolved) > 0 {
			o.logger.Warn().
				Str("group", group.Name).
				Strs("members", result.Unresolved).
				Msg("skipping members with no resolvable email")
		}

		teams = append(teams, result.Team)
	}

	summary.Groups.Mapped = len(teams)

	o.setState(StateDeliveringGroups)

	result, err := o.deliverer.DeliverTeams(ctx, teams)
	if err != nil {
		return fatal(ErrorKindDelivery, errors.Wrap(err, "team delivery failed"))
	}

	summary.Groups.Delivered = result.Succeeded
	summary.Groups.Failed += result.Failed

	return nil
}

// runError tags a fatal pipeline error with the taxonomy kind the summary
// and the HTTP boundary report.
type runError struct {
	kind string
	err  error
}

func (e *runError) Error() string {
	return e.err.Error()
}

func (e *runError) Unwrap() error {
	return e.err
}

func fatal(kind string, err error) error {
	return &runError{kind: kind, err: err}
}

func classify(err error) string {
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return ErrorKindTimeout
	}

	var rErr *runError
	if stderrors.As(err, &rErr) {
		return rErr.kind
	}

	return ErrorKindDelivery
}
