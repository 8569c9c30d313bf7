package sync_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/acmecorp/people-sync/pkg/index"
	"github.com/acmecorp/people-sync/pkg/model"
	syncer "github.com/acmecorp/people-sync/pkg/sync"
)

type fakeSource struct {
	users      []model.User
	groups     []model.Group
	members    map[string][]string
	usersErr   error
	groupsErr  error
	fetchBlock chan struct{}
}

func (f *fakeSource) FetchUsers(ctx context.Context, max int) ([]model.User, error) {
	if f.fetchBlock != nil {
		select {
		case <-f.fetchBlock:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if f.usersErr != nil {
		return nil, f.usersErr
	}

	if max > 0 && max < len(f.users) {
		return f.users[:max], nil
	}

	return f.users, nil
}

func (f *fakeSource) FetchGroups(_ context.Context) ([]model.Group, error) {
	if f.groupsErr != nil {
		return nil, f.groupsErr
	}

	return f.groups, nil
}

func (f *fakeSource) FetchGroupMembers(_ context.Context, groupID string) ([]string, error) {
	return f.members[groupID], nil
}

type fakeDeliverer struct {
	employees    []model.Employee
	teams        []model.Team
	employeesErr error
	failEvery    int
}

func (f *fakeDeliverer) DeliverEmployees(_ context.Context, employees []model.Employee) (*index.DeliveryResult, error) {
	if f.employeesErr != nil {
		return nil, f.employeesErr
	}

	f.employees = employees
	result := &index.DeliveryResult{Total: len(employees)}

	for i, employee := range employees {
		if f.failEvery > 0 && (i+1)%f.failEvery == 0 {
			result.Failed++
			result.Failures = append(result.Failures, index.RecordFailure{Key: employee.Email, Error: "rejected"})

			continue
		}

		result.Succeeded++
	}

	return result, nil
}

func (f *fakeDeliverer) DeliverTeams(_ context.Context, teams []model.Team) (*index.DeliveryResult, error) {
	f.teams = teams

	return &index.DeliveryResult{Total: len(teams), Succeeded: len(teams)}, nil
}

func sourceFixture() *fakeSource {
	return &fakeSource{
		users: []model.User{
			{ID: "u1", Email: "a@x.com", Enabled: true},
			{ID: "u2", Email: "b@x.com", Enabled: false},
			{ID: "u3", Enabled: true}, // no email, must be skipped
		},
		groups: []model.Group{{ID: "g1", Name: "platform"}},
		members: map[string][]string{
			"g1": {"u1", "u2", "u3"},
		},
	}
}

func newOrchestrator(source syncer.Source, deliverer index.Deliverer, cfg *syncer.Config) *syncer.Orchestrator {
	logger := zerolog.Nop()

	if cfg == nil {
		cfg = &syncer.Config{}
	}

	return syncer.New(source, deliverer, cfg, &logger)
}

func TestRunHappyPath(t *testing.T) {
	assert := require.New(t)

	deliverer := &fakeDeliverer{}
	orchestrator := newOrchestrator(sourceFixture(), deliverer, nil)

	summary, err := orchestrator.Run(t.Context(), "operator@example.com")
	assert.NoError(err)

	assert.Equal("success", summary.Status)
	assert.Equal("operator@example.com", summary.TriggeredBy)
	assert.Nil(summary.Error)
	assert.Equal(syncer.StateCompleted, orchestrator.State())

	assert.Equal(3, summary.Users.Fetched)
	assert.Equal(2, summary.Users.Mapped)
	assert.Equal(2, summary.Users.Delivered)
	assert.Equal(1, summary.Users.Failed) // the user without an email

	assert.Equal(1, summary.Groups.Fetched)
	assert.Equal(1, summary.Groups.Delivered)

	assert.Len(deliverer.teams, 1)
	assert.Equal([]model.TeamMember{{Email: "a@x.com"}, {Email: "b@x.com"}}, deliverer.teams[0].Members)

	assert.False(summary.EndTime.Before(summary.StartTime))
}

func TestRunFetchFailureIsFatal(t *testing.T) {
	assert := require.New(t)

	source := sourceFixture()
	source.usersErr = errors.New("boom")

	deliverer := &fakeDeliverer{}
	orchestrator := newOrchestrator(source, deliverer, nil)

	summary, err := orchestrator.Run(t.Context(), "")
	assert.NoError(err)

	assert.Equal("error", summary.Status)
	assert.NotNil(summary.Error)
	assert.Equal(syncer.ErrorKindFetch, summary.Error.Kind)
	assert.Equal(syncer.StateFailed, orchestrator.State())
	assert.Empty(deliverer.employees)
}

func TestRunDeliveryFailureIsFatal(t *testing.T) {
	assert := require.New(t)

	deliverer := &fakeDeliverer{employeesErr: errors.New("target down")}
	orchestrator := newOrchestrator(sourceFixture(), deliverer, nil)

	summary, err := orchestrator.Run(t.Context(), "")
	assert.NoError(err)

	assert.Equal("error", summary.Status)
	assert.Equal(syncer.ErrorKindDelivery, summary.Error.Kind)
	assert.Empty(deliverer.teams)
}

func TestRunPartialDeliveryFailuresAreCounted(t *testing.T) {
	assert := require.New(t)

	source := &fakeSource{users: make([]model.User, 0, 5)}
	for i := range 5 {
		source.users = append(source.users, model.User{
			ID:      fmt.Sprintf("u%d", i),
			Email:   fmt.Sprintf("user%d@example.com", i),
			Enabled: true,
		})
	}

	deliverer := &fakeDeliverer{failEvery: 5}
	orchestrator := newOrchestrator(source, deliverer, nil)

	summary, err := orchestrator.Run(t.Context(), "")
	assert.NoError(err)

	assert.Equal("success", summary.Status)
	assert.Equal(4, summary.Users.Delivered)
	assert.Equal(1, summary.Users.Failed)
}

func TestRunDryRunAccounting(t *testing.T) {
	assert := require.New(t)

	logger := zerolog.Nop()
	orchestrator := newOrchestrator(sourceFixture(), index.NewDryRun(&logger), &syncer.Config{DryRun: true})

	summary, err := orchestrator.Run(t.Context(), "")
	assert.NoError(err)

	assert.Equal("success", summary.Status)
	assert.True(summary.DryRun)
	assert.Equal(2, summary.Users.Delivered)
	assert.Equal(1, summary.Groups.Delivered)
}

func TestRunMaxUsersCeiling(t *testing.T) {
	assert := require.New(t)

	source := sourceFixture()
	deliverer := &fakeDeliverer{}
	orchestrator := newOrchestrator(source, deliverer, &syncer.Config{MaxUsers: 2})

	summary, err := orchestrator.Run(t.Context(), "")
	assert.NoError(err)
	assert.Equal(2, summary.Users.Fetched)
}

func TestRunConflict(t *testing.T) {
	assert := require.New(t)

	source := sourceFixture()
	source.fetchBlock = make(chan struct{})

	orchestrator := newOrchestrator(source, &fakeDeliverer{}, nil)

	done := make(chan *syncer.Summary, 1)

	go func() {
		summary, err := orchestrator.Run(context.Background(), "first")
		require.NoError(t, err)
		done <- summary
	}()

	// wait for the first run to take the guard
	assert.Eventually(func() bool {
		return orchestrator.State() == syncer.StateFetchingUsers
	}, time.Second, 5*time.Millisecond)

	_, err := orchestrator.Run(t.Context(), "second")
	assert.ErrorIs(err, syncer.ErrRunInProgress)

	close(source.fetchBlock)

	summary := <-done
	assert.Equal("success", summary.Status)
	assert.Equal("first", summary.TriggeredBy)
}

func TestRunTimeout(t *testing.T) {
	assert := require.New(t)

	source := sourceFixture()
	source.fetchBlock = make(chan struct{}) // never closed, run must hit its deadline

	orchestrator := newOrchestrator(source, &fakeDeliverer{}, &syncer.Config{RunTimeout: 20 * time.Millisecond})

	summary, err := orchestrator.Run(t.Context(), "")
	assert.NoError(err)

	assert.Equal("error", summary.Status)
	assert.Equal(syncer.ErrorKindTimeout, summary.Error.Kind)
	assert.Equal(syncer.StateFailed, orchestrator.State())
}
