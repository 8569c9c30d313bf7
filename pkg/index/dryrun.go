package index

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/acmecorp/people-sync/pkg/model"
)

// NewDryRun returns a sink that performs no network writes but reports the
// same accounting a real delivery would, so operators can preview a run.
func NewDryRun(logger *zerolog.Logger) Deliverer {
	dryLogger := logger.With().Str("component", "index").Bool("dry_run", true).Logger()

	return &dryRunDeliverer{logger: dryLogger}
}

type dryRunDeliverer struct {
	logger zerolog.Logger
}

var _ Deliverer = (*dryRunDeliverer)(nil)

func (d *dryRunDeliverer) DeliverEmployees(_ context.Context, employees []model.Employee) (*DeliveryResult, error) {
	d.logger.Info().Int("records", len(employees)).Msg("dry run: would index employees")

	return &DeliveryResult{Total: len(employees), Succeeded: len(employees)}, nil
}

func (d *dryRunDeliverer) DeliverTeams(_ context.Context, teams []model.Team) (*DeliveryResult, error) {
	d.logger.Info().Int("records", len(teams)).Msg("dry run: would index teams")

	return &DeliveryResult{Total: len(teams), Succeeded: len(teams)}, nil
}
