package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/okian/meshrsa/internal/adapters/storage"
	"github.com/okian/meshrsa/internal/domain/aggregate"
	"github.com/okian/meshrsa/internal/domain/glm"
	"github.com/okian/meshrsa/internal/domain/lag"
	"github.com/okian/meshrsa/internal/domain/mesh"
	"github.com/okian/meshrsa/internal/domain/rdm"
	"github.com/okian/meshrsa/internal/domain/searchlight"
	"github.com/okian/meshrsa/internal/domain/stacker"
	"github.com/okian/meshrsa/pkg/logger"
	"github.com/okian/meshrsa/pkg/metrics"
)

// FitReport summarizes one fit batch.
type FitReport struct {
	RunID          string
	Fitted         int
	Failed         int
	Fits           int
	IllConditioned int
	Files          int
	// Lags holds the applied lag per unit key.
	Lags   map[string]lag.Spec
	Errors map[string]error
}

// fitPlan is one prepared subject and hemisphere.
type fitPlan struct {
	unit
	meta  mesh.TimingMetadata
	lag   lag.Spec
	res   *glm.Result
	units []func(context.Context) error
}

// Fit runs the searchlight GLM over every persisted tensor. Subjects run one
// after another; within a subject both hemispheres share one batch of
// timepoint jobs.
func (s *Service) Fit(ctx context.Context) (*FitReport, error) {
	pool, err := s.running()
	if err != nil {
		return nil, err
	}
	if err := s.cfg.ValidateFit(); err != nil {
		return nil, err
	}
	models, err := storage.ReadModels(s.cfg.ModelPath)
	if err != nil {
		return nil, err
	}
	var hoods searchlight.Neighbourhoods
	if s.cfg.NeighboursPath != "" {
		if hoods, err = storage.ReadNeighbourhoods(s.cfg.NeighboursPath); err != nil {
			return nil, err
		}
	}

	report := &FitReport{
		RunID:  uuid.NewString(),
		Lags:   make(map[string]lag.Spec),
		Errors: make(map[string]error),
	}
	log := s.logger.With(logger.String("run", report.RunID))
	s.progress.begin("fit", report.RunID)
	defer s.progress.end()
	exec := timedExecutor{pool: pool, progress: &s.progress}
	log.Info(ctx, "fit started",
		logger.Int("models", models.Models()),
		logger.Int("modelTimepoints", models.Timepoints()),
		logger.Float64("lagMs", s.cfg.LagMs),
	)

	bySubject := make(map[string][]unit)
	var order []string
	for _, u := range s.units(ctx) {
		if _, ok := bySubject[u.Subject]; !ok {
			order = append(order, u.Subject)
		}
		bySubject[u.Subject] = append(bySubject[u.Subject], u)
	}

	fail := func(u unit, err error) {
		report.Failed++
		report.Errors[u.key()] = err
		metrics.RecordUnitFailed("fit")
		log.Error(ctx, "unit failed", logger.String("unit", u.key()), logger.Error(err))
	}

	for _, subject := range order {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		var plans []*fitPlan
		var units []func(context.Context) error
		for _, u := range bySubject[subject] {
			p, err := s.planFit(ctx, log, u, models, hoods)
			if err != nil {
				fail(u, err)
				continue
			}
			plans = append(plans, p)
			units = append(units, p.units...)
		}

		errs := exec.Execute(ctx, "fit", units)
		offset := 0
		for _, p := range plans {
			n := len(p.units)
			unitErr := errors.Join(errs[offset : offset+n]...)
			offset += n
			if unitErr != nil {
				fail(p.unit, unitErr)
				continue
			}
			files, err := s.finishFit(ctx, log, p)
			if err != nil {
				fail(p.unit, err)
				continue
			}
			report.Fitted++
			report.Files += files
			report.Fits += p.res.Vertices * p.res.Timepoints
			report.IllConditioned += p.res.IllCount()
			report.Lags[p.key()] = p.lag
		}
	}

	log.Info(ctx, "fit finished",
		logger.Int("fitted", report.Fitted),
		logger.Int("failed", report.Failed),
		logger.Int("fits", report.Fits),
		logger.Int("illConditioned", report.IllConditioned),
	)
	if report.Failed > 0 {
		return report, fmt.Errorf("%w: %d fits", ErrUnitsFailed, report.Failed)
	}
	return report, nil
}

func (s *Service) planFit(ctx context.Context, log logger.Logger, u unit, models *rdm.ModelTimeCourse, hoods searchlight.Neighbourhoods) (*fitPlan, error) {
	tensor, meta, err := storage.LoadMesh(s.layout.MeshPath(u.Subject, u.Hemisphere))
	if err != nil {
		return nil, fmt.Errorf("load tensor: %w", err)
	}
	spec, err := lag.Align(meta.Tstep, s.cfg.LagMs)
	if err != nil {
		return nil, err
	}
	if spec.Adjusted {
		metrics.RecordLagAdjusted()
		log.Warn(ctx, "lag is not a multiple of the timestep, rounded down",
			logger.String("unit", u.key()),
			logger.Float64("requestedMs", spec.RequestedMs),
			logger.Float64("achievedMs", spec.AchievedMs),
		)
	}
	builder, err := searchlight.NewBuilder(tensor, meta, hoods, s.cfg.TemporalWindow)
	if err != nil {
		return nil, err
	}
	stack, err := stacker.Build(models, spec.Steps, builder.Timepoints())
	if err != nil {
		return nil, err
	}
	res, units, err := glm.Plan(builder, stack)
	if err != nil {
		return nil, err
	}
	log.Debug(ctx, "fit planned",
		logger.String("unit", u.key()),
		logger.Int("vertices", res.Vertices),
		logger.Int("overlap", res.Timepoints),
		logger.String("lag", spec.String()),
	)
	return &fitPlan{unit: u, meta: meta, lag: spec, res: res, units: units}, nil
}

func (s *Service) finishFit(ctx context.Context, log logger.Logger, p *fitPlan) (int, error) {
	sum := aggregate.Summarize(p.res)
	written, err := s.layout.WriteResults(ctx, storage.ResultSet{
		Subject:    p.Subject,
		Hemisphere: p.Hemisphere,
		Meta:       p.lag.Apply(p.meta),
		Fit:        p.res,
		Summary:    sum,
	})
	if err != nil {
		return len(written), err
	}
	fits := p.res.Vertices * p.res.Timepoints
	metrics.RecordFits(fits)
	metrics.RecordIllConditioned(p.res.IllCount())
	if n := p.res.IllCount(); n > 0 {
		log.Warn(ctx, "ill-conditioned fits",
			logger.String("unit", p.key()),
			logger.Int("count", n),
			logger.Int("of", fits),
		)
	}
	log.Info(ctx, "unit fitted", logger.String("unit", p.key()), logger.Int("files", len(written)))
	return len(written), nil
}
