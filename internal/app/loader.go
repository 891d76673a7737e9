package app

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/okian/meshrsa/internal/adapters/missinglog"
	"github.com/okian/meshrsa/internal/adapters/mq/queue"
	"github.com/okian/meshrsa/internal/adapters/storage"
	"github.com/okian/meshrsa/internal/domain/dedupe"
	"github.com/okian/meshrsa/internal/domain/downsample"
	"github.com/okian/meshrsa/internal/domain/mesh"
	"github.com/okian/meshrsa/pkg/logger"
	"github.com/okian/meshrsa/pkg/metrics"
)

// timingTolerance is the slack when comparing raw trial timing.
const timingTolerance = 1e-9

// unit is one subject and hemisphere.
type unit struct {
	Subject    string
	Hemisphere mesh.Hemisphere
}

func (u unit) key() string { return dedupe.UnitKey(u.Subject, u.Hemisphere) }

// LoadReport summarizes one load batch.
type LoadReport struct {
	RunID   string
	Loaded  int
	Skipped int
	Failed  int
	// Missing counts substituted trials over all units.
	Missing int
	Errors  map[string]error
}

// units expands the subject list over both hemispheres, dropping repeats.
func (s *Service) units(ctx context.Context) []unit {
	d := dedupe.NewInMemoryDeduper()
	var out []unit
	for _, subject := range s.cfg.Subjects {
		for _, h := range mesh.Hemispheres {
			u := unit{Subject: subject, Hemisphere: h}
			if !d.Claim(ctx, u.key()) {
				s.logger.Warn(ctx, "duplicate unit ignored", logger.String("unit", u.key()))
				continue
			}
			out = append(out, u)
		}
	}
	return out
}

// Load builds and persists the source tensor of every subject and
// hemisphere. Units whose tensor exists are handled per the overwrite policy.
// Unit failures are collected; the batch continues and ErrUnitsFailed is
// returned alongside the report.
func (s *Service) Load(ctx context.Context) (*LoadReport, error) {
	pool, err := s.running()
	if err != nil {
		return nil, err
	}
	if err := s.cfg.ValidateLoad(); err != nil {
		return nil, err
	}
	maxBytes, err := s.cfg.MaxTensorBytes()
	if err != nil {
		return nil, err
	}
	masks, err := storage.ReadLabels(s.cfg.MaskPaths)
	if err != nil {
		return nil, fmt.Errorf("read masks: %w", err)
	}
	var plans mesh.PerHemisphere[downsample.Plan]
	for _, h := range mesh.Hemispheres {
		p, err := downsample.NewPlan(h, s.cfg.TargetResolution, s.cfg.TemporalDownsampleRate, masks)
		if err != nil {
			return nil, err
		}
		plans.Set(h, p)
	}

	report := &LoadReport{RunID: uuid.NewString(), Errors: make(map[string]error)}
	log := s.logger.With(logger.String("run", report.RunID))
	s.progress.begin("load", report.RunID)
	defer s.progress.end()

	todo, skipped, err := s.resolvePolicy(ctx, s.units(ctx))
	if err != nil {
		return nil, err
	}
	for _, u := range skipped {
		log.Info(ctx, "unit skipped, output exists",
			logger.String("subject", u.Subject),
			logger.String("hemi", u.Hemisphere.String()),
		)
		metrics.RecordUnitSkipped()
	}
	report.Skipped = len(skipped)
	if len(todo) == 0 {
		log.Info(ctx, "nothing to load", logger.Int("skipped", report.Skipped))
		return report, nil
	}

	missing, err := missinglog.Open(s.layout.MissingLogPath())
	if err != nil {
		return nil, err
	}
	counts := make([]int, len(todo))
	jobs := make([]queue.Job, len(todo))
	for i, u := range todo {
		jobs[i] = queue.Job{
			ID: u.key(),
			Run: func(ctx context.Context) error {
				n, err := s.loadUnit(ctx, log, u, plans.Get(u.Hemisphere), maxBytes, missing)
				counts[i] = n
				return err
			},
			Done: s.progress.settle,
		}
	}
	s.progress.add(len(jobs))
	errs := pool.RunBatch(ctx, "load", jobs)
	if err := missing.Close(); err != nil {
		log.Error(ctx, "missing-files log write failed", logger.Error(err))
	}

	for i, err := range errs {
		report.Missing += counts[i]
		if err == nil {
			report.Loaded++
			continue
		}
		report.Failed++
		report.Errors[todo[i].key()] = err
		metrics.RecordUnitFailed("load")
		log.Error(ctx, "unit failed", logger.String("unit", todo[i].key()), logger.Error(err))
	}
	log.Info(ctx, "load finished",
		logger.Int("loaded", report.Loaded),
		logger.Int("skipped", report.Skipped),
		logger.Int("failed", report.Failed),
		logger.Int("missingTrials", report.Missing),
	)
	if report.Failed > 0 {
		return report, fmt.Errorf("%w: %d of %d loads", ErrUnitsFailed, report.Failed, len(todo))
	}
	return report, nil
}

type rawTiming struct {
	tmin, tstep float64
	vertices    int
	timepoints  int
}

func timingOf(rec *mesh.Recording) rawTiming {
	return rawTiming{rec.Tmin, rec.Tstep, rec.VertexCount(), rec.TimepointCount()}
}

func (r rawTiming) matches(o rawTiming) bool {
	return r.vertices == o.vertices && r.timepoints == o.timepoints &&
		math.Abs(r.tmin-o.tmin) <= timingTolerance && math.Abs(r.tstep-o.tstep) <= timingTolerance
}

// loadUnit reads every trial of u into one tensor and persists it. It
// returns the number of substituted trials. The substituted paths and the
// unit's blank marker are appended to the missing-files log once reading is
// over, whether or not the unit succeeds.
func (s *Service) loadUnit(ctx context.Context, log logger.Logger, u unit, plan downsample.Plan, maxBytes uint64, missing *missinglog.Log) (int, error) {
	log = log.With(logger.String("subject", u.Subject), logger.String("hemi", u.Hemisphere.String()))
	log.Info(ctx, "subject started")
	if plan.Empty() {
		return 0, fmt.Errorf("%w: %s", downsample.ErrEmptyMask, u.Hemisphere)
	}

	sessions, conditions := s.cfg.Sessions(), s.cfg.Conditions()
	var (
		tensor  *mesh.SourceTensor
		meta    mesh.TimingMetadata
		ref     rawTiming
		failed  [][2]int
		paths   []string
		loadErr error
	)
	substitute := func(c, sess int, path string, err error) {
		failed = append(failed, [2]int{c, sess})
		paths = append(paths, path)
		metrics.RecordTrialMissing()
		log.Warn(ctx, "trial missing, substituting NaN", logger.String("path", path), logger.Error(err))
	}

read:
	for sess := 0; sess < sessions; sess++ {
		for c := 0; c < conditions; c++ {
			if err := ctx.Err(); err != nil {
				loadErr = err
				break read
			}
			path := storage.RawTrialPath(s.cfg.RawPathTemplate, u.Subject, s.cfg.Trials[sess][c], u.Hemisphere)
			rec, err := s.trials.ReadTrial(path)
			if err != nil {
				substitute(c, sess, path, err)
				continue
			}
			if tensor == nil {
				if err := plan.Check(rec, s.cfg.TargetResolution); err != nil {
					loadErr = err
					break read
				}
				nt := plan.TimepointCount(rec.TimepointCount())
				size := mesh.SizeOf(len(plan.Vertices), nt, conditions, sessions)
				if maxBytes > 0 && size > maxBytes {
					loadErr = fmt.Errorf("%w: %d bytes, limit %d", ErrTensorTooLarge, size, maxBytes)
					break read
				}
				tensor = mesh.NewSourceTensor(len(plan.Vertices), nt, conditions, sessions)
				ref = timingOf(rec)
			} else if !ref.matches(timingOf(rec)) {
				substitute(c, sess, path, fmt.Errorf("%w: timing differs from first trial", storage.ErrBadFormat))
				continue
			}

			data, m, err := plan.Apply(rec)
			if err == nil {
				err = tensor.SetSlice(c, sess, data)
			}
			if err != nil {
				substitute(c, sess, path, err)
				continue
			}
			if len(meta.Vertices) == 0 {
				meta = m
			}
			metrics.RecordTrialRead()
		}
	}

	if err := missing.Record(ctx, paths); err != nil && loadErr == nil {
		loadErr = err
	}
	if loadErr != nil {
		return len(paths), loadErr
	}
	if tensor == nil || len(meta.Vertices) == 0 {
		return len(paths), fmt.Errorf("%w: %d trials tried", ErrNoTrials, sessions*conditions)
	}
	for _, f := range failed {
		tensor.SetMissing(f[0], f[1])
	}

	if err := storage.SaveMesh(ctx, s.layout.MeshPath(u.Subject, u.Hemisphere), tensor, meta); err != nil {
		return len(paths), fmt.Errorf("save tensor: %w", err)
	}
	metrics.RecordUnitLoaded()
	metrics.RecordTensorBytes(tensor.Bytes())
	log.Info(ctx, "unit loaded",
		logger.Int("vertices", tensor.Vertices),
		logger.Int("timepoints", tensor.Timepoints),
		logger.Int("missingTrials", len(paths)),
	)
	return len(paths), nil
}
