// Package synth writes synthetic datasets: raw STC trials whose condition
// patterns follow a model RDM time course at a known lag, the model CSV, a
// neighbourhood file and a pipeline config pointing at all of them.
package synth

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"gonum.org/v1/gonum/mat"

	"github.com/okian/meshrsa/internal/adapters/storage"
	"github.com/okian/meshrsa/internal/domain/mesh"
	"github.com/okian/meshrsa/internal/domain/rdm"
	"github.com/okian/meshrsa/pkg/logger"
)

const (
	baseFrequency = 6.0 // Hz of condition 1
	frequencyStep = 3.0 // Hz between conditions
	hoodRadius    = 2   // neighbours on either side of a vertex
)

type trialJob struct {
	index int
	path  string
	cond  int
}

// Generate writes the dataset described by cfg.
func Generate(ctx context.Context, cfg *Config) (*Stats, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logger.Get().Named("synth")
	stats := &Stats{}

	jobs := plan(cfg, stats)
	log.Info(ctx, "generating trials",
		logger.Int("trials", len(jobs)),
		logger.Int("omitted", stats.TrialsOmitted),
	)
	if err := writeTrials(ctx, cfg, jobs); err != nil {
		return nil, err
	}
	stats.TrialsWritten = len(jobs)

	var err error
	if stats.ModelPath, err = writeModels(ctx, cfg); err != nil {
		return nil, err
	}
	if stats.NeighboursPath, err = writeNeighbours(ctx, cfg); err != nil {
		return nil, err
	}
	if stats.ConfigPath, err = writeConfig(ctx, cfg, stats); err != nil {
		return nil, err
	}
	log.Info(ctx, "dataset written",
		logger.String("config", stats.ConfigPath),
		logger.Int("written", stats.TrialsWritten),
	)
	return stats, nil
}

// plan decides which trials are written. Omission draws come from one
// sequence so a seed always omits the same trials.
func plan(cfg *Config, stats *Stats) []trialJob {
	rng := rand.New(rand.NewPCG(cfg.Seed, 0))
	tmpl := cfg.RawTemplate()
	var jobs []trialJob
	for _, subject := range cfg.Subjects {
		for _, h := range mesh.Hemispheres {
			for s := 0; s < cfg.Sessions; s++ {
				for c := 0; c < cfg.Conditions; c++ {
					path := storage.RawTrialPath(tmpl, subject, TrialID(s, c), h)
					first := s == 0 && c == 0
					if !first && rng.Float64() < cfg.MissingFraction {
						stats.TrialsOmitted++
						stats.Omitted = append(stats.Omitted, path)
						continue
					}
					jobs = append(jobs, trialJob{index: len(jobs), path: path, cond: c})
				}
			}
		}
	}
	return jobs
}

func writeTrials(ctx context.Context, cfg *Config, jobs []trialJob) error {
	workers := min(max(cfg.Workers, 1), max(len(jobs), 1))
	perWorker := (len(jobs) + workers - 1) / workers
	errc := make(chan error, workers)
	for w := 0; w < workers; w++ {
		start := min(w*perWorker, len(jobs))
		end := min(start+perWorker, len(jobs))
		go func() {
			for _, j := range jobs[start:end] {
				if err := ctx.Err(); err != nil {
					errc <- err
					return
				}
				if err := storage.WriteSTCFile(ctx, j.path, trial(cfg, j)); err != nil {
					errc <- fmt.Errorf("trial %s: %w", j.path, err)
					return
				}
			}
			errc <- nil
		}()
	}
	var first error
	for w := 0; w < workers; w++ {
		if err := <-errc; err != nil && first == nil {
			first = err
		}
	}
	return first
}

// trial synthesises one recording. Every vertex carries a sinusoid at the
// condition's frequency, gated by the lagged envelope, plus noise.
func trial(cfg *Config, j trialJob) *mesh.Recording {
	rng := rand.New(rand.NewPCG(cfg.Seed, uint64(j.index)+1))
	freq := baseFrequency + frequencyStep*float64(j.cond)
	data := mat.NewDense(cfg.Vertices, cfg.Timepoints, nil)
	for v := 0; v < cfg.Vertices; v++ {
		phase := 2 * math.Pi * float64(v) / float64(cfg.Vertices)
		for t := 0; t < cfg.Timepoints; t++ {
			sec := cfg.Tmin + float64(t)*cfg.Tstep
			x := envelope(cfg, t-cfg.LagSteps) * math.Sin(2*math.Pi*freq*sec+phase)
			data.Set(v, t, x+cfg.Noise*rng.NormFloat64())
		}
	}
	vertices := make([]int, cfg.Vertices)
	for i := range vertices {
		vertices[i] = i
	}
	return &mesh.Recording{Tmin: cfg.Tmin, Tstep: cfg.Tstep, Vertices: vertices, Data: data}
}

// envelope is a raised cosine over the model course, zero outside it.
func envelope(cfg *Config, mt int) float64 {
	if mt < 0 || mt >= cfg.ModelTimepoints {
		return 0
	}
	return 0.5 - 0.5*math.Cos(2*math.Pi*float64(mt+1)/float64(cfg.ModelTimepoints+1))
}

// models returns the "frequency" model, whose dissimilarities grow with the
// frequency gap and the envelope, and a random "noise" model.
func models(cfg *Config) *rdm.ModelTimeCourse {
	rng := rand.New(rand.NewPCG(cfg.Seed, math.MaxUint32))
	n := cfg.Conditions
	pairs := rdm.PairCount(n)
	mt := &rdm.ModelTimeCourse{Names: []string{"frequency", "noise"}}
	for t := 0; t < cfg.ModelTimepoints; t++ {
		gap := make([]float64, pairs)
		noise := make([]float64, pairs)
		for i := 0; i < n; i++ {
			for k := i + 1; k < n; k++ {
				p := rdm.PairIndex(i, k, n)
				gap[p] = envelope(cfg, t) * float64(k-i) / float64(n-1)
				noise[p] = rng.Float64()
			}
		}
		mt.RDMs = append(mt.RDMs, [][]float64{gap, noise})
	}
	return mt
}

func writeModels(ctx context.Context, cfg *Config) (string, error) {
	mt := models(cfg)
	var b strings.Builder
	b.WriteString("model,timepoint")
	for p := 0; p < mt.Pairs(); p++ {
		fmt.Fprintf(&b, ",d%d", p+1)
	}
	b.WriteByte('\n')
	for m, name := range mt.Names {
		for t := range mt.RDMs {
			b.WriteString(name)
			b.WriteByte(',')
			b.WriteString(strconv.Itoa(t))
			for _, d := range mt.RDMs[t][m] {
				b.WriteByte(',')
				b.WriteString(strconv.FormatFloat(d, 'g', -1, 64))
			}
			b.WriteByte('\n')
		}
	}
	path := filepath.Join(cfg.Root, "models.csv")
	return path, writeString(ctx, path, b.String())
}

func writeNeighbours(ctx context.Context, cfg *Config) (string, error) {
	var b strings.Builder
	b.WriteString("# vertex: neighbours\n")
	for v := 0; v < cfg.Vertices; v++ {
		b.WriteString(strconv.Itoa(v))
		b.WriteByte(':')
		for d := -hoodRadius; d <= hoodRadius; d++ {
			if n := v + d; d != 0 && n >= 0 && n < cfg.Vertices {
				b.WriteByte(' ')
				b.WriteString(strconv.Itoa(n))
			}
		}
		b.WriteByte('\n')
	}
	path := filepath.Join(cfg.Root, "neighbours.txt")
	return path, writeString(ctx, path, b.String())
}

// writeConfig renders a pipeline config that loads and fits the dataset.
func writeConfig(ctx context.Context, cfg *Config, stats *Stats) (string, error) {
	doc := map[string]interface{}{
		"analysis_name":            "synth",
		"root_path":                filepath.Join(cfg.Root, "out"),
		"raw_path_template":        cfg.RawTemplate(),
		"subjects":                 cfg.Subjects,
		"trials":                   cfg.Trials(),
		"target_resolution":        cfg.Vertices,
		"temporal_downsample_rate": 1,
		"overwrite_policy":         "skip",
		"lag_ms":                   float64(cfg.LagSteps) * cfg.Tstep * 1000,
		"model_path":               stats.ModelPath,
		"neighbours_path":          stats.NeighboursPath,
		"temporal_window":          1,
		"max_tensor_size":          "1GB",
	}
	out, err := yaml.Parser().Marshal(doc)
	if err != nil {
		return "", err
	}
	path := filepath.Join(cfg.Root, "config.yaml")
	return path, writeString(ctx, path, string(out))
}

func writeString(ctx context.Context, path, s string) error {
	return storage.WriteFileAtomic(ctx, path, func(w io.Writer) error {
		_, err := io.WriteString(w, s)
		return err
	})
}
