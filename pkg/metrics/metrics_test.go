package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with a fresh registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithConstLabels(map[string]string{"analysis": "demo"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then collectors are registered on it", func() {
				So(manager, ShouldNotBeNil)
				manager.fits.Add(3)
				So(testutil.ToFloat64(manager.fits), ShouldEqual, 3)
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				So(len(families), ShouldBeGreaterThan, 0)
				So(families[0].GetName(), ShouldStartWith, "meshrsa_pipeline_")
				So(families[0].GetMetric()[0].GetLabel()[0].GetValue(), ShouldEqual, "demo")
			})
		})
	})
}

func TestInit(t *testing.T) {
	Convey("Given the global manager is reinitialized with an analysis label", t, func() {
		old := GetRegistry()
		Init(WithConstLabels(map[string]string{"analysis": "faces"}))
		RecordFits(2)

		Convey("Then a fresh registry serves the labelled series", func() {
			So(GetRegistry(), ShouldNotEqual, old)
			path := filepath.Join(t.TempDir(), "metrics.prom")
			So(WriteTextfile(path), ShouldBeNil)
			raw, err := os.ReadFile(path)
			So(err, ShouldBeNil)
			So(string(raw), ShouldContainSubstring, `meshrsa_pipeline_fits_total{analysis="faces"} 2`)
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording loader metrics", func() {
			before := testutil.ToFloat64(globalManager.trialsMissing)
			RecordTrialRead()
			RecordTrialMissing()
			RecordTrialMissing()
			RecordUnitLoaded()
			RecordUnitSkipped()
			RecordUnitFailed("load")
			RecordTensorBytes(1024)

			Convey("Then counters advance", func() {
				So(testutil.ToFloat64(globalManager.trialsMissing)-before, ShouldEqual, 2)
				So(testutil.ToFloat64(globalManager.unitsFailed.WithLabelValues("load")), ShouldBeGreaterThanOrEqualTo, 1)
			})
		})

		Convey("When recording fitter metrics", func() {
			So(func() {
				RecordLagAdjusted()
				RecordFits(100)
				RecordIllConditioned(2)
				RecordTimepointLatency(12.5)
				RecordJobLatency("fit", 3)
				RecordFileWritten("stc")
				RecordErrorByComponent("fitter", "empty_overlap")
				UpdateQueueSize(4)
				UpdateQueueCapacity(16)
				IncWorkerActive()
				DecWorkerActive()
			}, ShouldNotPanic)
		})

		Convey("When recording status requests", func() {
			RecordHTTPRequest("healthz", "GET", "200")
			RecordHTTPRequestDuration("healthz", "GET", "200", 1.5)

			Convey("Then the request counter advances", func() {
				So(testutil.ToFloat64(globalManager.httpRequests.WithLabelValues("healthz", "GET", "200")), ShouldBeGreaterThanOrEqualTo, 1)
			})
		})
	})
}

func TestMetricsExport(t *testing.T) {
	Convey("Given recorded metrics", t, func() {
		RecordFits(1)

		Convey("When writing the textfile", func() {
			path := filepath.Join(t.TempDir(), "meshrsa.prom")
			err := WriteTextfile(path)

			Convey("Then the file holds the exposition format", func() {
				So(err, ShouldBeNil)
				raw, readErr := os.ReadFile(path)
				So(readErr, ShouldBeNil)
				So(strings.Contains(string(raw), "meshrsa_pipeline_fits_total"), ShouldBeTrue)
			})
		})

		Convey("When writing into a missing directory", func() {
			err := WriteTextfile(filepath.Join(t.TempDir(), "nope", "x.prom"))

			Convey("Then the export error kind is returned", func() {
				So(errors.Is(err, ErrExportFailed), ShouldBeTrue)
			})
		})

		Convey("Then the handler is available", func() {
			So(Handler(), ShouldNotBeNil)
			So(GetRegistry(), ShouldNotBeNil)
		})
	})
}

func TestMetricsConcurrency(t *testing.T) {
	Convey("Given concurrent recorders", t, func() {
		before := testutil.ToFloat64(globalManager.fits)
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					RecordFits(1)
				}
			}()
		}
		wg.Wait()

		So(testutil.ToFloat64(globalManager.fits)-before, ShouldEqual, 1000)
	})
}
