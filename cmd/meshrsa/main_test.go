package main

import (
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestRun(t *testing.T) {
	Convey("Given the help flag", t, func() {
		So(run([]string{"--help"}), ShouldEqual, 0)
	})

	Convey("Given an unknown command", t, func() {
		So(run([]string{"frobnicate"}), ShouldEqual, 1)
	})

	Convey("Given a synth run", t, func() {
		dir := t.TempDir()
		So(run([]string{"synth", "--root", dir, "--missing", "0"}), ShouldEqual, 0)

		Convey("Then its config drives a full run", func() {
			So(run([]string{"run", "--config", filepath.Join(dir, "config.yaml")}), ShouldEqual, 0)
		})
	})
}
