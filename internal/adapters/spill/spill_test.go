package spill_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/typerace/internal/adapters/spill"
	"github.com/okian/typerace/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestSpill(t *testing.T) {
	Convey("Given a spill file", t, func() {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "spill.db")
		f, err := spill.Open(path)
		So(err, ShouldBeNil)
		Reset(func() { _ = f.Close() })

		at := time.UnixMilli(1_700_000_000_000).UTC()

		Convey("When a batch is spilled and the file reopened", func() {
			So(f.Spill(ctx, []model.ProgressUpdate{
				{RaceID: "r1", ParticipantID: "p1", Progress: 10, WPM: 70, Accuracy: 96, Errors: 1, At: at},
				{RaceID: "r1", ParticipantID: "p2", Progress: 4, At: at},
			}), ShouldBeNil)
			So(f.Spill(ctx, []model.ProgressUpdate{{RaceID: "r1", ParticipantID: "p1", Progress: 12, At: at}}), ShouldBeNil)
			So(f.Close(), ShouldBeNil)

			f, err = spill.Open(path)
			So(err, ShouldBeNil)
			got, err := f.Drain(ctx)

			Convey("Then the latest update per participant survives", func() {
				So(err, ShouldBeNil)
				So(got, ShouldHaveLength, 2)
				So(got[0].ParticipantID, ShouldEqual, "p1")
				So(got[0].Progress, ShouldEqual, 12)
				So(got[1].ParticipantID, ShouldEqual, "p2")
				So(got[1].At.Equal(at), ShouldBeTrue)
			})

			Convey("Then a second drain is empty", func() {
				again, err := f.Drain(ctx)
				So(err, ShouldBeNil)
				So(again, ShouldBeEmpty)
			})
		})

		Convey("When draining an empty file", func() {
			got, err := f.Drain(ctx)

			Convey("Then nothing is returned", func() {
				So(err, ShouldBeNil)
				So(got, ShouldBeEmpty)
			})
		})

		Convey("When used after Close", func() {
			So(f.Close(), ShouldBeNil)

			Convey("Then ErrClosed is returned", func() {
				So(f.Spill(ctx, nil), ShouldEqual, spill.ErrClosed)
			})
		})
	})
}
