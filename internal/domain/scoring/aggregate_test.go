package scoring_test

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/okian/tutorlog/internal/domain/scoring"
	. "github.com/smartystreets/goconvey/convey"
)

func TestAggregate(t *testing.T) {
	Convey("Given user message scores", t, func() {
		Convey("When vocab ranks are BABY, CHILD, ADULT", func() {
			got := scoring.Aggregate([]scoring.Scores{
				{scoring.Vocab: {Level: scoring.LevelBaby}},
				{scoring.Vocab: {Level: scoring.LevelChild}},
				{scoring.Vocab: {Level: scoring.LevelAdult}},
			})

			Convey("Then median is 2, mad is 1 and n is 3", func() {
				So(got, ShouldContainKey, scoring.Vocab)
				So(got[scoring.Vocab], ShouldResemble, scoring.Stat{Median: 2, MAD: 1, N: 3})
			})

			Convey("And unscored dimensions are absent", func() {
				So(got, ShouldHaveLength, 1)
				So(got, ShouldNotContainKey, scoring.Grammar)
			})
		})

		Convey("When a dimension has an even number of scores", func() {
			got := scoring.Aggregate([]scoring.Scores{
				{scoring.Grammar: {Level: scoring.LevelChild}},
				{scoring.Grammar: {Level: scoring.LevelAdult}},
			})

			Convey("Then the median is the exact midpoint", func() {
				So(got[scoring.Grammar].Median, ShouldEqual, 2.5)
				So(got[scoring.Grammar].MAD, ShouldEqual, 0.5)
				So(got[scoring.Grammar].N, ShouldEqual, 2)
			})
		})

		Convey("When messages score different subsets", func() {
			got := scoring.Aggregate([]scoring.Scores{
				{scoring.Idiom: {Level: scoring.LevelExpert}, scoring.Polite: {Level: scoring.LevelBaby}},
				nil,
				{scoring.Polite: {Level: scoring.LevelError}},
			})

			Convey("Then n counts only contributing messages", func() {
				So(got[scoring.Idiom].N, ShouldEqual, 1)
				So(got[scoring.Polite].N, ShouldEqual, 2)
				So(got[scoring.Polite].Median, ShouldEqual, 0.5)
			})
		})

		Convey("When an outlier is present", func() {
			got := scoring.Aggregate([]scoring.Scores{
				{scoring.Context: {Level: scoring.LevelAdult}},
				{scoring.Context: {Level: scoring.LevelAdult}},
				{scoring.Context: {Level: scoring.LevelAdult}},
				{scoring.Context: {Level: scoring.LevelError}},
			})

			Convey("Then median and mad resist it", func() {
				So(got[scoring.Context].Median, ShouldEqual, 3)
				So(got[scoring.Context].MAD, ShouldEqual, 0)
			})
		})

		Convey("When nothing is scored", func() {
			So(scoring.Aggregate(nil), ShouldBeNil)
			So(scoring.Aggregate([]scoring.Scores{nil, {}}), ShouldBeNil)
		})
	})
}

func TestMedian(t *testing.T) {
	Convey("Median does not reorder its input", t, func() {
		vals := []int{3, 1, 2}
		So(scoring.Median(vals), ShouldEqual, 2)
		So(vals, ShouldResemble, []int{3, 1, 2})
		So(math.IsNaN(scoring.Median([]int{})), ShouldBeTrue)
	})
}

func TestLevel(t *testing.T) {
	Convey("Given the level scale", t, func() {
		Convey("Names and ordinals parse", func() {
			l, err := scoring.ParseLevel("child")
			So(err, ShouldBeNil)
			So(l, ShouldEqual, scoring.LevelChild)

			l, err = scoring.ParseLevel("4")
			So(err, ShouldBeNil)
			So(l, ShouldEqual, scoring.LevelExpert)

			_, err = scoring.ParseLevel("toddler")
			So(errors.Is(err, scoring.ErrInvalidLevel), ShouldBeTrue)
			So(scoring.Ranking(), ShouldEqual, "ERROR, BABY, CHILD, ADULT, EXPERT")
		})

		Convey("JSON stores the ordinal and reads either form", func() {
			b, err := json.Marshal(scoring.Score{Level: scoring.LevelAdult, Explanation: "fluent"})
			So(err, ShouldBeNil)
			So(string(b), ShouldEqual, `{"score":3,"explanation":"fluent"}`)

			var s scoring.Score
			So(json.Unmarshal([]byte(`{"score":"BABY"}`), &s), ShouldBeNil)
			So(s.Level, ShouldEqual, scoring.LevelBaby)
			So(json.Unmarshal([]byte(`{"score":9}`), &s), ShouldNotBeNil)
		})

		Convey("Dimensions are closed", func() {
			d, err := scoring.ParseDimension("polite")
			So(err, ShouldBeNil)
			So(d, ShouldEqual, scoring.Polite)
			_, err = scoring.ParseDimension("tone")
			So(errors.Is(err, scoring.ErrUnknownDimension), ShouldBeTrue)
			So(scoring.LevelExpert.String(), ShouldEqual, "EXPERT")
		})
	})
}
