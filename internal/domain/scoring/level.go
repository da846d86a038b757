// Package scoring holds the ordinal score scale produced by the external
// message scorer and the robust per-session aggregation over it.
package scoring

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Level is the maturity of a typical speaker expected to produce an
// utterance. It is an ordinal rank, not a measurement.
type Level int

const (
	LevelError Level = iota
	LevelBaby
	LevelChild
	LevelAdult
	LevelExpert
)

var levelNames = [...]string{"ERROR", "BABY", "CHILD", "ADULT", "EXPERT"}

func (l Level) String() string {
	if l < LevelError || l > LevelExpert {
		return "Level(" + strconv.Itoa(int(l)) + ")"
	}
	return levelNames[l]
}

// Valid reports whether l is on the scale.
func (l Level) Valid() bool { return l >= LevelError && l <= LevelExpert }

// ParseLevel accepts a level name (any case) or its ordinal.
func ParseLevel(s string) (Level, error) {
	s = strings.TrimSpace(s)
	for i, name := range levelNames {
		if strings.EqualFold(s, name) {
			return Level(i), nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && Level(n).Valid() {
		return Level(n), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidLevel, s)
}

// Ranking lists the scale from lowest to highest, e.g. for prompting a scorer.
func Ranking() string {
	return strings.Join(levelNames[:], ", ")
}

// MarshalJSON stores the ordinal.
func (l Level) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Itoa(int(l))), nil
}

// UnmarshalJSON accepts either the ordinal or the name.
func (l *Level) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		if !Level(n).Valid() {
			return fmt.Errorf("%w: %d", ErrInvalidLevel, n)
		}
		*l = Level(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidLevel, string(b))
	}
	v, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = v
	return nil
}
