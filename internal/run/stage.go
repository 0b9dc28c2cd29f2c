package run

import (
	"fmt"
	"strings"
)

// Stage is one ordered phase of a run's pipeline.
type Stage int

const (
	// StageNone is the completed stage of a run that has not started.
	StageNone Stage = iota - 1
	StageLoad
	StageBuild
	StageCompile
	StageRun
	StagePostprocess
)

var stageNames = []string{"LOAD", "BUILD", "COMPILE", "RUN", "POSTPROCESS"}

// LastStage is the final stage of the pipeline.
const LastStage = StagePostprocess

func (s Stage) String() string {
	if s == StageNone {
		return "NONE"
	}
	if s < StageNone || int(s) >= len(stageNames) {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageNames[s]
}

// ParseStage parses a stage name, case-insensitively.
func ParseStage(name string) (Stage, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	if upper == "NONE" {
		return StageNone, nil
	}
	for i, n := range stageNames {
		if n == upper {
			return Stage(i), nil
		}
	}
	return StageNone, fmt.Errorf("unknown stage %q (expected one of %s)", name, strings.Join(stageNames, ", "))
}

// MarshalText implements encoding.TextMarshaler.
func (s Stage) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Stage) UnmarshalText(text []byte) error {
	parsed, err := ParseStage(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Through returns the stages from LOAD up to and including until.
func Through(until Stage) []Stage {
	var out []Stage
	for s := StageLoad; s <= until && s <= LastStage; s++ {
		out = append(out, s)
	}
	return out
}
