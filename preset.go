package imgmatch

import (
	"fmt"
	"strings"

	"github.com/hupe1980/imgmatch/algorithm"
	"github.com/hupe1980/imgmatch/pipeline"
)

// Setting selects a predefined two-stage pipeline: a coarse difference hash
// followed by a perceptual hash.
type Setting int

const (
	// Forgiving maximizes recall.
	Forgiving Setting = iota
	// Fair leans towards recall.
	Fair
	// Quality balances recall and precision. It is the default.
	Quality
	// Strict maximizes precision.
	Strict
)

// PresetStage is one stage of a preset pipeline.
type PresetStage struct {
	Algorithm algorithm.Spec
	Settings  pipeline.Settings
}

var (
	coarseStage = algorithm.Spec{Kind: algorithm.KindDifference, Size: 8}
	refineStage = algorithm.Spec{Kind: algorithm.KindPerceptual, Size: 16}
)

var presets = map[Setting][2]float64{
	Forgiving: {0.50, 0.40},
	Fair:      {0.40, 0.30},
	Quality:   {0.30, 0.30},
	Strict:    {0.15, 0.15},
}

var settingNames = map[Setting]string{
	Forgiving: "forgiving",
	Fair:      "fair",
	Quality:   "quality",
	Strict:    "strict",
}

func (s Setting) String() string {
	if name, ok := settingNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Setting(%d)", int(s))
}

// Stages returns the pipeline of s, or nil if s is not a known setting.
func (s Setting) Stages() []PresetStage {
	t, ok := presets[s]
	if !ok {
		return nil
	}
	return []PresetStage{
		{Algorithm: coarseStage, Settings: pipeline.Normalized(t[0])},
		{Algorithm: refineStage, Settings: pipeline.Normalized(t[1])},
	}
}

// ParseSetting returns the setting with the given name, ignoring case.
func ParseSetting(name string) (Setting, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for s, sn := range settingNames {
		if sn == n {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
}

// NewPreset returns a Matcher whose pipeline is configured for setting.
func NewPreset(setting Setting, optFns ...Option) (*Matcher, error) {
	stages := setting.Stages()
	if stages == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPreset, setting)
	}

	m := New(optFns...)
	for _, st := range stages {
		algo, err := algorithm.New(st.Algorithm)
		if err != nil {
			return nil, err
		}
		if err := m.AddAlgorithm(algo, st.Settings); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// NewDefault returns a Matcher configured with the Quality preset.
func NewDefault(optFns ...Option) (*Matcher, error) {
	return NewPreset(Quality, optFns...)
}
