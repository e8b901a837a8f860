package aligner

import (
	"fmt"
	"sort"
)

// DefaultPreset is used when no preset is named.
const DefaultPreset = "sr"

// DefaultMaskLevel is the repetitive-minimizer fraction ignored by default.
const DefaultMaskLevel = 0.0002

var presets = map[string]Options{
	"sr": {
		Index: IndexOptions{K: 21, W: 11, MaskLevel: DefaultMaskLevel},
		Chain: ChainOptions{MaxGap: 100, Bandwidth: 100, MinCnt: 2, MinChainScore: 25, PriRatio: 0.5, BestN: 20},
		Score: ScoreOptions{Match: 2, Mismatch: 8, GapOpen: 12, GapExt: 2},
	},
	"map-ont": {
		Index: IndexOptions{K: 15, W: 10, MaskLevel: DefaultMaskLevel},
		Chain: ChainOptions{MaxGap: 5000, Bandwidth: 500, MinCnt: 3, MinChainScore: 40, PriRatio: 0.8, BestN: 5},
		Score: ScoreOptions{Match: 2, Mismatch: 4, GapOpen: 4, GapExt: 2},
	},
	"map-pb": {
		Index: IndexOptions{K: 19, W: 10, MaskLevel: DefaultMaskLevel},
		Chain: ChainOptions{MaxGap: 5000, Bandwidth: 500, MinCnt: 3, MinChainScore: 40, PriRatio: 0.8, BestN: 5},
		Score: ScoreOptions{Match: 2, Mismatch: 4, GapOpen: 4, GapExt: 2},
	},
	"map-hifi": {
		Index: IndexOptions{K: 19, W: 19, MaskLevel: DefaultMaskLevel},
		Chain: ChainOptions{MaxGap: 5000, Bandwidth: 500, MinCnt: 3, MinChainScore: 40, PriRatio: 0.8, BestN: 5},
		Score: ScoreOptions{Match: 1, Mismatch: 4, GapOpen: 6, GapExt: 2},
	},
	"asm5": {
		Index: IndexOptions{K: 19, W: 19, MaskLevel: DefaultMaskLevel},
		Chain: ChainOptions{MaxGap: 5000, Bandwidth: 1000, MinCnt: 3, MinChainScore: 40, PriRatio: 0.8, BestN: 5},
		Score: ScoreOptions{Match: 1, Mismatch: 19, GapOpen: 39, GapExt: 3},
	},
	"asm10": {
		Index: IndexOptions{K: 19, W: 19, MaskLevel: DefaultMaskLevel},
		Chain: ChainOptions{MaxGap: 5000, Bandwidth: 1000, MinCnt: 3, MinChainScore: 40, PriRatio: 0.8, BestN: 5},
		Score: ScoreOptions{Match: 1, Mismatch: 9, GapOpen: 16, GapExt: 2},
	},
	"asm20": {
		Index: IndexOptions{K: 19, W: 10, MaskLevel: DefaultMaskLevel},
		Chain: ChainOptions{MaxGap: 5000, Bandwidth: 1000, MinCnt: 3, MinChainScore: 40, PriRatio: 0.8, BestN: 5},
		Score: ScoreOptions{Match: 1, Mismatch: 4, GapOpen: 6, GapExt: 2},
	},
	"splice": {
		Index: IndexOptions{K: 15, W: 5, MaskLevel: DefaultMaskLevel},
		Chain: ChainOptions{MaxGap: 2000, Bandwidth: 200, MinCnt: 3, MinChainScore: 40, PriRatio: 0.8, BestN: 5},
		Score: ScoreOptions{Match: 1, Mismatch: 2, GapOpen: 2, GapExt: 1},
	},
	"ava-ont": {
		Index: IndexOptions{K: 15, W: 5, MaskLevel: DefaultMaskLevel},
		Chain: ChainOptions{MaxGap: 10000, Bandwidth: 500, MinCnt: 3, MinChainScore: 100, PriRatio: 0, BestN: 0},
		Score: ScoreOptions{Match: 2, Mismatch: 4, GapOpen: 4, GapExt: 2},
	},
	"ava-pb": {
		Index: IndexOptions{K: 19, W: 5, MaskLevel: DefaultMaskLevel},
		Chain: ChainOptions{MaxGap: 10000, Bandwidth: 500, MinCnt: 3, MinChainScore: 100, PriRatio: 0, BestN: 0},
		Score: ScoreOptions{Match: 2, Mismatch: 4, GapOpen: 4, GapExt: 2},
	},
}

// Preset returns the options of a named preset.
func Preset(name string) (Options, error) {
	if name == "" {
		name = DefaultPreset
	}
	o, ok := presets[name]
	if !ok {
		return Options{}, fmt.Errorf("%w: unknown preset %q", ErrInvalidOptions, name)
	}
	return o, nil
}

// PresetNames lists the known presets in lexical order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolve starts from the named preset and applies every non-zero field of
// overrides on top of it.
func Resolve(name string, overrides Options) (Options, error) {
	o, err := Preset(name)
	if err != nil {
		return Options{}, err
	}
	setInt(&o.Index.K, overrides.Index.K)
	setInt(&o.Index.W, overrides.Index.W)
	if overrides.Index.MaskLevel > 0 {
		o.Index.MaskLevel = overrides.Index.MaskLevel
	}

	setInt(&o.Chain.MaxGap, overrides.Chain.MaxGap)
	setInt(&o.Chain.Bandwidth, overrides.Chain.Bandwidth)
	setInt(&o.Chain.MinCnt, overrides.Chain.MinCnt)
	setInt(&o.Chain.MinChainScore, overrides.Chain.MinChainScore)
	setInt(&o.Chain.BestN, overrides.Chain.BestN)
	if overrides.Chain.PriRatio > 0 {
		o.Chain.PriRatio = overrides.Chain.PriRatio
	}

	setInt(&o.Score.Match, overrides.Score.Match)
	setInt(&o.Score.Mismatch, overrides.Score.Mismatch)
	setInt(&o.Score.GapOpen, overrides.Score.GapOpen)
	setInt(&o.Score.GapExt, overrides.Score.GapExt)

	return o, o.Validate()
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// Validate checks parameter ranges.
func (o Options) Validate() error {
	switch {
	case o.Index.K < 2 || o.Index.K > 28:
		return fmt.Errorf("%w: k=%d outside [2,28]", ErrInvalidOptions, o.Index.K)
	case o.Index.W < 1:
		return fmt.Errorf("%w: w=%d must be positive", ErrInvalidOptions, o.Index.W)
	case o.Index.MaskLevel < 0 || o.Index.MaskLevel > 1:
		return fmt.Errorf("%w: mask level %g outside [0,1]", ErrInvalidOptions, o.Index.MaskLevel)
	case o.Chain.PriRatio < 0 || o.Chain.PriRatio > 1:
		return fmt.Errorf("%w: pri ratio %g outside [0,1]", ErrInvalidOptions, o.Chain.PriRatio)
	case o.Chain.MaxGap < 0 || o.Chain.Bandwidth < 0 || o.Chain.MinCnt < 0 ||
		o.Chain.MinChainScore < 0 || o.Chain.BestN < 0:
		return fmt.Errorf("%w: chaining parameters must not be negative", ErrInvalidOptions)
	case o.Score.Match < 0 || o.Score.Mismatch < 0 || o.Score.GapOpen < 0 || o.Score.GapExt < 0:
		return fmt.Errorf("%w: scores must not be negative", ErrInvalidOptions)
	}
	return nil
}
