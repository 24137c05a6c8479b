// Package model holds the whisper model registry and the in-memory
// model cache shared by local transcription workers.
package model

import (
	"path/filepath"
	"sort"
)

const Default = "small"

// Spec describes a downloadable whisper model. RAMWeightMB is the
// approximate resident cost of keeping the model loaded and drives
// cache eviction and downsizing decisions.
type Spec struct {
	Name        string
	FileName    string
	URL         string
	SHA256      string
	RAMWeightMB int64
}

var registry = map[string]Spec{
	"tiny": {
		Name:        "tiny",
		FileName:    "ggml-tiny.bin",
		URL:         "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-tiny.bin",
		SHA256:      "be07e048e1e599ad46341c8d2a135645097a538221678b7acdd1b1919c6e1b21",
		RAMWeightMB: 39,
	},
	"base": {
		Name:        "base",
		FileName:    "ggml-base.bin",
		URL:         "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-base.bin",
		SHA256:      "60ed5bc3dd14eea856493d334349b405782ddcaf0028d4b5df4088345fba2efe",
		RAMWeightMB: 74,
	},
	"small": {
		Name:        "small",
		FileName:    "ggml-small.bin",
		URL:         "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-small.bin",
		SHA256:      "1be3a9b2063867b937e64e2ec7483364a79917e157fa98c5d94b5c1fffea987b",
		RAMWeightMB: 244,
	},
	"medium": {
		Name:        "medium",
		FileName:    "ggml-medium.bin",
		URL:         "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-medium.bin",
		SHA256:      "6c14d5adee5f86394037b4e4e8b59f1673b6cee10e3cf0b11bbdbee79c156208",
		RAMWeightMB: 769,
	},
	"large-v3": {
		Name:        "large-v3",
		FileName:    "ggml-large-v3.bin",
		URL:         "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-large-v3.bin",
		SHA256:      "64d182b440b98d5203c4f9bd541544d84c605196c4f7b845dfa11fb23594d1e2",
		RAMWeightMB: 1550,
	},
}

// ladder orders models from heaviest to lightest for downsizing.
var ladder = []string{"large-v3", "medium", "small", "base", "tiny"}

func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func Lookup(name string) (Spec, bool) {
	spec, ok := registry[name]
	return spec, ok
}

// Path returns where this model lives inside the given model directory.
func (s Spec) Path(dir string) string {
	return filepath.Join(dir, s.FileName)
}

// SmallerTier returns the next lighter model below name, if any.
func SmallerTier(name string) (Spec, bool) {
	for i, n := range ladder {
		if n == name && i+1 < len(ladder) {
			return registry[ladder[i+1]], true
		}
	}
	return Spec{}, false
}

// FitWithinBudget walks down from the preferred model until one fits the
// RAM budget in MB. A budget of zero disables downsizing. Returns false
// when not even the lightest tier fits.
func FitWithinBudget(preferred string, budgetMB int64) (Spec, bool) {
	spec, ok := Lookup(preferred)
	if !ok {
		return Spec{}, false
	}
	if budgetMB <= 0 {
		return spec, true
	}
	for {
		if spec.RAMWeightMB <= budgetMB {
			return spec, true
		}
		next, ok := SmallerTier(spec.Name)
		if !ok {
			return Spec{}, false
		}
		spec = next
	}
}
