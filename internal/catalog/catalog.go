// Package catalog holds the read-only tables the benchmark is built from:
// the model registry, learner profiles, TIMSS benchmarks and question images.
package catalog

import (
	"errors"
	"fmt"
	"sort"

	"github.com/pavelanni/mathbench/internal/model"
)

var (
	ErrUnknownModel    = errors.New("unknown model")
	ErrUnknownProfile  = errors.New("unknown learner profile")
	ErrUnknownQuestion = errors.New("unknown question")
)

var models = []model.ModelDescriptor{
	{Name: "meta-llama/Llama-3.2-11B-Vision-Instruct", Kind: model.KindLocalVisionInstruct, Description: "Llama 3.2 11B Vision Instruct"},
	{Name: "meta-llama/Llama-3.2-90B-Vision-Instruct", Kind: model.KindLocalVisionInstruct, Description: "Llama 3.2 90B Vision Instruct"},
	{Name: "meta-llama/Llama-4-Scout-17B-16E-Instruct", Kind: model.KindLocalVisionInstruct, Description: "Llama 4 Scout 17B 16E Instruct"},
	{Name: "Qwen/Qwen3-VL-30B-A3B-Instruct", Kind: model.KindLocalVisionInstruct, Description: "Qwen3 VL 30B A3B Instruct"},
	{Name: "gpt-4o", Kind: model.KindHostedChat, Description: "GPT-4o"},
	{Name: "gpt-5", Kind: model.KindHostedChat, Description: "GPT-5"},
	{Name: "o1", Kind: model.KindHostedChat, Description: "O1"},
	{Name: "claude-sonnet-4-20250514", Kind: model.KindHostedVisionChat, Description: "Claude Sonnet 4"},
	{Name: "gemini-2.5-pro", Kind: model.KindHostedGenerative, Description: "Gemini 2.5 Pro"},
}

var modelsByName = func() map[string]model.ModelDescriptor {
	m := make(map[string]model.ModelDescriptor, len(models))
	for _, d := range models {
		m[d.Name] = d
	}
	return m
}()

// Models returns the full registry in declaration order.
func Models() []model.ModelDescriptor {
	out := make([]model.ModelDescriptor, len(models))
	copy(out, models)
	return out
}

// ModelsByKind returns registry entries served by the given backend family.
func ModelsByKind(kind model.BackendKind) []model.ModelDescriptor {
	var out []model.ModelDescriptor
	for _, d := range models {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

// LookupModel finds a registry entry by name.
func LookupModel(name string) (model.ModelDescriptor, error) {
	d, ok := modelsByName[name]
	if !ok {
		return model.ModelDescriptor{}, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	return d, nil
}

// TIMSS 2019 international benchmark thresholds. Grade 4 and grade 8 share
// the same cut points.
const (
	BenchmarkAdvanced     = 625
	BenchmarkHigh         = 550
	BenchmarkIntermediate = 475
	BenchmarkLow          = 400
)

// BenchmarkLevel names the highest TIMSS benchmark a score reaches.
func BenchmarkLevel(score int) string {
	switch {
	case score >= BenchmarkAdvanced:
		return "advanced"
	case score >= BenchmarkHigh:
		return "high"
	case score >= BenchmarkIntermediate:
		return "intermediate"
	case score >= BenchmarkLow:
		return "low"
	}
	return "below_low"
}

const (
	grade4All  = "all mathematics topics in grade 4, including number, measurement and geometry, and data"
	grade4Some = "mathematics topics such as number and data in grade 4"
	grade8All  = "all mathematics topics in grade 8, including number, algebra, geometry and measurement, and data and probability"
	grade8Some = "mathematics topics such as number and algebra in grade 8"
	grade8Few  = "mathematics topics such as number and geometry in grade 4"
)

var profiles = map[string]model.LearnerProfile{
	"grade4_high":   {Grade: 4, LikesMath: true, Confidence: model.ConfidenceHigh, Mastered: grade4All, TIMSSScore: 580},
	"grade4_middle": {Grade: 4, LikesMath: true, Confidence: model.ConfidenceModerate, Mastered: grade4Some, TIMSSScore: 490},
	"grade4_low":    {Grade: 4, LikesMath: false, Confidence: model.ConfidenceLow, Mastered: grade4Some, TIMSSScore: 430},
	"grade8_high":   {Grade: 8, LikesMath: true, Confidence: model.ConfidenceHigh, Mastered: grade8All, TIMSSScore: 590},
	"grade8_middle": {Grade: 8, LikesMath: true, Confidence: model.ConfidenceModerate, Mastered: grade8Some, TIMSSScore: 500},
	"grade8_low":    {Grade: 8, LikesMath: false, Confidence: model.ConfidenceLow, Mastered: grade8Few, TIMSSScore: 440},
}

// Profile returns the learner profile registered under id.
func Profile(id string) (model.LearnerProfile, error) {
	p, ok := profiles[id]
	if !ok {
		return model.LearnerProfile{}, fmt.Errorf("%w: %q", ErrUnknownProfile, id)
	}
	p.BenchmarkLevel = BenchmarkLevel(p.TIMSSScore)
	return p, nil
}

// ProfileIDs returns every profile id in sorted order.
func ProfileIDs() []string {
	ids := make([]string, 0, len(profiles))
	for id := range profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ProfilesByGrade returns the sorted ids of profiles at the given grade.
func ProfilesByGrade(grade int) []string {
	var ids []string
	for _, id := range ProfileIDs() {
		if profiles[id].Grade == grade {
			ids = append(ids, id)
		}
	}
	return ids
}

// Grades lists the grade levels covered by the benchmark.
var Grades = []int{4, 8}
