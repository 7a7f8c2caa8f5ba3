package bench

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pavelanni/mathbench/internal/catalog"
	"github.com/pavelanni/mathbench/internal/llm/prompts"
	"github.com/pavelanni/mathbench/internal/model"
)

// Plan is a batch of evaluations. Empty Profiles means every profile,
// empty Questions means every question of each profile's grade, and empty
// Groups means all four groups.
type Plan struct {
	Name      string              `yaml:"name"`
	Models    []string            `yaml:"models"`
	Profiles  []string            `yaml:"profiles"`
	Questions []string            `yaml:"questions"`
	Groups    []model.PromptGroup `yaml:"groups"`
	Params    *ParamOverrides     `yaml:"params"`
	OutputDir string              `yaml:"output_dir"`

	// Hash is the SHA-256 of the file the plan was loaded from.
	Hash string `yaml:"-"`
}

// ParamOverrides are the generation settings a plan file sets. Only the
// keys present in the file override the base settings.
type ParamOverrides struct {
	MaxNewTokens      *int     `yaml:"max_new_tokens"`
	Temperature       *float64 `yaml:"temperature"`
	TopP              *float64 `yaml:"top_p"`
	TopK              *int     `yaml:"top_k"`
	FrequencyPenalty  *float64 `yaml:"frequency_penalty"`
	PresencePenalty   *float64 `yaml:"presence_penalty"`
	Stop              []string `yaml:"stop"`
	RepetitionPenalty *float64 `yaml:"repetition_penalty"`
	NumBeams          *int     `yaml:"num_beams"`
	DoSample          *bool    `yaml:"do_sample"`
}

// Apply returns base with every present override applied. A nil receiver
// returns base unchanged.
func (o *ParamOverrides) Apply(base model.GenerationParams) model.GenerationParams {
	if o == nil {
		return base
	}
	out := base
	if o.MaxNewTokens != nil {
		out.MaxNewTokens = *o.MaxNewTokens
	}
	if o.Temperature != nil {
		out.Temperature = *o.Temperature
	}
	if o.TopP != nil {
		out.TopP = o.TopP
	}
	if o.TopK != nil {
		out.TopK = o.TopK
	}
	if o.FrequencyPenalty != nil {
		out.FrequencyPenalty = o.FrequencyPenalty
	}
	if o.PresencePenalty != nil {
		out.PresencePenalty = o.PresencePenalty
	}
	if o.Stop != nil {
		out.Stop = o.Stop
	}
	if o.RepetitionPenalty != nil {
		out.RepetitionPenalty = o.RepetitionPenalty
	}
	if o.NumBeams != nil {
		out.NumBeams = o.NumBeams
	}
	if o.DoSample != nil {
		out.DoSample = o.DoSample
	}
	return out
}

// Combination is one (profile, question, group) cell of a plan.
type Combination struct {
	Profile  string
	Question string
	Group    model.PromptGroup
}

// LoadPlan reads and validates a YAML plan file.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan %s: %w", path, err)
	}
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse plan %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("plan %s: %w", path, err)
	}
	sum := sha256.Sum256(data)
	p.Hash = hex.EncodeToString(sum[:])
	return &p, nil
}

// Validate checks every name in the plan against the catalog.
func (p Plan) Validate() error {
	if len(p.Models) == 0 {
		return fmt.Errorf("plan lists no models")
	}
	for _, m := range p.Models {
		if _, err := catalog.LookupModel(m); err != nil {
			return err
		}
	}
	for _, id := range p.Profiles {
		if _, err := catalog.Profile(id); err != nil {
			return err
		}
	}
	for _, id := range p.Questions {
		if _, err := catalog.LookupQuestion(id); err != nil {
			return err
		}
	}
	for _, g := range p.Groups {
		if !g.Valid() {
			return fmt.Errorf("%w: %d (must be 1, 2, 3, or 4)", prompts.ErrInvalidGroup, g)
		}
	}
	if p.Params != nil && p.Params.MaxNewTokens != nil && *p.Params.MaxNewTokens <= 0 {
		return fmt.Errorf("max_new_tokens must be positive")
	}
	return nil
}

// Combinations expands the plan in profile, question, group order.
func (p Plan) Combinations() []Combination {
	profiles := p.Profiles
	if len(profiles) == 0 {
		profiles = catalog.ProfileIDs()
	}
	groups := p.Groups
	if len(groups) == 0 {
		groups = model.AllGroups
	}

	var out []Combination
	for _, profileID := range profiles {
		for _, questionID := range p.questionsFor(profileID) {
			for _, g := range groups {
				out = append(out, Combination{Profile: profileID, Question: questionID, Group: g})
			}
		}
	}
	return out
}

func (p Plan) questionsFor(profileID string) []string {
	if len(p.Questions) > 0 {
		return p.Questions
	}
	profile, err := catalog.Profile(profileID)
	if err != nil {
		return nil
	}
	var ids []string
	for _, q := range catalog.QuestionsByGrade(profile.Grade) {
		ids = append(ids, q.ID)
	}
	return ids
}
