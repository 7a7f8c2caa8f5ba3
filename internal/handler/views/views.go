// Package views renders the results browser pages. The pages are templ
// components; run templ generate after editing a .templ file.
package views

import (
	"context"
	"strconv"

	appI18n "github.com/pavelanni/mathbench/internal/i18n"
	"github.com/pavelanni/mathbench/internal/model"
)

// IndexData feeds the evaluation list page.
type IndexData struct {
	BasePath    string
	Evaluations []model.StoredEvaluation
	Models      []string
	Profiles    []string
	Filter      model.EvaluationFilter
	LastRun     model.RunInfo
	Notice      string
}

// DetailData feeds the single evaluation page. Result is nil when the
// result file could not be read.
type DetailData struct {
	BasePath    string
	Evaluation  model.StoredEvaluation
	Result      *model.EvaluationResult
	FileMissing bool
}

// GroupLabel returns "Group N: name" in the request language.
func GroupLabel(ctx context.Context, g model.PromptGroup) string {
	return appI18n.Td(ctx, "GroupN", map[string]any{"N": int(g)}) + ": " + appI18n.T(ctx, "GroupName"+strconv.Itoa(int(g)))
}

func tokensText(n *int) string {
	if n == nil {
		return "-"
	}
	return strconv.Itoa(*n)
}

func groupOptions() []string {
	opts := make([]string, 0, len(model.AllGroups))
	for _, g := range model.AllGroups {
		opts = append(opts, strconv.Itoa(int(g)))
	}
	return opts
}

// groupValue is the selected filter option; zero means any group.
func groupValue(g model.PromptGroup) string {
	if g == 0 {
		return ""
	}
	return strconv.Itoa(int(g))
}
