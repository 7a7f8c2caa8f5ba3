package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"text/template"

	"github.com/pavelanni/mathbench/internal/catalog"
	"github.com/pavelanni/mathbench/internal/model"
)

//go:embed templates/*.txt templates/*.tmpl
var templateFS embed.FS

// ErrInvalidGroup is returned for a prompt group outside 1..4.
var ErrInvalidGroup = errors.New("invalid prompt group")

var (
	loadOnce     sync.Once
	loadErr      error
	baseText     string
	gradeBlocks  map[int]string
	timssText    string
	userTemplate *template.Template
)

// UserData holds template data for the learner's self-description.
type UserData struct {
	Grade            int
	LikesMath        bool
	ConfidencePhrase string
	Mastered         string
	TIMSSScore       int
}

// Load parses the embedded templates. It is called lazily by Compose and
// only does work once.
func Load() error {
	loadOnce.Do(func() {
		loadErr = load(templateFS)
	})
	return loadErr
}

func load(fsys fs.FS) error {
	read := func(name string) (string, error) {
		b, err := fs.ReadFile(fsys, "templates/"+name)
		if err != nil {
			return "", fmt.Errorf("read prompt file %s: %w", name, err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	var err error
	if baseText, err = read("base.txt"); err != nil {
		return err
	}
	gradeBlocks = make(map[int]string)
	for _, g := range catalog.Grades {
		block, err := read(fmt.Sprintf("grade%d.txt", g))
		if err != nil {
			return err
		}
		gradeBlocks[g] = block
	}

	if timssText, err = read("timss.txt"); err != nil {
		return err
	}

	raw, err := read("user.tmpl")
	if err != nil {
		return err
	}
	userTemplate, err = template.New("user").Parse(raw)
	if err != nil {
		return fmt.Errorf("parse prompt template user.tmpl: %w", err)
	}
	return nil
}

// Compose returns the (system, user) prompt pair for a group and profile.
func Compose(group model.PromptGroup, profileID string) (string, string, error) {
	if err := Load(); err != nil {
		return "", "", err
	}
	profile, err := catalog.Profile(profileID)
	if err != nil {
		return "", "", err
	}
	if !group.Valid() {
		return "", "", fmt.Errorf("%w: %d (must be 1, 2, 3, or 4)", ErrInvalidGroup, group)
	}

	switch group {
	case model.GroupImageOnly:
		return "", "", nil
	case model.GroupUserOnly:
		user, err := UserPrompt(profile)
		return "", user, err
	}

	user, err := UserPrompt(profile)
	if err != nil {
		return "", "", err
	}
	return SystemPrompt(profile.Grade, group == model.GroupBenchmark), user, nil
}

// SystemPrompt builds the instructor directive for a grade, optionally
// followed by the TIMSS benchmark thresholds.
func SystemPrompt(grade int, withBenchmarks bool) string {
	parts := []string{baseText}
	block, ok := gradeBlocks[grade]
	if !ok {
		return baseText
	}
	parts = append(parts, block)
	if withBenchmarks {
		parts = append(parts, timssText)
	}
	return strings.Join(parts, "\n\n")
}

// UserPrompt renders the learner's self-description.
func UserPrompt(p model.LearnerProfile) (string, error) {
	var buf bytes.Buffer
	err := userTemplate.Execute(&buf, UserData{
		Grade:            p.Grade,
		LikesMath:        p.LikesMath,
		ConfidencePhrase: confidencePhrase(p.Confidence),
		Mastered:         p.Mastered,
		TIMSSScore:       p.TIMSSScore,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

func confidencePhrase(c model.Confidence) string {
	switch c {
	case model.ConfidenceHigh:
		return "I am very confident in mathematics."
	case model.ConfidenceModerate:
		return "I am confident in mathematics."
	}
	return "I am not confident in mathematics."
}

// Messages arranges composed prompts into the message list sent to a
// backend. Group 1 is a single user message with empty content.
func Messages(group model.PromptGroup, system, user string) []model.Message {
	switch group {
	case model.GroupImageOnly:
		return []model.Message{{Role: model.RoleUser, Content: ""}}
	case model.GroupUserOnly:
		return []model.Message{{Role: model.RoleUser, Content: user}}
	}
	var msgs []model.Message
	if system != "" {
		msgs = append(msgs, model.Message{Role: model.RoleSystem, Content: system})
	}
	return append(msgs, model.Message{Role: model.RoleUser, Content: user})
}
