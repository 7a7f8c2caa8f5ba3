package prompts

import (
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/pavelanni/mathbench/internal/catalog"
	"github.com/pavelanni/mathbench/internal/model"
)

func TestComposeGroupImageOnly(t *testing.T) {
	for _, id := range catalog.ProfileIDs() {
		system, user, err := Compose(model.GroupImageOnly, id)
		if err != nil {
			t.Fatalf("Compose(1, %s): %v", id, err)
		}
		if system != "" || user != "" {
			t.Errorf("Compose(1, %s) = (%q, %q), want empty", id, system, user)
		}
	}
}

func TestComposeGroupUserOnly(t *testing.T) {
	for _, id := range catalog.ProfileIDs() {
		p, _ := catalog.Profile(id)
		system, user, err := Compose(model.GroupUserOnly, id)
		if err != nil {
			t.Fatalf("Compose(2, %s): %v", id, err)
		}
		if system != "" {
			t.Errorf("%s: system prompt should be empty, got %q", id, system)
		}
		if !strings.Contains(user, strconv.Itoa(p.Grade)) {
			t.Errorf("%s: user prompt should contain grade %d", id, p.Grade)
		}
		if !strings.Contains(user, strconv.Itoa(p.TIMSSScore)) {
			t.Errorf("%s: user prompt should contain TIMSS score %d", id, p.TIMSSScore)
		}
		if !strings.HasSuffix(user, "Can you teach me this math question?") {
			t.Errorf("%s: user prompt should end with the request sentence, got %q", id, user)
		}
	}
}

func TestComposeBenchmarkSentence(t *testing.T) {
	for _, id := range catalog.ProfileIDs() {
		sys3, user3, err := Compose(model.GroupCurriculum, id)
		if err != nil {
			t.Fatalf("Compose(3, %s): %v", id, err)
		}
		sys4, user4, err := Compose(model.GroupBenchmark, id)
		if err != nil {
			t.Fatalf("Compose(4, %s): %v", id, err)
		}
		if strings.Contains(sys3, "TIMSS 2019") {
			t.Errorf("%s: group 3 system prompt must not mention TIMSS 2019", id)
		}
		if !strings.Contains(sys4, "TIMSS 2019") {
			t.Errorf("%s: group 4 system prompt must mention TIMSS 2019", id)
		}
		if !strings.HasPrefix(sys4, sys3) {
			t.Errorf("%s: group 4 system prompt should extend group 3", id)
		}
		if user3 != user4 {
			t.Errorf("%s: user prompts differ between groups 3 and 4", id)
		}
	}
}

func TestComposeBenchmarkWording(t *testing.T) {
	tests := []struct {
		profile string
		want    string
	}{
		{"grade4_low", "advanced 550-625 (~5%), high 475-550 (~25%), intermediate 400-475 (~56%), low below 400 (~87% reach at least low)."},
		{"grade8_high", "According to TIMSS 2019 international benchmarks: advanced 550-625 (~5%)"},
	}
	for _, tt := range tests {
		sys, _, err := Compose(model.GroupBenchmark, tt.profile)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.HasSuffix(sys, "(~87% reach at least low).") || !strings.Contains(sys, tt.want) {
			t.Errorf("%s: benchmark sentence not found in:\n%s", tt.profile, sys)
		}
	}
}

func TestComposeGradeBlock(t *testing.T) {
	sys, _, err := Compose(model.GroupCurriculum, "grade8_high")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(sys, "Grade 8 Focus") || strings.Contains(sys, "Grade 4 Focus") {
		t.Errorf("grade 8 profile got wrong curriculum block:\n%s", sys)
	}
}

func TestComposeInvalid(t *testing.T) {
	tests := []struct {
		name    string
		group   model.PromptGroup
		profile string
		want    error
	}{
		{"unknown profile", model.GroupBenchmark, "profile_99", catalog.ErrUnknownProfile},
		{"group zero", 0, "grade4_low", ErrInvalidGroup},
		{"group five", 5, "grade4_low", ErrInvalidGroup},
		{"negative group", -1, "grade8_low", ErrInvalidGroup},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			system, user, err := Compose(tt.group, tt.profile)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if system != "" || user != "" {
				t.Error("no prompt text should be returned on error")
			}
		})
	}
}

func TestUserPromptAttitude(t *testing.T) {
	_, user, err := Compose(model.GroupUserOnly, "grade4_low")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(user, "I don't like learning mathematics") {
		t.Errorf("missing attitude sentence: %q", user)
	}
	if !strings.Contains(user, "I am not confident in mathematics.") {
		t.Errorf("missing confidence sentence: %q", user)
	}

	_, user, err = Compose(model.GroupUserOnly, "grade8_high")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(user, "I like learning mathematics very much") ||
		!strings.Contains(user, "I am very confident in mathematics.") {
		t.Errorf("unexpected high-profile prompt: %q", user)
	}
}

func TestMessages(t *testing.T) {
	tests := []struct {
		name      string
		group     model.PromptGroup
		system    string
		user      string
		wantRoles []model.Role
	}{
		{"image only", model.GroupImageOnly, "", "", []model.Role{model.RoleUser}},
		{"user only", model.GroupUserOnly, "", "hi", []model.Role{model.RoleUser}},
		{"curriculum", model.GroupCurriculum, "sys", "hi", []model.Role{model.RoleSystem, model.RoleUser}},
		{"benchmark without system text", model.GroupBenchmark, "", "hi", []model.Role{model.RoleUser}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs := Messages(tt.group, tt.system, tt.user)
			if len(msgs) != len(tt.wantRoles) {
				t.Fatalf("got %d messages, want %d", len(msgs), len(tt.wantRoles))
			}
			for i, m := range msgs {
				if m.Role != tt.wantRoles[i] {
					t.Errorf("[%d] role %s, want %s", i, m.Role, tt.wantRoles[i])
				}
			}
		})
	}

	msgs := Messages(model.GroupImageOnly, "ignored", "ignored")
	if msgs[0].Content != "" {
		t.Errorf("group 1 content should be empty, got %q", msgs[0].Content)
	}
}
