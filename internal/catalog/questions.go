package catalog

import (
	"fmt"
	"sort"

	"github.com/pavelanni/mathbench/internal/model"
)

type gradedQuestion struct {
	grade int
	q     model.Question
}

var questions = map[string]gradedQuestion{
	"G4Q1": {4, model.Question{Number: "TIMSS-2019-4-M01", Domain: "number", Description: "Place value and number operations", ImagePath: "pics/grade4_q1.png"}},
	"G4Q2": {4, model.Question{Number: "TIMSS-2019-4-M02", Domain: "measurement", Description: "Measuring and comparing lengths", ImagePath: "pics/grade4_q2.png"}},
	"G4Q3": {4, model.Question{Number: "TIMSS-2019-4-M03", Domain: "data", Description: "Reading and interpreting data from graphs", ImagePath: "pics/grade4_q3.png"}},

	"G8Q1": {8, model.Question{Number: "TIMSS-2019-8-M01", Domain: "number", Description: "Operations with rational numbers", ImagePath: "pics/grade8_q1.png"}},
	"G8Q2": {8, model.Question{Number: "TIMSS-2019-8-M02", Domain: "algebra", Description: "Linear equations and expressions", ImagePath: "pics/grade8_q2.png"}},
	"G8Q3": {8, model.Question{Number: "TIMSS-2019-8-M03", Domain: "geometry_measurement", Description: "Geometric properties and measurement", ImagePath: "pics/grade8_q3.png"}},
	"G8Q4": {8, model.Question{Number: "TIMSS-2019-8-M04", Domain: "data_probability", Description: "Data analysis and probability", ImagePath: "pics/grade8_q4.png"}},
}

// LookupQuestion returns the question registered under id.
func LookupQuestion(id string) (model.Question, error) {
	gq, ok := questions[id]
	if !ok {
		return model.Question{}, fmt.Errorf("%w: %q", ErrUnknownQuestion, id)
	}
	q := gq.q
	q.ID = id
	return q, nil
}

// QuestionGrade returns the grade a question belongs to, or 0 if unknown.
func QuestionGrade(id string) int {
	return questions[id].grade
}

// QuestionsByGrade returns the questions for a grade, ordered by id.
func QuestionsByGrade(grade int) []model.Question {
	return filterQuestions(func(gq gradedQuestion) bool { return gq.grade == grade })
}

// QuestionsByDomain returns the questions tagged with a domain, ordered by id.
func QuestionsByDomain(domain string) []model.Question {
	return filterQuestions(func(gq gradedQuestion) bool { return gq.q.Domain == domain })
}

func filterQuestions(keep func(gradedQuestion) bool) []model.Question {
	var out []model.Question
	for id, gq := range questions {
		if !keep(gq) {
			continue
		}
		q := gq.q
		q.ID = id
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
