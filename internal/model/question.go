package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// QuestionType enumerates the supported question kinds.
type QuestionType string

const (
	QuestionTypeSingleSelect QuestionType = "SINGLE_SELECT"
	QuestionTypeMultiSelect  QuestionType = "MULTI_SELECT"
	QuestionTypeTrueFalse    QuestionType = "TRUE_FALSE"
	QuestionTypeShortText    QuestionType = "SHORT_TEXT"
	QuestionTypeLongText     QuestionType = "LONG_TEXT"
)

// IsObjective reports whether answers of this type are scored automatically.
func (t QuestionType) IsObjective() bool {
	switch t {
	case QuestionTypeSingleSelect, QuestionTypeMultiSelect, QuestionTypeTrueFalse:
		return true
	}
	return false
}

// HasOptions reports whether the type carries a selectable option set.
func (t QuestionType) HasOptions() bool {
	return t == QuestionTypeSingleSelect || t == QuestionTypeMultiSelect
}

// Valid reports whether t is a known question type.
func (t QuestionType) Valid() bool {
	switch t {
	case QuestionTypeSingleSelect, QuestionTypeMultiSelect, QuestionTypeTrueFalse,
		QuestionTypeShortText, QuestionTypeLongText:
		return true
	}
	return false
}

// Option is one selectable choice of a question.
type Option struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// Question represents a single exam question.
type Question struct {
	ID               uuid.UUID    `json:"id"`
	Type             QuestionType `json:"question_type"`
	Text             string       `json:"question_text"`
	Options          []Option     `json:"options,omitempty"`
	CorrectAnswer    AnswerValue  `json:"correct_answer"`
	Points           float64      `json:"points"`
	Explanation      string       `json:"explanation,omitempty"`
	TimeLimitSeconds *int         `json:"time_limit_seconds,omitempty"`
	OrderNum         int          `json:"order_num"`
}

// Question validation errors.
var (
	ErrNegativePoints      = errors.New("question points must not be negative")
	ErrMissingOptions      = errors.New("selectable question has no options")
	ErrCorrectNotInOptions = errors.New("correct answer is not part of the option set")
	ErrUnknownQuestionType = errors.New("unknown question type")
	ErrMissingCorrect      = errors.New("objective question has no correct answer")
)

// Validate checks the structural invariants of a question.
func (q *Question) Validate() error {
	if !q.Type.Valid() {
		return fmt.Errorf("question %s: %w", q.ID, ErrUnknownQuestionType)
	}
	if q.Points < 0 {
		return fmt.Errorf("question %s: %w", q.ID, ErrNegativePoints)
	}

	switch q.Type {
	case QuestionTypeSingleSelect, QuestionTypeMultiSelect:
		if len(q.Options) == 0 {
			return fmt.Errorf("question %s: %w", q.ID, ErrMissingOptions)
		}
		correct := q.CorrectAnswer.Set()
		if len(correct) == 0 {
			return fmt.Errorf("question %s: %w", q.ID, ErrMissingCorrect)
		}
		if q.Type == QuestionTypeSingleSelect && len(correct) != 1 {
			return fmt.Errorf("question %s: single-select needs exactly one correct option", q.ID)
		}
		keys := q.optionKeys()
		for _, c := range correct {
			if _, ok := keys[c]; !ok {
				return fmt.Errorf("question %s: %w", q.ID, ErrCorrectNotInOptions)
			}
		}
	case QuestionTypeTrueFalse:
		if _, ok := parseBool(q.CorrectAnswer.Text()); !ok {
			return fmt.Errorf("question %s: true/false answer must be true or false", q.ID)
		}
	}
	return nil
}

// AcceptsAnswer reports whether v has a shape this question can store.
// Selectable types only accept known option keys.
func (q *Question) AcceptsAnswer(v AnswerValue) bool {
	if v.IsEmpty() {
		return true
	}
	switch q.Type {
	case QuestionTypeSingleSelect:
		if len(v.Set()) != 1 {
			return false
		}
		_, ok := q.optionKeys()[v.Set()[0]]
		return ok
	case QuestionTypeMultiSelect:
		keys := q.optionKeys()
		for _, s := range v.Set() {
			if _, ok := keys[s]; !ok {
				return false
			}
		}
		return true
	case QuestionTypeTrueFalse:
		_, ok := parseBool(v.Text())
		return ok && !v.IsList()
	default:
		return !v.IsList()
	}
}

// Matches compares a stored answer against the canonical answer.
// Multi-select requires exact set equality.
func (q *Question) Matches(v AnswerValue) bool {
	if v.IsEmpty() {
		return false
	}
	switch q.Type {
	case QuestionTypeTrueFalse:
		got, ok := parseBool(v.Text())
		want, wok := parseBool(q.CorrectAnswer.Text())
		return ok && wok && got == want
	case QuestionTypeSingleSelect, QuestionTypeMultiSelect:
		return equalSet(v.Set(), q.CorrectAnswer.Set())
	}
	return false
}

func (q *Question) optionKeys() map[string]struct{} {
	keys := make(map[string]struct{}, len(q.Options))
	for _, o := range q.Options {
		keys[strings.TrimSpace(o.Key)] = struct{}{}
	}
	return keys
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}

func equalSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// AnswerValue holds either a scalar answer or a list of selections.
// On the wire it is a JSON string or a JSON array of strings.
type AnswerValue struct {
	values []string
	list   bool
}

// ScalarAnswer builds a single-valued answer.
func ScalarAnswer(s string) AnswerValue {
	return AnswerValue{values: []string{s}}
}

// ListAnswer builds a list answer.
func ListAnswer(vs ...string) AnswerValue {
	return AnswerValue{values: append([]string(nil), vs...), list: true}
}

// IsList reports whether the answer was supplied as a list.
func (a AnswerValue) IsList() bool { return a.list }

// IsEmpty reports whether the answer carries no non-blank value.
func (a AnswerValue) IsEmpty() bool {
	for _, v := range a.values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Values returns a copy of the raw values.
func (a AnswerValue) Values() []string {
	return append([]string(nil), a.values...)
}

// Text returns the scalar value, or the list joined by ", ".
func (a AnswerValue) Text() string {
	return strings.Join(a.values, ", ")
}

// Set returns the trimmed, de-duplicated, sorted non-blank values.
func (a AnswerValue) Set() []string {
	seen := make(map[string]struct{}, len(a.values))
	out := make([]string, 0, len(a.values))
	for _, v := range a.values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON emits a string for scalar answers and an array for lists.
func (a AnswerValue) MarshalJSON() ([]byte, error) {
	if a.list {
		if a.values == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(a.values)
	}
	if len(a.values) == 0 {
		return []byte("null"), nil
	}
	return json.Marshal(a.values[0])
}

// UnmarshalJSON accepts a string, an array of strings, or null.
func (a *AnswerValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = AnswerValue{}
		return nil
	}
	if data[0] == '[' {
		var vs []string
		if err := json.Unmarshal(data, &vs); err != nil {
			return fmt.Errorf("answer list: %w", err)
		}
		*a = AnswerValue{values: vs, list: true}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("answer value: %w", err)
	}
	*a = ScalarAnswer(s)
	return nil
}
