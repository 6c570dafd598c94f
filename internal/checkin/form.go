package checkin

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/alecgard/teambeat/internal/team"
)

const (
	// MaxTextLength caps free-text answers, in characters.
	MaxTextLength = 255
	minRating     = 1
	maxRating     = 10
)

// RatingChoices are the accepted raw values for a rating field.
var RatingChoices = func() []string {
	out := make([]string, 0, maxRating-minRating+1)
	for i := minRating; i <= maxRating; i++ {
		out = append(out, strconv.Itoa(i))
	}
	return out
}()

// ValidationError maps answer keys to a message for each rejected field.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid answers: " + strings.Join(parts, "; ")
}

// Field validates the raw value of one question.
type Field interface {
	Key() string
	Question() team.Question
	Parse(raw string) (team.Answer, error)
}

type textField struct {
	key string
	q   team.Question
}

func (f textField) Key() string             { return f.key }
func (f textField) Question() team.Question { return f.q }

func (f textField) Parse(raw string) (team.Answer, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return team.Answer{}, fmt.Errorf("this field is required")
	}
	if n := utf8.RuneCountInString(s); n > MaxTextLength {
		return team.Answer{}, fmt.Errorf("ensure this value has at most %d characters (it has %d)", MaxTextLength, n)
	}
	return team.TextAnswer(s), nil
}

type ratingField struct {
	key string
	q   team.Question
}

func (f ratingField) Key() string             { return f.key }
func (f ratingField) Question() team.Question { return f.q }

func (f ratingField) Parse(raw string) (team.Answer, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return team.Answer{}, fmt.Errorf("this field is required")
	}
	i := slices.Index(RatingChoices, s)
	if i < 0 {
		return team.Answer{}, fmt.Errorf("select a valid choice, %q is not one of the available choices", s)
	}
	return team.RatingAnswer(minRating + i), nil
}

// Form is the answer schema for a team's question list, built once per
// submission load.
type Form struct {
	Fields []Field
}

// NewForm builds one field per question, keyed by position.
func NewForm(questions []team.Question) *Form {
	f := &Form{Fields: make([]Field, 0, len(questions))}
	for i, q := range questions {
		key := team.QuestionKey(i)
		switch q.Kind {
		case team.KindRating:
			f.Fields = append(f.Fields, ratingField{key: key, q: q})
		default:
			f.Fields = append(f.Fields, textField{key: key, q: q})
		}
	}
	return f
}

// Validate parses raw values into answers. Keys that do not name a field are
// ignored. With requireAll set, every field must be present; otherwise
// absent fields are simply left out of the result.
func (f *Form) Validate(raw map[string]string, requireAll bool) (team.Answers, error) {
	answers := team.Answers{}
	errs := map[string]string{}

	for _, field := range f.Fields {
		v, ok := raw[field.Key()]
		if !ok {
			if requireAll {
				errs[field.Key()] = "this field is required"
			}
			continue
		}
		ans, err := field.Parse(v)
		if err != nil {
			errs[field.Key()] = err.Error()
			continue
		}
		answers[field.Key()] = ans
	}

	if len(errs) > 0 {
		return nil, &ValidationError{Fields: errs}
	}
	if len(answers) == 0 {
		return nil, &ValidationError{Fields: map[string]string{"": "no answers submitted"}}
	}
	return answers, nil
}
