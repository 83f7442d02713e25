// Package quiz handles the question-file shape at the cache boundary: parsing
// uploaded JSON into question objects and classifying them as multiple-choice
// or written. Question internals beyond that stay opaque to the rest of the
// system.
package quiz

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Question types.
const (
	TypeMCQ     = "mcq"
	TypeWritten = "written"
)

// ErrNotQuestionArray indicates the uploaded file is not a JSON array.
var ErrNotQuestionArray = errors.New("quiz: file does not contain a question array")

// Question is one quiz question. Fields beyond type/options/answer are
// preserved verbatim so serialization round-trips losslessly.
type Question map[string]any

// Type returns the question's declared type, or classifies it: a question with
// both options and answer populated is multiple-choice, anything else is
// written.
func (q Question) Type() string {
	if t, ok := q["type"].(string); ok && t != "" {
		return t
	}
	if populated(q["options"]) && populated(q["answer"]) {
		return TypeMCQ
	}
	return TypeWritten
}

// ParseFile decodes an uploaded question file. The payload must be a JSON
// array; entries that are not objects are dropped.
func ParseFile(data []byte) ([]Question, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotQuestionArray, err)
	}

	questions := make([]Question, 0, len(raw))
	for _, entry := range raw {
		var q Question
		if err := json.Unmarshal(entry, &q); err != nil {
			continue
		}
		if q == nil {
			continue
		}
		questions = append(questions, q)
	}
	return questions, nil
}

func populated(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != ""
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}
