// Package quizdocs implements the document cache: durable storage of parsed
// quiz documents in a size-constrained key-value origin, with capacity
// enforcement, failure recovery, cross-instance reconciliation, and change
// notification.
package quizdocs

import (
	"fmt"
	"strconv"
	"time"
	"unicode/utf16"

	"quizzer-backend/internal/quiz"
)

// Record is one cached quiz document plus its metadata. All fields serialize
// structurally; a marshal/unmarshal round trip is lossless.
type Record struct {
	ID            string          `json:"id"`
	Filename      string          `json:"filename"`
	UploadDate    time.Time       `json:"uploadDate"`
	FileSize      int64           `json:"fileSize"`
	Questions     []quiz.Question `json:"questions"`
	QuestionCount int             `json:"questionCount"`
	MCQCount      int             `json:"mcqCount"`
	WrittenCount  int             `json:"writtenCount"`
	LastAccessed  time.Time       `json:"lastAccessed"`
}

// NewRecord builds a record for an uploaded file. The id derives from
// filename, size and the creation timestamp; question counts are computed
// here and never recomputed afterwards.
func NewRecord(filename string, fileSize int64, questions []quiz.Question, now time.Time) Record {
	now = now.UTC()

	rec := Record{
		ID:            hashID(fmt.Sprintf("%s_%d_%d", filename, fileSize, now.UnixMilli())),
		Filename:      filename,
		UploadDate:    now,
		FileSize:      fileSize,
		Questions:     questions,
		QuestionCount: len(questions),
		LastAccessed:  now,
	}
	for _, q := range questions {
		switch q.Type() {
		case quiz.TypeMCQ:
			rec.MCQCount++
		case quiz.TypeWritten:
			rec.WrittenCount++
		}
	}
	return rec
}

// WithID returns a copy of the record under a different identity. Used when a
// re-upload replaces an existing record: the stable id survives the content
// update.
func (r Record) WithID(id string) Record {
	r.ID = id
	return r
}

// TouchAccess bumps the last-accessed timestamp. Persisting the bump is the
// caller's job.
func (r *Record) TouchAccess(now time.Time) {
	r.LastAccessed = now.UTC()
}

// hashID computes a 32-bit rolling polynomial hash (h = h*31 + unit) over the
// UTF-16 code units of s, takes the absolute value, and renders it base36.
// Overflow wraps in int32 on purpose.
func hashID(s string) string {
	var h int32
	for _, unit := range utf16.Encode([]rune(s)) {
		h = h*31 + int32(unit)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return strconv.FormatInt(v, 36)
}
