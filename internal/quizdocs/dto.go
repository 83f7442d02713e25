package quizdocs

import (
	"time"

	"quizzer-backend/internal/quiz"
)

// DocumentSummary is the history-list projection of a record: everything the
// UI needs to render a row, without the question payload.
type DocumentSummary struct {
	DocumentID    string    `json:"documentId"`
	Filename      string    `json:"filename"`
	UploadDate    time.Time `json:"uploadDate"`
	FileSize      int64     `json:"fileSize"`
	QuestionCount int       `json:"questionCount"`
	MCQCount      int       `json:"mcqCount"`
	WrittenCount  int       `json:"writtenCount"`
	LastAccessed  time.Time `json:"lastAccessed"`
}

// DocumentResponse is the full outward representation of a record, questions
// included.
type DocumentResponse struct {
	DocumentSummary
	Questions []quiz.Question `json:"questions"`
}

func toSummary(rec Record) DocumentSummary {
	return DocumentSummary{
		DocumentID:    rec.ID,
		Filename:      rec.Filename,
		UploadDate:    rec.UploadDate,
		FileSize:      rec.FileSize,
		QuestionCount: rec.QuestionCount,
		MCQCount:      rec.MCQCount,
		WrittenCount:  rec.WrittenCount,
		LastAccessed:  rec.LastAccessed,
	}
}

func toResponse(rec Record) DocumentResponse {
	return DocumentResponse{
		DocumentSummary: toSummary(rec),
		Questions:       rec.Questions,
	}
}
