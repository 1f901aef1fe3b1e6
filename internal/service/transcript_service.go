package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/registrar-api/internal/models"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
	"github.com/noah-isme/registrar-api/pkg/export"
)

type transcriptGradeRepository interface {
	ListByStudent(ctx context.Context, studentID string) ([]models.Grade, error)
}

// TranscriptService renders student academic records as PDF.
type TranscriptService struct {
	grades   transcriptGradeRepository
	students applicationStudentRepository
	pdf      *export.PDFExporter
	logger   *zap.Logger
}

// NewTranscriptService constructs a TranscriptService.
func NewTranscriptService(grades transcriptGradeRepository, students applicationStudentRepository, logger *zap.Logger) *TranscriptService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TranscriptService{grades: grades, students: students, pdf: export.NewPDFExporter(), logger: logger}
}

// TranscriptPDF renders the transcript of records for a student.
// Students may only render their own.
func (s *TranscriptService) TranscriptPDF(ctx context.Context, claims *models.JWTClaims, studentID string) ([]byte, error) {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	if claims.Role == models.RoleStudent && student.UserID != claims.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "transcript belongs to another student")
	}

	grades, err := s.grades.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grades")
	}

	rows := make([]map[string]string, 0, len(grades))
	totalUnits := 0
	for _, grade := range grades {
		totalUnits += grade.Units
		rows = append(rows, map[string]string{
			"term":    fmt.Sprintf("%s %s", grade.AcademicYear, grade.Semester),
			"code":    grade.SubjectCode,
			"subject": grade.SubjectName,
			"units":   fmt.Sprintf("%d", grade.Units),
			"grade":   fmt.Sprintf("%.2f", grade.Grade),
			"remarks": grade.Remarks,
		})
	}

	headerLines := []string{
		fmt.Sprintf("Student: %s (%s)", student.FullName, student.StudentNumber),
	}
	if student.CourseName != nil {
		headerLines = append(headerLines, fmt.Sprintf("Course: %s", *student.CourseName))
	}
	headerLines = append(headerLines, fmt.Sprintf("Total units earned: %d", totalUnits))

	payload, err := s.pdf.Render(export.Dataset{
		Headers: []string{"term", "code", "subject", "units", "grade", "remarks"},
		Rows:    rows,
	}, "Transcript of Records", headerLines)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render transcript")
	}
	return payload, nil
}
