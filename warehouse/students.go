package warehouse

import (
	"context"
	"fmt"
	"strings"

	"github.com/jrsteele09/go-access-broker/internal/config"
	"github.com/jrsteele09/go-access-broker/internal/errors"
)

const studentSearchLimit = 50

var studentColumns = []string{
	"codigo_aluno",
	"nome_completo",
	"email",
	"cpf",
	"status_matricula",
	"curso",
	"periodo_atual",
	"data_matricula",
	"data_nascimento",
	"telefone",
	"endereco",
}

// StudentSearch holds the optional filters of a student lookup. At least one must be set.
type StudentSearch struct {
	StudentCode string `json:"studentCode"`
	SearchTerm  string `json:"searchTerm"`
	Course      string `json:"course"`
	Status      string `json:"status"`
}

func (s StudentSearch) Empty() bool {
	return strings.TrimSpace(s.StudentCode) == "" &&
		strings.TrimSpace(s.SearchTerm) == "" &&
		strings.TrimSpace(s.Course) == "" &&
		strings.TrimSpace(s.Status) == ""
}

type Student struct {
	Code          string `json:"codigo_aluno"`
	FullName      string `json:"nome_completo"`
	Email         string `json:"email"`
	CPF           string `json:"cpf"`
	Status        string `json:"status_matricula"`
	Course        string `json:"curso"`
	CurrentPeriod string `json:"periodo_atual"`
	EnrolledOn    string `json:"data_matricula"`
	BirthDate     string `json:"data_nascimento"`
	Phone         string `json:"telefone"`
	Address       string `json:"endereco"`
}

// BuildStudentQuery returns the SQL and named parameters for s. Values are never
// interpolated into the statement.
func BuildStudentQuery(s StudentSearch) (string, []Parameter) {
	var sb strings.Builder
	var params []Parameter

	fmt.Fprintf(&sb, "SELECT %s FROM students.alunos WHERE 1=1", strings.Join(studentColumns, ", "))

	if code := strings.TrimSpace(s.StudentCode); code != "" {
		sb.WriteString(" AND codigo_aluno = :studentCode")
		params = append(params, Parameter{Name: "studentCode", Value: code, Type: "STRING"})
	}
	if term := strings.TrimSpace(s.SearchTerm); term != "" {
		sb.WriteString(" AND (LOWER(nome_completo) LIKE LOWER(:searchTerm) OR LOWER(email) LIKE LOWER(:searchTerm) OR cpf = :exactTerm)")
		params = append(params,
			Parameter{Name: "searchTerm", Value: "%" + term + "%", Type: "STRING"},
			Parameter{Name: "exactTerm", Value: term, Type: "STRING"},
		)
	}
	if course := strings.TrimSpace(s.Course); course != "" {
		sb.WriteString(" AND LOWER(curso) LIKE LOWER(:course)")
		params = append(params, Parameter{Name: "course", Value: "%" + course + "%", Type: "STRING"})
	}
	if status := strings.TrimSpace(s.Status); status != "" {
		sb.WriteString(" AND status_matricula = :status")
		params = append(params, Parameter{Name: "status", Value: status, Type: "STRING"})
	}

	fmt.Fprintf(&sb, " ORDER BY nome_completo ASC LIMIT %d", studentSearchLimit)
	return sb.String(), params
}

// ParseStudents maps result rows positionally onto Student. Short rows leave trailing fields empty.
func ParseStudents(r Result) []Student {
	students := make([]Student, 0, len(r.Rows))
	for _, row := range r.Rows {
		col := func(i int) string {
			if i >= len(row) || row[i] == nil {
				return ""
			}
			return fmt.Sprint(row[i])
		}
		students = append(students, Student{
			Code:          col(0),
			FullName:      col(1),
			Email:         col(2),
			CPF:           col(3),
			Status:        col(4),
			Course:        col(5),
			CurrentPeriod: col(6),
			EnrolledOn:    col(7),
			BirthDate:     col(8),
			Phone:         col(9),
			Address:       col(10),
		})
	}
	return students
}

// SearchStudents runs a student lookup in the given workspace.
func (c *Client) SearchStudents(ctx context.Context, ws config.Workspace, s StudentSearch) ([]Student, error) {
	if s.Empty() {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "at least one search criterion is required")
	}

	statement, params := BuildStudentQuery(s)
	result, err := c.Execute(ctx, ws, statement, params)
	if err != nil {
		return nil, err
	}
	return ParseStudents(result), nil
}
