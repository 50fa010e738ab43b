// Package softlaunch manages the allow-list that lets individual students into
// re-enrolment ahead of the general opening.
package softlaunch

import (
	"context"
	"time"

	"github.com/jrsteele09/go-access-broker/internal/errors"
)

// Key identifies a student enrolment. Every field is required.
type Key struct {
	CourseCode int64 `json:"codigocurso"`
	PersonaID  int64 `json:"identificadorpersona"`
	CampusCode int64 `json:"codigocampus"`
	PeriodCode int64 `json:"codigoperiodoletivo"`
}

func (k Key) Validate() error {
	if k.CourseCode == 0 || k.PersonaID == 0 || k.CampusCode == 0 || k.PeriodCode == 0 {
		return errors.Wrapf(errors.ErrInvalidRequest,
			"codigocurso, identificadorpersona, codigocampus and codigoperiodoletivo are required")
	}
	return nil
}

// Window is a release period. A student is released on days in [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) Covers(day time.Time) bool {
	return !day.Before(w.Start) && day.Before(w.End)
}

type BlockStatus struct {
	Blocked    bool       `json:"bloqueado"`
	ReleaseEnd *time.Time `json:"dataFimBloqueio,omitempty"`
}

type Store interface {
	BlockStatus(ctx context.Context, key Key) (BlockStatus, error)
	// Release opens a window starting today. It returns the number of rows written.
	Release(ctx context.Context, key Key) (int64, error)
	// Block closes any open window as of today. It returns the number of rows changed.
	Block(ctx context.Context, key Key) (int64, error)
}

// today truncates now to a UTC calendar day.
func today(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func statusFor(w Window, found bool, day time.Time) BlockStatus {
	if !found {
		return BlockStatus{Blocked: true}
	}
	end := w.End
	return BlockStatus{Blocked: !w.Covers(day), ReleaseEnd: &end}
}
