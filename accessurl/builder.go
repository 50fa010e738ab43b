// Package accessurl builds the links that open the enrolment app already signed in.
package accessurl

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/jrsteele09/go-access-broker/environment"
	"github.com/jrsteele09/go-access-broker/internal/errors"
)

var studentCodePattern = regexp.MustCompile(`^\d+$`)

// Bases maps an environment to the base URL of its enrolment app.
type Bases interface {
	GetURLBase(env environment.Environment) string
}

type Builder struct {
	bases Bases
}

func NewBuilder(bases Bases) *Builder {
	return &Builder{bases: bases}
}

// Build returns {base}/autorizacao-idp/token/{access}/{refresh}/{studentCode}.
func (b *Builder) Build(env environment.Environment, accessToken, refreshToken, studentCode string) (string, error) {
	if !env.Valid() {
		return "", errors.Wrapf(errors.ErrInvalidEnvironment, "%q", env)
	}
	if !ValidStudentCode(studentCode) {
		return "", errors.Wrapf(errors.ErrInvalidRequest, "student code must be numeric")
	}
	base := strings.TrimRight(b.bases.GetURLBase(env), "/")
	if base == "" {
		return "", fmt.Errorf("no base url configured for %s", env)
	}

	return fmt.Sprintf("%s/autorizacao-idp/token/%s/%s/%s",
		base,
		url.PathEscape(accessToken),
		url.PathEscape(refreshToken),
		studentCode,
	), nil
}

func ValidStudentCode(code string) bool {
	return studentCodePattern.MatchString(code)
}
