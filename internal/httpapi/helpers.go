package httpapi

import (
	"errors"
	"strings"
	"time"

	"license-controlplane/pkg/errutil"

	"github.com/go-playground/validator/v10"
)

var errNotConfigured = errutil.NotImplemented("catalog service is not configured", nil)

// invalidRequest converts gin binding failures into the shared error
// envelope, preserving per-field validator messages.
func invalidRequest(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		details := make([]errutil.Detail, 0, len(verrs))
		for _, fe := range verrs {
			details = append(details, errutil.Detail{
				Field:   strings.ToLower(fe.Field()),
				Message: fe.Tag(),
			})
		}
		return errutil.ValidationFailed("request validation failed", nil, errutil.WithDetails(details...))
	}

	return errutil.BadRequest("malformed request body", err)
}

// mustDate parses a binding-validated date. Binding guarantees the layout.
func mustDate(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}
