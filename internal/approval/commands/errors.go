package commands

import (
	"fmt"
	"net/http"
	"time"

	apperrors "approval-sync/internal/common/errors"
	"approval-sync/internal/models"
)

// CommandError reports a failed approve or reject. Code is
// EndpointUnavailable for a 404 and ServerRejected otherwise.
type CommandError struct {
	Kind       models.EntityKind
	EntityID   string
	Action     models.Action
	StatusCode int
	Code       apperrors.ErrorCode
	Err        error
}

func (e *CommandError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s %s: %s (status %d)", e.Action, e.Kind, e.EntityID, e.Code, e.StatusCode)
	}
	return fmt.Sprintf("%s %s %s: %s: %v", e.Action, e.Kind, e.EntityID, e.Code, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// newCommandError classifies a backend outcome. err is the backend client's
// error (nil for an unexpected 2xx).
func newCommandError(kind models.EntityKind, id string, action models.Action, status int, err error) *CommandError {
	ce := &CommandError{Kind: kind, EntityID: id, Action: action, StatusCode: status}

	switch {
	case status == http.StatusNotFound:
		ce.Code = apperrors.ErrCodeEndpointUnavailable
		ce.Err = err
		if ce.Err == nil {
			ce.Err = apperrors.NewEndpointUnavailableError(string(action), id)
		}
	case status == 0 && err != nil:
		// Transport failure; the network error stays as the cause.
		ce.Code = apperrors.ErrCodeServerRejected
		ce.Err = &apperrors.StandardError{
			Code:      apperrors.ErrCodeServerRejected,
			Message:   "Backend did not accept the command",
			Details:   err.Error(),
			Retryable: true,
			Timestamp: time.Now().UTC(),
			Cause:     err,
		}
	default:
		ce.Code = apperrors.ErrCodeServerRejected
		ce.Err = err
		if ce.Err == nil || !apperrors.IsCode(ce.Err, apperrors.ErrCodeServerRejected) {
			ce.Err = apperrors.NewServerRejectedError(string(action), id, status)
		}
	}
	return ce
}
