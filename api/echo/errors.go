package echo

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/nutrifit/integrations/apperrors"
)

func errorBody(code, message string) map[string]string {
	return map[string]string{"errorCode": code, "error": message}
}

// writeError maps a classified error to its HTTP status. Unclassified errors
// become opaque 500s.
func writeError(c echo.Context, err error) error {
	code := apperrors.CodeOf(err)
	status := http.StatusInternalServerError

	switch code {
	case apperrors.CodeValidation:
		status = http.StatusBadRequest
	case apperrors.CodeNotFound:
		status = http.StatusNotFound
	case apperrors.CodeAuthExpired:
		status = http.StatusUnauthorized
	case apperrors.CodeRateLimited:
		status = http.StatusTooManyRequests
		if retryAfter := apperrors.RetryAfterOf(err); retryAfter > 0 {
			c.Response().Header().Set("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
		}
	case apperrors.CodeSyncInProgress:
		status = http.StatusConflict
	case apperrors.CodeSubscriptionRequired:
		status = http.StatusForbidden
	case apperrors.CodeConfiguration, apperrors.CodeDecryption:
		status = http.StatusInternalServerError
	case apperrors.CodeSync:
		status = http.StatusBadGateway
	}

	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("code", code).Msg("request failed")
	}
	return c.JSON(status, errorBody(code, err.Error()))
}
