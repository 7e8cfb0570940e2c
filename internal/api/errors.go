package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"mission-control/internal/objectsource"
	"mission-control/internal/service"
)

const maxBodyBytes = 8 << 20

var errBadRequest = errors.New("bad request")

// validator is implemented by every request payload.
type validator interface {
	Validate() error
}

// decode reads a JSON body into dst, rejecting unknown fields, then validates
// it. An empty body is accepted when allowEmpty is set.
func decode(w http.ResponseWriter, r *http.Request, dst validator, allowEmpty bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			return fmt.Errorf("%w: invalid json: %v", errBadRequest, err)
		}
	}
	if dec.More() {
		return fmt.Errorf("%w: body must hold a single JSON object", errBadRequest)
	}
	return dst.Validate()
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound), errors.Is(err, objectsource.ErrObjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, objectsource.ErrObjectTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, service.ErrSourceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError && code != http.StatusServiceUnavailable {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
