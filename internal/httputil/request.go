package httputil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/the-pines/frog/internal/errors"
)

// DefaultMaxBodyBytes bounds JSON request bodies.
const DefaultMaxBodyBytes = 1 << 20

// ReadAllWithLimit reads at most limit bytes and reports whether the
// stream had more.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, bool, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > limit {
		return data[:limit], true, nil
	}
	return data, false, nil
}

// ReadAllStrict reads the stream and fails if it exceeds limit bytes.
func ReadAllStrict(r io.Reader, limit int64) ([]byte, error) {
	data, truncated, err := ReadAllWithLimit(r, limit)
	if err != nil {
		return nil, err
	}
	if truncated {
		return nil, fmt.Errorf("body exceeds %d bytes", limit)
	}
	return data, nil
}

// DecodeJSON decodes the request body into v and validates it. On failure
// it writes the 400 response and returns false.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := decodeBody(r, v); err != nil {
		WriteServiceError(w, err)
		return false
	}
	return true
}

func decodeBody(r *http.Request, v interface{}) *errors.ServiceError {
	if r.Body == nil {
		return errors.BadRequest("Invalid body").WithDetails("body", "required")
	}
	data, err := ReadAllStrict(r.Body, DefaultMaxBodyBytes)
	if err != nil {
		return errors.BadRequest("Invalid body").WithDetails("body", err.Error())
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return errors.BadRequest("Invalid body").WithDetails("body", "required")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.BadRequest("Invalid body").WithDetails("body", err.Error())
	}
	if fields := ValidateStruct(v); len(fields) > 0 {
		return errors.Validation(fields)
	}
	return nil
}
