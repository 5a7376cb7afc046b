package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/insikl/messaging-admin-ambassador/internal/models"
)

// APIError is a non-2xx reply from the admin endpoint.
type APIError struct {
	Status  int
	Code    string
	Message string
	Body    []byte
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("admin API %d %s: %s", e.Status, e.Code, e.Message)
	}
	msg := strings.TrimSpace(string(e.Body))
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("admin API %d: %s", e.Status, msg)
}

func newAPIError(resp *RawResponse) *APIError {
	e := &APIError{Status: resp.Status, Body: resp.Body}
	var r models.Response
	if json.Unmarshal(resp.Body, &r) == nil {
		e.Code = r.Code
		e.Message = r.Message
	}
	return e
}

// IsNotFound reports whether err is a 404 from the admin endpoint.
func IsNotFound(err error) bool {
	var e *APIError
	return errors.As(err, &e) && e.Status == http.StatusNotFound
}

// HasCode reports whether err is an admin API error carrying code.
func HasCode(err error, code string) bool {
	var e *APIError
	return errors.As(err, &e) && e.Code == code
}
