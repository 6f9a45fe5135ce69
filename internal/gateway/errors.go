package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// APIError is an error response from the hosted platform. PostgREST and the
// storage API use different field names, so both are accepted.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	ErrorName  string `json:"error"`
	Message    string `json:"message"`
	Details    string `json:"details"`
	Hint       string `json:"hint"`
}

func (e *APIError) Error() string {
	code := e.Code
	if code == "" {
		code = e.ErrorName
	}
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if code != "" {
		return fmt.Sprintf("gateway error %d (%s): %s", e.StatusCode, code, msg)
	}
	return fmt.Sprintf("gateway error %d: %s", e.StatusCode, msg)
}

// errorHandler decodes an unsuccessful response into an *APIError.
func errorHandler(resp *http.Response) error {
	defer resp.Body.Close()

	apiErr := &APIError{StatusCode: resp.StatusCode}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		apiErr.Message = fmt.Sprintf("reading error body: %v", err)
		return apiErr
	}
	if err := json.Unmarshal(body, apiErr); err != nil {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}
