// Package httpx provides HTTP response utilities following RFC7807 problem details.
package httpx

import (
	"encoding/json"
	"net/http"
)

// ProblemDetail represents RFC7807 problem details. Retryable marks
// operational failures the client may safely retry.
type ProblemDetail struct {
	Type      string `json:"type,omitempty"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Problem sends an RFC7807 problem details response.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	problem(w, ProblemDetail{
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// RetryableProblem sends a problem response flagged as safe to retry.
func RetryableProblem(w http.ResponseWriter, status int, title, detail string) {
	problem(w, ProblemDetail{
		Title:     title,
		Status:    status,
		Detail:    detail,
		Retryable: true,
	})
}

func problem(w http.ResponseWriter, detail ProblemDetail) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(detail.Status)
	_ = json.NewEncoder(w).Encode(detail)
}

// DecodeJSON decodes the JSON request body into the target struct.
func DecodeJSON(r *http.Request, target any) error {
	return json.NewDecoder(r.Body).Decode(target)
}
