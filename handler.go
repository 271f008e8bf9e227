package paddock

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"

	log "github.com/sirupsen/logrus"
)

// errorResponse is the body of a failed HTTP task invocation.
type errorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// errorTypeName mirrors how the Lambda runtime names returned errors, so
// both transports classify failures identically.
func errorTypeName(err error) string {
	t := reflect.TypeOf(err)
	if t.Kind() == reflect.Ptr {
		return t.Elem().Name()
	}
	return t.Name()
}

// isFatalErrorType reports whether a remote failure of the given type
// cannot be fixed by retrying the invocation.
func isFatalErrorType(name string) bool {
	switch name {
	case "UnknownTaskError", "TaskError", "ConfigurationError":
		return true
	}
	return false
}

func statusForError(err error) int {
	var (
		unknown *UnknownTaskError
		cfgErr  *ConfigurationError
		taskErr *TaskError
		storErr *StorageError
	)
	switch {
	case errors.As(err, &unknown), errors.As(err, &cfgErr):
		return http.StatusBadRequest
	case errors.As(err, &taskErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &storErr):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("Could not write response: %s", err)
	}
}

// ServeHTTP accepts a JSON task in a POST body and responds with the JSON
// task result.
func (co *Coordinator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Type: "MethodNotAllowed", Message: r.Method})
		return
	}

	var t task
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Type: "BadRequest", Message: err.Error()})
		return
	}

	result, err := co.handle(r.Context(), t)
	if err != nil {
		writeJSON(w, statusForError(err), errorResponse{Type: errorTypeName(err), Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleLambdaRequest is the AWS Lambda entry point for task invocations.
func (co *Coordinator) handleLambdaRequest(ctx context.Context, t task) (taskResult, error) {
	return co.handle(ctx, t)
}
