package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"resilient/internal/apierr"
	"resilient/internal/client"
	"resilient/internal/models"
)

const maxRelayBody = 1 << 20

// handleRelay forwards /relay/<target> through the facade. Offline calls are
// answered with 202 and the id of the queued operation.
func (s *HTTPServer) handleRelay(w http.ResponseWriter, r *http.Request) {
	method, ok := models.ParseMethod(r.Method)
	if !ok {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	target := strings.TrimPrefix(r.URL.Path, "/relay")
	if target == "" || target == "/" {
		writeError(w, http.StatusBadRequest, "target is required")
		return
	}
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRelayBody+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}
	if len(raw) > maxRelayBody {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}
	var body any
	if len(raw) > 0 {
		if !json.Valid(raw) {
			writeError(w, http.StatusBadRequest, "body must be JSON")
			return
		}
		body = json.RawMessage(raw)
	}

	var opts []client.CallOption
	if id := r.Header.Get(requestIDHeader); id != "" {
		opts = append(opts, client.WithHeaders(map[string]string{requestIDHeader: id}))
	}

	res, err := s.facade.Request(r.Context(), method, target, body, opts...)
	if err != nil {
		s.writeRelayError(w, err)
		return
	}

	if res.Queued {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"queued":       true,
			"operation_id": res.OperationID,
		})
		return
	}

	if ct := res.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(res.StatusCode)
	_, _ = w.Write(res.Body)
}

func (s *HTTPServer) writeRelayError(w http.ResponseWriter, err error) {
	if errors.Is(err, client.ErrInvalidRequest) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	apiErr := apierr.Classify(err)
	writeJSON(w, apiErr.HTTPStatus(), map[string]any{
		"code":    apiErr.Code,
		"message": apiErr.UserMessage,
	})
}
