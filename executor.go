package paddock

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
)

// executor delivers task invocations to a coordinator.
type executor interface {
	Invoke(ctx context.Context, t task) (taskResult, error)
}

// localExecutor runs tasks against an in-process coordinator.
type localExecutor struct {
	coordinator *Coordinator
}

func (l localExecutor) Invoke(ctx context.Context, t task) (taskResult, error) {
	return l.coordinator.handle(ctx, t)
}

// httpExecutor POSTs tasks to a coordinator served over HTTP.
type httpExecutor struct {
	client   *http.Client
	endpoint string
}

func newHTTPExecutor(endpoint string) *httpExecutor {
	return &httpExecutor{
		client:   &http.Client{},
		endpoint: endpoint,
	}
}

func (h *httpExecutor) Invoke(ctx context.Context, t task) (taskResult, error) {
	payload, err := json.Marshal(t)
	if err != nil {
		return taskResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(payload))
	if err != nil {
		return taskResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return taskResult{}, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return taskResult{}, &TransportError{Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		if jsonErr := json.Unmarshal(body, &errResp); jsonErr != nil {
			errResp.Message = string(body)
		}
		err := fmt.Errorf("%s %s: %s", t.Kind, resp.Status, errResp.Message)
		if retryableStatus(resp.StatusCode) && !isFatalErrorType(errResp.Type) {
			return taskResult{}, &TransportError{Err: err}
		}
		return taskResult{}, err
	}

	var result taskResult
	if err := json.Unmarshal(body, &result); err != nil {
		return taskResult{}, &TransportError{Err: fmt.Errorf("malformed %s response: %w", t.Kind, err)}
	}
	return result, nil
}

func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}
