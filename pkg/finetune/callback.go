package finetune

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// Notifier reports terminal run outcomes to the caller's webhook and,
// optionally, signals the upstream service that processing has started.
// Delivery is fire-and-forget: the caller is responsible for handling a
// missed callback out of band.
type Notifier struct {
	client *http.Client
	// StartSignalTemplate is a URL containing {request_id}, POSTed to
	// right after the trainer launches. Empty disables the signal.
	StartSignalTemplate string
	Logf                func(format string, args ...any)
}

// NewNotifier builds a Notifier whose callback POSTs give up after the
// given timeout.
func NewNotifier(timeout time.Duration, startSignalTemplate string, logf func(format string, args ...any)) *Notifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{
		client:              &http.Client{Timeout: timeout},
		StartSignalTemplate: startSignalTemplate,
		Logf:                logf,
	}
}

func (n *Notifier) logf(format string, args ...any) {
	if n.Logf != nil {
		n.Logf(format, args...)
	}
}

// callbackPayload is the wire shape POSTed to the callback URL.
// adapter_path is present only on success, error only on failure.
type callbackPayload struct {
	ID          string  `json:"id"`
	Status      string  `json:"status"`
	Timestamp   float64 `json:"timestamp"`
	AdapterPath string  `json:"adapter_path,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// NotifySuccess reports a completed run with the published adapter path.
func (n *Notifier) NotifySuccess(url, requestID, adapterPath string) {
	n.send(url, callbackPayload{
		ID:          requestID,
		Status:      "success",
		Timestamp:   float64(time.Now().UnixMilli()) / 1000,
		AdapterPath: adapterPath,
	})
}

// NotifyFailure reports a failed or timed-out run.
func (n *Notifier) NotifyFailure(url, requestID, errMsg string) {
	n.send(url, callbackPayload{
		ID:        requestID,
		Status:    "fail",
		Timestamp: float64(time.Now().UnixMilli()) / 1000,
		Error:     errMsg,
	})
}

func (n *Notifier) send(url string, payload callbackPayload) {
	if strings.TrimSpace(url) == "" {
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		n.logf("callback marshal failed for %s: %v", payload.ID, err)
		return
	}

	resp, err := n.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		n.logf("callback failed for %s: %v", payload.ID, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.logf("callback for %s returned status %d", payload.ID, resp.StatusCode)
		return
	}
	n.logf("callback sent for %s: status=%s", payload.ID, payload.Status)
}

// SignalStarted tells the upstream service that a request left the queue
// and is being processed. Best-effort, like the terminal callback.
func (n *Notifier) SignalStarted(requestID string) {
	if strings.TrimSpace(n.StartSignalTemplate) == "" {
		return
	}
	url := strings.ReplaceAll(n.StartSignalTemplate, "{request_id}", requestID)

	resp, err := n.client.Post(url, "application/json", bytes.NewReader(nil))
	if err != nil {
		n.logf("start signal failed for %s: %v", requestID, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.logf("start signal for %s returned status %d", requestID, resp.StatusCode)
	}
}
