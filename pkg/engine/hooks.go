package engine

import "github.com/taskcast/taskcast/pkg/models"

// Hooks receives lifecycle notifications from the engine and the streaming
// layer. Every field is optional; dispatch is nil-safe so callers never need
// to check which hooks are configured.
type Hooks struct {
	OnTaskFailed     func(task models.Task)
	OnTaskTimeout    func(task models.Task)
	OnUnhandledError func(taskID string, err error)
	OnEventDropped   func(event models.TaskEvent, reason string)
	OnWebhookFailed  func(taskID, url string, err error)
	OnSSEConnect     func(taskID string)
	OnSSEDisconnect  func(taskID string)
}

func (h *Hooks) taskFailed(task models.Task) {
	if h != nil && h.OnTaskFailed != nil {
		h.OnTaskFailed(task)
	}
}

func (h *Hooks) taskTimeout(task models.Task) {
	if h != nil && h.OnTaskTimeout != nil {
		h.OnTaskTimeout(task)
	}
}

// UnhandledError reports an error no other hook covers.
func (h *Hooks) UnhandledError(taskID string, err error) {
	if h != nil && h.OnUnhandledError != nil {
		h.OnUnhandledError(taskID, err)
	}
}

func (h *Hooks) eventDropped(event models.TaskEvent, reason string) {
	if h != nil && h.OnEventDropped != nil {
		h.OnEventDropped(event, reason)
	}
}

// WebhookFailed reports a delivery that exhausted its retries.
func (h *Hooks) WebhookFailed(taskID, url string, err error) {
	if h != nil && h.OnWebhookFailed != nil {
		h.OnWebhookFailed(taskID, url, err)
	}
}

// SSEConnect reports a new stream attaching to a task.
func (h *Hooks) SSEConnect(taskID string) {
	if h != nil && h.OnSSEConnect != nil {
		h.OnSSEConnect(taskID)
	}
}

// SSEDisconnect reports a stream detaching from a task.
func (h *Hooks) SSEDisconnect(taskID string) {
	if h != nil && h.OnSSEDisconnect != nil {
		h.OnSSEDisconnect(taskID)
	}
}
