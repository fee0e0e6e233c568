package tui

import "time"

// ToastLevel picks a toast's color
type ToastLevel string

const (
	ToastInfo    ToastLevel = "info"
	ToastSuccess ToastLevel = "success"
	ToastWarning ToastLevel = "warning"
	ToastError   ToastLevel = "error"
)

// DefaultToastTTL is how long a toast stays on screen
const DefaultToastTTL = 4 * time.Second

type Toast struct {
	Message string
	Level   ToastLevel
	Expires time.Time
}

// ToastQueue shows one toast at a time, oldest first
type ToastQueue struct {
	items []Toast
}

func NewToastQueue() *ToastQueue {
	return &ToastQueue{}
}

func (queue *ToastQueue) Push(toast Toast) {
	queue.items = append(queue.items, toast)
}

func (queue *ToastQueue) Peek() (Toast, bool) {
	if len(queue.items) == 0 {
		return Toast{}, false
	}
	return queue.items[0], true
}

func (queue *ToastQueue) Pop() (Toast, bool) {
	if len(queue.items) == 0 {
		return Toast{}, false
	}
	item := queue.items[0]
	queue.items = queue.items[1:]
	return item, true
}

func (queue *ToastQueue) Len() int {
	return len(queue.items)
}

// Prune drops expired toasts from the front of the queue
func (queue *ToastQueue) Prune(now time.Time) {
	for len(queue.items) > 0 && !queue.items[0].Expires.IsZero() && now.After(queue.items[0].Expires) {
		queue.items = queue.items[1:]
	}
}
