package metrics

// Observer receives pipeline outcome notifications, labelled by message type.
type Observer interface {
	MessageProcessed(messageType string)
	ValidationFailed(messageType string)
	RetryAttempt(messageType string)
	DeadLettered(messageType string)
	OutboxWriteFailed(messageType string)
	DeadLetterPublishFailed(messageType string)
}

type nopObserver struct{}

// NewNopObserver returns an Observer that discards every notification.
func NewNopObserver() Observer { return nopObserver{} }

func (nopObserver) MessageProcessed(string)        {}
func (nopObserver) ValidationFailed(string)        {}
func (nopObserver) RetryAttempt(string)            {}
func (nopObserver) DeadLettered(string)            {}
func (nopObserver) OutboxWriteFailed(string)       {}
func (nopObserver) DeadLetterPublishFailed(string) {}
