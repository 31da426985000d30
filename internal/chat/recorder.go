package chat

// Recorder receives counters from the chat engine. internal/metrics provides
// the Prometheus implementation.
type Recorder interface {
	SessionOpened(roomID string)
	SessionClosed(roomID string)
	MessageBroadcast(roomID string, delivered int)
	DeliveryFailed(roomID string)
	HandshakeRejected(reason string)
	ProtocolError()
	PersistenceFailed()
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) SessionOpened(string)         {}
func (NopRecorder) SessionClosed(string)         {}
func (NopRecorder) MessageBroadcast(string, int) {}
func (NopRecorder) DeliveryFailed(string)        {}
func (NopRecorder) HandshakeRejected(string)     {}
func (NopRecorder) ProtocolError()               {}
func (NopRecorder) PersistenceFailed()           {}
