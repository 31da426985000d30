package chat

import (
	"go.uber.org/zap"
)

// DeliveryReport lists the session ids a fanout reached and the ones it
// dropped.
type DeliveryReport struct {
	Delivered []string
	Failed    []string
}

// Broadcaster delivers a message to every other session in a room.
type Broadcaster struct {
	registry *Registry
	logger   *zap.Logger
	recorder Recorder
}

// NewBroadcaster creates a Broadcaster over registry.
func NewBroadcaster(registry *Registry, logger *zap.Logger, recorder Recorder) *Broadcaster {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &Broadcaster{
		registry: registry,
		logger:   logger.Named("broadcast"),
		recorder: recorder,
	}
}

// Fanout sends payload to every session registered in roomID except sender.
// Members are taken from a registry snapshot. A member that cannot accept the
// frame is unregistered and evicted; delivery to the others continues without
// waiting for its connection to close.
func (b *Broadcaster) Fanout(roomID string, payload []byte, sender *Session) DeliveryReport {
	excluding := ""
	if sender != nil {
		excluding = sender.ID
	}

	var report DeliveryReport
	for _, member := range b.registry.Members(roomID, excluding) {
		if err := member.Send(payload); err != nil {
			b.logger.Warn("delivery failed",
				zap.String("room", roomID),
				zap.String("session", member.ID),
				zap.String("user", member.UserID),
				zap.Error(err))
			b.recorder.DeliveryFailed(roomID)
			b.registry.Unregister(roomID, member)
			member.Evict()
			report.Failed = append(report.Failed, member.ID)
			continue
		}
		report.Delivered = append(report.Delivered, member.ID)
	}

	b.recorder.MessageBroadcast(roomID, len(report.Delivered))
	return report
}
