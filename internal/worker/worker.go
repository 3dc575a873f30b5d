// Package worker serves synthesis and enrollment jobs over NATS
// request/reply. Payloads travel through the shared object store; messages
// carry only keys and parameters.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
)

// QueueGroup lets several service instances share a subject.
const QueueGroup = "voice-service"

var (
	// ErrTextKeyEmpty indicates a synthesis job without a text key.
	ErrTextKeyEmpty = errors.New("text key cannot be empty")
	// ErrAudioKeyEmpty indicates an enrollment job without a recording key.
	ErrAudioKeyEmpty = errors.New("audio key cannot be empty")
	// ErrTextEmpty indicates that the stored page text is blank.
	ErrTextEmpty = errors.New("text cannot be empty")
)

// serve subscribes handler to subject until ctx is done, then drains the
// subscription so in-flight messages finish.
func serve(ctx context.Context, natsConnection *nats.Conn, subject string, handler nats.MsgHandler) error {
	sub, err := natsConnection.QueueSubscribe(subject, QueueGroup, handler)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", subject, err)
	}

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

// respond marshals reply and sends it to the requester.
func respond(msg *nats.Msg, reply any) error {
	replyData, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}
