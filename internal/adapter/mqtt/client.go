// Package mqtt connects the service to the sensor's MQTT broker: a Source
// feeding readings to the ingestion worker and a Publisher relaying control
// commands back to the device.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

var errTokenTimeout = errors.New("mqtt operation timed out")

// subscribeFailure is the SUBACK return code for a refused subscription.
const subscribeFailure = 0x80

func newClientOptions(broker, clientID string, connectTimeout time.Duration) *paho.ClientOptions {
	return paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetCleanSession(true).
		SetKeepAlive(30 * time.Second).
		SetConnectTimeout(connectTimeout).
		SetOrderMatters(false)
}

// waitToken blocks until tok completes, the timeout elapses or ctx ends.
func waitToken(ctx context.Context, tok paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-tok.Done():
		return tok.Error()
	case <-timer.C:
		return errTokenTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func checkSubscribed(tok paho.Token, topic string) error {
	st, ok := tok.(*paho.SubscribeToken)
	if !ok {
		return nil
	}
	if code, found := st.Result()[topic]; found && code == subscribeFailure {
		return fmt.Errorf("broker refused subscription to %s", topic)
	}
	return nil
}
