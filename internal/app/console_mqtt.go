package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/relabs-tech/fishing_controller/internal/logging"
)

// FormatStatusLine renders a status update as one console line.
func FormatStatusLine(st Status) string {
	last := strings.TrimPrefix(st.LastMessage, messageReceived)
	return fmt.Sprintf("[CTRL] %-20s mode=%-8s frame=%s speed=%s last=%q\n",
		st.Connection, st.Mode, st.FrameID, st.RotationSpeed, last)
}

// RunConsoleMQTT prints every status update a controller mirrors under
// prefix until ctx is cancelled.
func RunConsoleMQTT(ctx context.Context, broker, prefix string, out io.Writer, logger logging.Logger) error {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID("fishing-console-" + uuid.New().String())

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	logger.Infof("console: connected to MQTT broker at %s", broker)

	topic := prefix + "/" + StatusTopic
	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var st Status
		if err := json.Unmarshal(msg.Payload(), &st); err != nil {
			logger.Warnf("console: status unmarshal error: %v", err)
			return
		}
		fmt.Fprint(out, FormatStatusLine(st))
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	logger.Infof("console: subscribed to %s", topic)

	<-ctx.Done()

	logger.Infof("console: shutting down")
	client.Disconnect(250)
	return nil
}
