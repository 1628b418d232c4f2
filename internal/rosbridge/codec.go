// Package rosbridge speaks the rosbridge v2.0 JSON protocol over a single
// WebSocket connection.
package rosbridge

import (
	"encoding/json"
	"fmt"
)

// Operation names.
const (
	OpAdvertise = "advertise"
	OpSubscribe = "subscribe"
	OpPublish   = "publish"
)

// Message types used by the controller.
const (
	TypeImu     = "sensor_msgs/msg/Imu"
	TypeString  = "std_msgs/msg/String"
	TypeFloat32 = "std_msgs/msg/Float32"
)

type advertiseOp struct {
	Op    string `json:"op"`
	Topic string `json:"topic"`
	Type  string `json:"type"`
}

type subscribeOp struct {
	Op    string `json:"op"`
	Topic string `json:"topic"`
	Type  string `json:"type,omitempty"`
}

type publishOp struct {
	Op    string      `json:"op"`
	Topic string      `json:"topic"`
	Msg   interface{} `json:"msg"`
}

// Float32Msg is std_msgs/msg/Float32.
type Float32Msg struct {
	Data float32 `json:"data"`
}

// StringMsg is std_msgs/msg/String.
type StringMsg struct {
	Data string `json:"data"`
}

// Advertise builds {"op":"advertise","topic":...,"type":...}.
func Advertise(topic, msgType string) string {
	b, _ := json.Marshal(advertiseOp{Op: OpAdvertise, Topic: topic, Type: msgType})
	return string(b)
}

// Subscribe builds {"op":"subscribe","topic":...,"type":...}. The type field
// is left out when msgType is empty.
func Subscribe(topic, msgType string) string {
	b, _ := json.Marshal(subscribeOp{Op: OpSubscribe, Topic: topic, Type: msgType})
	return string(b)
}

// PublishScalar publishes {"data": value} to topic.
func PublishScalar(topic string, value float32) (string, error) {
	return Publish(topic, Float32Msg{Data: value})
}

// PublishString publishes {"data": text} to topic.
func PublishString(topic, text string) string {
	b, _ := json.Marshal(publishOp{Op: OpPublish, Topic: topic, Msg: StringMsg{Data: text}})
	return string(b)
}

// Publish wraps any JSON-encodable message in a publish operation.
func Publish(topic string, msg interface{}) (string, error) {
	b, err := json.Marshal(publishOp{Op: OpPublish, Topic: topic, Msg: msg})
	if err != nil {
		return "", fmt.Errorf("encode publish to %s: %w", topic, err)
	}
	return string(b), nil
}

// Envelope is the part of an inbound operation the controller looks at.
type Envelope struct {
	Op    string          `json:"op"`
	Topic string          `json:"topic,omitempty"`
	Type  string          `json:"type,omitempty"`
	Msg   json.RawMessage `json:"msg,omitempty"`
}

// Decode parses an inbound text frame.
func Decode(text string) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return Envelope{}, fmt.Errorf("decode rosbridge frame: %w", err)
	}
	if env.Op == "" {
		return Envelope{}, fmt.Errorf("decode rosbridge frame: missing op")
	}
	return env, nil
}

// StringData returns the data field of a std_msgs/msg/String publish.
func (e Envelope) StringData() (string, bool) {
	if e.Op != OpPublish || len(e.Msg) == 0 {
		return "", false
	}
	var m StringMsg
	if err := json.Unmarshal(e.Msg, &m); err != nil {
		return "", false
	}
	return m.Data, true
}
