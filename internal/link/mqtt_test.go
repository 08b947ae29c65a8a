package link

import (
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stuckToken never completes, like a publish during a broker outage.
type stuckToken struct{ done chan struct{} }

func (t stuckToken) Wait() bool                       { <-t.done; return true }
func (t stuckToken) WaitTimeout(d time.Duration) bool { time.Sleep(d); return false }
func (t stuckToken) Done() <-chan struct{}            { return t.done }
func (t stuckToken) Error() error                     { return nil }

// failedToken has already completed with err.
type failedToken struct{ err error }

func (t failedToken) Wait() bool                     { return true }
func (t failedToken) WaitTimeout(time.Duration) bool { return true }
func (t failedToken) Done() <-chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}
func (t failedToken) Error() error { return t.err }

type publish struct {
	topic    string
	retained bool
}

type fakeClient struct {
	token     mqtt.Token
	published []publish
}

var _ mqtt.Client = (*fakeClient)(nil)

func (c *fakeClient) IsConnected() bool      { return true }
func (c *fakeClient) IsConnectionOpen() bool { return true }
func (c *fakeClient) Connect() mqtt.Token    { return failedToken{} }
func (c *fakeClient) Disconnect(uint)        {}
func (c *fakeClient) Publish(topic string, _ byte, retained bool, _ interface{}) mqtt.Token {
	c.published = append(c.published, publish{topic, retained})
	return c.token
}
func (c *fakeClient) Subscribe(string, byte, mqtt.MessageHandler) mqtt.Token {
	return failedToken{}
}
func (c *fakeClient) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return failedToken{}
}
func (c *fakeClient) Unsubscribe(...string) mqtt.Token        { return failedToken{} }
func (c *fakeClient) AddRoute(string, mqtt.MessageHandler)    {}
func (c *fakeClient) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

func newFakeMQTT(cfg MQTTConfig, token mqtt.Token) (*MQTT, *fakeClient) {
	c := &fakeClient{token: token}
	return &MQTT{cfg: cfg, client: c, in: newInbox(8)}, c
}

func TestMQTTNotify_StreamsDoNotWaitForBroker(t *testing.T) {
	m, c := newFakeMQTT(MQTTConfig{Prefix: "gesture", Device: "node1", PublishTimeout: time.Second},
		stuckToken{done: make(chan struct{})})

	began := time.Now()
	require.NoError(t, m.Notify(ChannelSensor, []byte{1}))
	require.NoError(t, m.Notify(ChannelInference, []byte{0, 50, 0, 0}))
	assert.Less(t, time.Since(began), 500*time.Millisecond)
	assert.Equal(t, []publish{
		{"gesture/node1/sensor", false},
		{"gesture/node1/inference", false},
	}, c.published)
}

func TestMQTTNotify_StatusTimesOut(t *testing.T) {
	m, c := newFakeMQTT(MQTTConfig{Prefix: "gesture", Device: "node1", PublishTimeout: 10 * time.Millisecond},
		stuckToken{done: make(chan struct{})})

	err := m.Notify(ChannelStatus, []byte{1, 0, 1, 0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
	assert.Equal(t, []publish{{"gesture/node1/status", true}}, c.published)
}

func TestMQTTNotify_CompletedStreamErrorReported(t *testing.T) {
	m, _ := newFakeMQTT(MQTTConfig{Prefix: "gesture", Device: "node1"}, failedToken{err: errors.New("not connected")})
	assert.ErrorContains(t, m.Notify(ChannelSensor, []byte{1}), "not connected")
}

func TestMQTTWaitsFor(t *testing.T) {
	dev := &MQTT{cfg: MQTTConfig{}}
	assert.False(t, dev.waitsFor(ChannelSensor))
	assert.False(t, dev.waitsFor(ChannelInference))
	assert.True(t, dev.waitsFor(ChannelStatus))
	assert.True(t, dev.waitsFor(ChannelDeviceInfo))

	host := &MQTT{cfg: MQTTConfig{Host: true}}
	assert.True(t, host.waitsFor(ChannelUpload))
	assert.True(t, host.waitsFor(ChannelSensor))
}
