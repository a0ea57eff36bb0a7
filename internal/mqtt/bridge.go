package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/muurk/roehn/internal/command"
	"github.com/muurk/roehn/internal/events"
	"github.com/muurk/roehn/internal/logging"
	"github.com/muurk/roehn/internal/protocol"
)

// DefaultTopicPrefix is used when Config.TopicPrefix is empty
const DefaultTopicPrefix = "roehn"

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	commandTimeout = 5 * time.Second
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
	ClientID    string // random "roehn-xxxxxxxx" when empty
}

// Controller is the processor side of the bridge
type Controller interface {
	AddButtonListener(h events.Handler) (remove func())
	SetLoad(ctx context.Context, address, channel, level int) (int, bool, error)
	ShadeUp(ctx context.Context, address, channel int) (int, bool, error)
	ShadeDown(ctx context.Context, address, channel int) (int, bool, error)
	ShadeStop(ctx context.Context, address, channel int) (int, bool, error)
	ShadeSet(ctx context.Context, address, channel, level int) (int, error)
}

type publishFunc func(topic string, payload []byte, retained bool)

// Bridge connects a processor to an MQTT broker: button events and the
// device inventory go out, load and shade commands come in.
type Bridge struct {
	client  pahomqtt.Client
	ctrl    Controller
	prefix  string
	log     *zap.Logger
	publish publishFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	unsub   func()
	devices []byte // last inventory payload, republished on reconnect
}

func newBridge(ctrl Controller, prefix string) *Bridge {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		ctrl:   ctrl,
		prefix: strings.TrimSuffix(prefix, "/"),
		log:    logging.Named("mqtt"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(ctrl Controller, cfg Config) (*Bridge, error) {
	b := newBridge(ctrl, cfg.TopicPrefix)
	b.publish = b.publishMQTT

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "roehn-" + uuid.NewString()[:8]
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(b.StateTopic(), "offline", 1, true).
		SetOnConnectHandler(func(c pahomqtt.Client) {
			b.log.Info("MQTT connected", zap.String("broker", cfg.Broker))
			b.publishBridgeState("online")
			b.republishDevices()
			b.subscribeCommands(c)
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.log.Warn("MQTT connection lost", zap.Error(err))
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	// The connect handler may run before Connect returns
	b.client = pahomqtt.NewClient(opts)
	token := b.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		b.client.Disconnect(0)
		b.cancel()
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		b.client.Disconnect(0)
		b.cancel()
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

// Start subscribes to processor button events.
func (b *Bridge) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unsub == nil {
		b.unsub = b.ctrl.AddButtonListener(b.handleButton)
	}
	b.log.Info("MQTT bridge started", zap.String("prefix", b.prefix))
}

// Stop publishes offline state, waits for running commands and disconnects.
func (b *Bridge) Stop() {
	b.mu.Lock()
	unsub := b.unsub
	b.unsub = nil
	b.mu.Unlock()
	if unsub != nil {
		unsub()
	}

	b.cancel()
	b.wg.Wait()

	if b.client != nil {
		b.publishBridgeState("offline")
		b.client.Disconnect(1000)
	}
	b.log.Info("MQTT bridge stopped")
}

// StateTopic is the retained online/offline topic
func (b *Bridge) StateTopic() string {
	return b.prefix + "/bridge/state"
}

// PublishDevices publishes the retained device inventory
func (b *Bridge) PublishDevices(devices []protocol.DeviceInfo) {
	inventory := make([]deviceEntry, 0, len(devices))
	for _, d := range devices {
		inventory = append(inventory, deviceEntry{DeviceInfo: d, ControlAddress: d.ControlAddress()})
	}
	payload := mustJSON(inventory)

	b.mu.Lock()
	b.devices = payload
	b.mu.Unlock()

	b.publish(b.prefix+"/devices", payload, true)
}

type deviceEntry struct {
	protocol.DeviceInfo
	ControlAddress int `json:"control_address"`
}

func (b *Bridge) republishDevices() {
	b.mu.Lock()
	payload := b.devices
	b.mu.Unlock()
	if payload != nil {
		b.publish(b.prefix+"/devices", payload, true)
	}
}

type buttonPayload struct {
	Action events.Action `json:"action"`
	At     time.Time     `json:"at"`
}

func (b *Bridge) handleButton(ev events.ButtonEvent) {
	topic := fmt.Sprintf("%s/button/%d/%d", b.prefix, ev.Address, ev.Button)
	b.publish(topic, mustJSON(buttonPayload{Action: ev.Action, At: ev.At}), false)
}

func (b *Bridge) subscribeCommands(c pahomqtt.Client) {
	for _, kind := range []string{kindLoad, kindShade} {
		topic := fmt.Sprintf("%s/%s/+/+/set", b.prefix, kind)
		token := c.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
			b.dispatch(msg.Topic(), msg.Payload())
		})
		go func() {
			if !token.WaitTimeout(publishTimeout) {
				b.log.Warn("MQTT subscribe timeout", zap.String("topic", topic))
			} else if err := token.Error(); err != nil {
				b.log.Warn("MQTT subscribe error", zap.String("topic", topic), zap.Error(err))
			}
		}()
	}
}

// dispatch runs a command off the MQTT router goroutine
func (b *Bridge) dispatch(topic string, payload []byte) {
	if b.ctx.Err() != nil {
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.handleCommand(topic, payload)
	}()
}

// StatePayload is published on <prefix>/<kind>/<addr>/<ch> after a command.
// Confirmed is false when the processor did not echo the level.
type StatePayload struct {
	Level      int  `json:"level"`
	Brightness int  `json:"brightness"`
	Confirmed  bool `json:"confirmed"`
}

func (b *Bridge) handleCommand(topic string, payload []byte) {
	cmd, err := parseCommandTopic(b.prefix, topic)
	if err != nil {
		b.log.Warn("Ignoring command", zap.String("topic", topic), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	var (
		level      int
		confirmed  bool
		optimistic bool
	)
	switch cmd.kind {
	case kindLoad:
		want, perr := parseLoadPayload(payload)
		if perr != nil {
			b.log.Warn("Invalid load command", zap.String("topic", topic), zap.Error(perr))
			return
		}
		level, confirmed, err = b.ctrl.SetLoad(ctx, cmd.address, cmd.channel, want)
		if err == nil && !confirmed {
			level = protocol.ClampLevel(want)
		}

	case kindShade:
		move, want, perr := parseShadePayload(payload)
		if perr != nil {
			b.log.Warn("Invalid shade command", zap.String("topic", topic), zap.Error(perr))
			return
		}
		switch move {
		case command.ShadeUp:
			level, confirmed, err = b.ctrl.ShadeUp(ctx, cmd.address, cmd.channel)
		case command.ShadeDown:
			level, confirmed, err = b.ctrl.ShadeDown(ctx, cmd.address, cmd.channel)
		case command.ShadeStop:
			level, confirmed, err = b.ctrl.ShadeStop(ctx, cmd.address, cmd.channel)
		default:
			// ShadeSet already falls back to the requested level
			level, err = b.ctrl.ShadeSet(ctx, cmd.address, cmd.channel, want)
			optimistic = true
		}
		if err == nil && !confirmed && !optimistic {
			// Nothing to report for an unconfirmed move
			return
		}
	}

	if err != nil {
		b.log.Warn("Command failed",
			zap.String("topic", topic),
			zap.String("hint", command.ShortMessage(err)),
			zap.Error(err),
		)
		return
	}

	b.publish(cmd.stateTopic(b.prefix), mustJSON(StatePayload{
		Level:      level,
		Brightness: protocol.BrightnessFromLevel(level),
		Confirmed:  confirmed,
	}), true)
}

func (b *Bridge) publishBridgeState(state string) {
	b.publish(b.StateTopic(), []byte(state), true)
}

func (b *Bridge) publishMQTT(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			b.log.Warn("MQTT publish timeout", zap.String("topic", topic))
		} else if err := token.Error(); err != nil {
			b.log.Warn("MQTT publish error", zap.String("topic", topic), zap.Error(err))
		}
	}()
}

const (
	kindLoad  = "load"
	kindShade = "shade"
)

type commandTopic struct {
	kind    string
	address int
	channel int
}

func (c commandTopic) stateTopic(prefix string) string {
	return fmt.Sprintf("%s/%s/%d/%d", prefix, c.kind, c.address, c.channel)
}

// parseCommandTopic parses "<prefix>/<load|shade>/<addr>/<ch>/set"
func parseCommandTopic(prefix, topic string) (commandTopic, error) {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return commandTopic{}, fmt.Errorf("topic outside prefix %q", prefix)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 4 || parts[3] != "set" || (parts[0] != kindLoad && parts[0] != kindShade) {
		return commandTopic{}, fmt.Errorf("expected %s/<load|shade>/<addr>/<ch>/set", prefix)
	}
	addr, err := strconv.Atoi(parts[1])
	if err != nil || addr <= 0 {
		return commandTopic{}, fmt.Errorf("invalid address %q", parts[1])
	}
	ch, err := strconv.Atoi(parts[2])
	if err != nil || ch <= 0 {
		return commandTopic{}, fmt.Errorf("invalid channel %q", parts[2])
	}
	return commandTopic{kind: parts[0], address: addr, channel: ch}, nil
}

type levelPayload struct {
	Level      *int `json:"level"`
	Brightness *int `json:"brightness"`
}

// parseLoadPayload accepts "ON", "OFF", a bare level, or JSON with "level"
// (0..100) or "brightness" (0..255).
func parseLoadPayload(payload []byte) (int, error) {
	text := strings.TrimSpace(string(payload))
	switch strings.ToUpper(text) {
	case "ON":
		return protocol.MaxLevel, nil
	case "OFF":
		return protocol.MinLevel, nil
	}
	return parseLevel(text)
}

// parseShadePayload accepts "UP", "DOWN", "STOP", a bare level, or JSON with
// "level". A level yields an empty move.
func parseShadePayload(payload []byte) (command.ShadeMove, int, error) {
	text := strings.TrimSpace(string(payload))
	switch move := command.ShadeMove(strings.ToUpper(text)); move {
	case command.ShadeUp, command.ShadeDown, command.ShadeStop:
		return move, 0, nil
	}
	level, err := parseLevel(text)
	return "", level, err
}

func parseLevel(text string) (int, error) {
	if n, err := strconv.Atoi(text); err == nil {
		return n, nil
	}
	var p levelPayload
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		return 0, fmt.Errorf("unrecognized payload %q", text)
	}
	switch {
	case p.Level != nil:
		return *p.Level, nil
	case p.Brightness != nil:
		return protocol.LevelFromBrightness(*p.Brightness), nil
	}
	return 0, fmt.Errorf("payload has no level or brightness")
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
