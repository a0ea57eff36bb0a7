package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/muurk/roehn/internal/client"
	"github.com/muurk/roehn/internal/logging"
	"github.com/muurk/roehn/internal/mqtt"
	"github.com/muurk/roehn/internal/server"
	"github.com/muurk/roehn/internal/ui"
)

// MQTTPasswordEnvVar supplies the broker password when the config file
// leaves it out
const MQTTPasswordEnvVar = "ROEHN_MQTT_PASSWORD"

// Serve flags
var (
	bindHost        string
	httpPort        int
	advertise       bool
	instance        string
	mqttBroker      string
	mqttUsername    string
	mqttPrefix      string
	inventoryPeriod time.Duration
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve <ip|name>",
	Short: "Bridge a processor's button events to WebSocket and MQTT",
	Long: `Run the event listener for one processor and republish what it sees.

  GET /ws/events     WebSocket feed of button events (JSON)
  GET /api/buttons   last action of every button seen
  GET /healthz       listener state

The feed is advertised over mDNS so 'roehn bridges' can find it. With an MQTT
broker configured (--mqtt-broker or the mqtt section of the config file)
button events and the module inventory are published under the topic prefix,
and load and shade commands are accepted on <prefix>/load/<addr>/<ch>/set and
<prefix>/shade/<addr>/<ch>/set. The broker password is read from the config
file or ` + MQTTPasswordEnvVar + `.`,
	Example: `  roehn serve 192.168.51.10
  roehn serve home --mqtt-broker tcp://localhost:1883 --mqtt-prefix house`,
	Args: cobra.ExactArgs(1),
	RunE: runServe,
}

func init() {
	addUDPFlags(serveCmd)
	addTCPFlags(serveCmd)
	serveCmd.Flags().StringVar(&bindHost, "bind", "", "HTTP listen address (empty = all interfaces)")
	serveCmd.Flags().IntVar(&httpPort, "http-port", server.DefaultPort, "HTTP port for the event feed")
	serveCmd.Flags().BoolVar(&advertise, "advertise", true, "Advertise the feed over mDNS")
	serveCmd.Flags().StringVar(&instance, "instance", "", "mDNS instance name (default: roehn-<processor>)")
	serveCmd.Flags().StringVar(&mqttBroker, "mqtt-broker", "", "MQTT broker URL, e.g. tcp://localhost:1883")
	serveCmd.Flags().StringVar(&mqttUsername, "mqtt-username", "", "MQTT username")
	serveCmd.Flags().StringVar(&mqttPrefix, "mqtt-prefix", "", "MQTT topic prefix (default: "+mqtt.DefaultTopicPrefix+")")
	serveCmd.Flags().DurationVar(&inventoryPeriod, "inventory-interval", 5*time.Minute, "How often the module inventory is republished over MQTT (0 = once)")
}

// mqttConfig merges the config file section with command line flags
func mqttConfig() (mqtt.Config, bool) {
	var cfg mqtt.Config
	if m := registry.MQTT; m != nil {
		cfg = mqtt.Config{
			Broker:      m.Broker,
			Username:    m.Username,
			Password:    m.Password,
			TopicPrefix: m.TopicPrefix,
			ClientID:    m.ClientID,
		}
	}
	cfg.Broker = firstNonEmpty(mqttBroker, cfg.Broker)
	cfg.Username = firstNonEmpty(mqttUsername, cfg.Username)
	cfg.TopicPrefix = firstNonEmpty(mqttPrefix, cfg.TopicPrefix)
	if cfg.Password == "" {
		cfg.Password = os.Getenv(MQTTPasswordEnvVar)
	}
	return cfg, cfg.Broker != ""
}

func runServe(cmd *cobra.Command, args []string) error {
	c, err := newClient(cmd, args[0])
	if err != nil {
		return err
	}
	defer c.Close()

	ctx := cmd.Context()
	log := logging.Named("serve")

	c.StartEventListener(ctx)
	defer c.StopEventListener()

	var bridge *mqtt.Bridge
	if cfg, ok := mqttConfig(); ok {
		bridge, err = mqtt.NewBridge(c, cfg)
		if err != nil {
			return err
		}
		bridge.Start()
		defer bridge.Stop()
	}

	srv := server.New(&server.Config{
		Host:      bindHost,
		Port:      httpPort,
		Processor: c.Host(),
		Advertise: advertise,
		Instance:  firstNonEmpty(instance, "roehn-"+c.Host()),
	}, c)

	h := ui.NewHeader("Event bridge", "roehn serve").
		AddParam("Processor", c.Host()).
		AddParam("Feed", fmt.Sprintf("http://%s/ws/events", hostPort(bindHost, httpPort)))
	if bridge != nil {
		h.AddParam("MQTT", bridge.StateTopic())
	}
	printer(cmd).PrintHeader(h)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	if bridge != nil {
		g.Go(func() error {
			publishInventory(gctx, c, bridge, inventoryPeriod, log)
			return nil
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// publishInventory publishes the module list now and then every period
// until ctx is done. Failed or empty enumerations keep the last inventory.
func publishInventory(ctx context.Context, c *client.Client, bridge *mqtt.Bridge, period time.Duration, log *zap.Logger) {
	publish := func() {
		devices, err := c.QueryDevices(ctx)
		if err != nil {
			log.Warn("Device inventory failed", zap.Error(err))
			return
		}
		if len(devices) == 0 {
			log.Debug("Device inventory empty, keeping the last one")
			return
		}
		bridge.PublishDevices(devices)
	}

	publish()
	if period <= 0 {
		return
	}

	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			publish()
		}
	}
}

func hostPort(host string, port int) string {
	if host == "" {
		host = "0.0.0.0"
	}
	return fmt.Sprintf("%s:%d", host, port)
}
