// Package config provides user configuration management for roehn.
//
// The configuration is a YAML file holding named processors, protocol
// preferences and the MQTT bridge settings. Any command that takes a
// processor accepts either a registered name or a plain host.
//
// # Configuration File Location
//
// The configuration file is stored in platform-appropriate locations:
//   - Linux: $XDG_CONFIG_HOME/roehn/config.yaml or $HOME/.config/roehn/config.yaml
//   - macOS: $HOME/.config/roehn/config.yaml
//   - Windows: %LOCALAPPDATA%\roehn\config.yaml
//
// ROEHN_CONFIG overrides the location.
//
// # Example
//
//	version: 1
//	processors:
//	  house:
//	    host: 192.168.1.50
//	preferences:
//	  timeout: 1s
//	  subnet: 192.168.1.0/24
//	mqtt:
//	  broker: tcp://localhost:1883
//	  topic_prefix: roehn
//
// # Thread Safety
//
// File operations are protected by a mutex and writes are atomic.
package config
