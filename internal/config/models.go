package config

import (
	"sort"
	"strings"
	"time"
)

// CurrentVersion is the config file format version
const CurrentVersion = 1

// Registry represents the entire user configuration file.
// It stores known processors and application preferences.
type Registry struct {
	Version     int                   `yaml:"version"`
	Processors  map[string]*Processor `yaml:"processors,omitempty"` // Keyed by user-chosen name
	Preferences *Preferences          `yaml:"preferences,omitempty"`
	MQTT        *MQTT                 `yaml:"mqtt,omitempty"`
}

// Processor is a named Roehn processor. Zero ports mean the protocol defaults.
type Processor struct {
	Host     string    `yaml:"host"`
	UDPPort  int       `yaml:"udp_port,omitempty"`
	TCPPort  int       `yaml:"tcp_port,omitempty"`
	Serial   string    `yaml:"serial,omitempty"`    // Last seen serial
	LastIP   string    `yaml:"last_ip,omitempty"`   // Last address the processor answered from
	LastSeen time.Time `yaml:"last_seen,omitempty"` // Last discovery time
}

// Preferences holds protocol tuning. Zero values mean the protocol defaults.
type Preferences struct {
	Timeout         time.Duration `yaml:"timeout,omitempty"`          // UDP reply window per probe/page
	Probes          int           `yaml:"probes,omitempty"`           // UDP attempts for single-shot queries
	MaxPages        int           `yaml:"max_pages,omitempty"`        // Device enumeration page cap
	ResponseTimeout time.Duration `yaml:"response_timeout,omitempty"` // Text command reply window
	BroadcastAddr   string        `yaml:"broadcast_addr,omitempty"`
	Subnet          string        `yaml:"subnet,omitempty"` // Optional unicast sweep during discovery
	ResourcesPath   string        `yaml:"resources_path,omitempty"`
	LogLevel        string        `yaml:"log_level,omitempty"`
}

// MQTT configures the MQTT bridge run by "roehn serve".
// The password may be left empty and supplied through ROEHN_MQTT_PASSWORD.
type MQTT struct {
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
	TopicPrefix string `yaml:"topic_prefix,omitempty"`
	ClientID    string `yaml:"client_id,omitempty"`
}

// NewRegistry creates a new Registry with default values.
func NewRegistry() *Registry {
	return &Registry{
		Version:     CurrentVersion,
		Processors:  make(map[string]*Processor),
		Preferences: &Preferences{},
	}
}

// Processor returns the processor registered under name, or nil.
func (r *Registry) Processor(name string) *Processor {
	return r.Processors[name]
}

// SetProcessor registers or replaces a processor.
func (r *Registry) SetProcessor(name string, p *Processor) {
	if r.Processors == nil {
		r.Processors = make(map[string]*Processor)
	}
	r.Processors[name] = p
}

// RemoveProcessor deletes a processor and reports whether it existed.
func (r *Registry) RemoveProcessor(name string) bool {
	if _, ok := r.Processors[name]; !ok {
		return false
	}
	delete(r.Processors, name)
	return true
}

// Names returns the registered processor names in order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.Processors))
	for name := range r.Processors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve maps a processor name to its entry. Anything that is not a
// registered name is taken as a host.
func (r *Registry) Resolve(nameOrHost string) *Processor {
	if p, ok := r.Processors[nameOrHost]; ok {
		return p
	}
	return &Processor{Host: nameOrHost}
}

// FindBySerial returns the name of the processor last seen with serial
func (r *Registry) FindBySerial(serial string) (string, bool) {
	for _, name := range r.Names() {
		if strings.EqualFold(r.Processors[name].Serial, serial) && serial != "" {
			return name, true
		}
	}
	return "", false
}

// MarkSeen records a discovery sighting of a processor. Unknown serials are
// ignored; registered processors keep their configured host.
func (r *Registry) MarkSeen(serial, ip string, at time.Time) bool {
	name, ok := r.FindBySerial(serial)
	if !ok {
		return false
	}
	p := r.Processors[name]
	p.LastIP = ip
	p.LastSeen = at
	return true
}
