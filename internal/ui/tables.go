package ui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/muurk/roehn/internal/config"
	"github.com/muurk/roehn/internal/discovery"
	"github.com/muurk/roehn/internal/events"
	"github.com/muurk/roehn/internal/protocol"
	"github.com/muurk/roehn/internal/resources"
)

// newTable returns a bordered table with the shared header and cell styles.
// Columns listed in muted are rendered in the secondary color.
func newTable(headers []string, muted ...int) *table.Table {
	mutedCols := make(map[int]bool, len(muted))
	for _, c := range muted {
		mutedCols[c] = true
	}
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(PrimaryColor)).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case mutedCols[col]:
				return TableMutedCellStyle
			}
			return TableCellStyle
		})
}

// RenderProcessors renders discovered processors.
func RenderProcessors(processors []*protocol.ProcessorInfo) string {
	t := newTable([]string{"IP", "Name", "Serial", "Version", "MAC", "Answered from"}, 5)
	for _, p := range processors {
		t.Row(p.Address(), dash(p.Name), dash(p.Serial), dash(p.Version), dash(p.MAC), dash(p.SourceIP))
	}
	return t.Render()
}

// RenderDevices renders enumerated modules. When lookup is set, the dimmer
// and shade channels of each recognised model are listed.
func RenderDevices(devices []protocol.DeviceInfo, lookup resources.Lookup) string {
	t := newTable([]string{"Addr", "HSNET", "Dev ID", "Model", "FW", "Serial", "Port", "Dimmers", "Shades"}, 1, 2, 6)
	for _, d := range devices {
		dimmers, shades := "-", "-"
		if lookup != nil {
			if m, ok := lookup.Module(d.Model, d.ExtendedModel, d.DevModel); ok {
				dimmers = FormatChannels(m.Channels(resources.SlotDimmer))
				shades = FormatChannels(m.Channels(resources.SlotShade))
			}
		}
		t.Row(
			strconv.Itoa(d.ControlAddress()),
			strconv.Itoa(d.HsnetID),
			strconv.Itoa(d.DeviceID),
			d.DisplayName(),
			dash(d.Firmware),
			dash(d.SerialHex),
			strconv.Itoa(d.Port),
			dimmers,
			shades,
		)
	}
	return t.Render()
}

// RenderScan renders the result of a network-wide module scan, one table per
// processor.
func RenderScan(results []discovery.ProcessorDevices, lookup resources.Lookup) string {
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(HeaderTitleStyle.Render(r.Processor.String()))
		b.WriteString("\n")
		if len(r.Devices) == 0 {
			b.WriteString(StatusBarStyle.Render("no modules"))
			b.WriteString("\n")
			continue
		}
		b.WriteString(RenderDevices(r.Devices, lookup))
		b.WriteString("\n")
	}
	return b.String()
}

// RenderBios renders the processor's BIOS capacities.
func RenderBios(bios *protocol.BiosInfo) string {
	t := newTable([]string{"Field", "Value"}, 0)
	rows := []Field{
		{"Version", bios.Version},
		{"Max modules", strconv.Itoa(bios.MaxModules)},
		{"Max units", strconv.Itoa(bios.MaxUnits)},
		{"Event block", strconv.Itoa(bios.EventBlock)},
		{"String var block", strconv.Itoa(bios.StringVarBlock)},
		{"Scripts", fmt.Sprintf("%d / %d", bios.CadScripts, bios.MaxScripts)},
		{"Procedures", fmt.Sprintf("%d / %d", bios.CadProcedures, bios.MaxProcedures)},
		{"Variables", fmt.Sprintf("%d / %d", bios.CadVar, bios.MaxVar)},
		{"Scenes", fmt.Sprintf("%d / %d", bios.CadScenes, bios.MaxScenes)},
	}
	for _, r := range rows {
		t.Row(r.Key, r.Value)
	}
	return t.Render()
}

// RenderButtons renders the button cache with the age of each entry
// relative to now.
func RenderButtons(statuses []events.ButtonStatus, now time.Time) string {
	t := newTable([]string{"Addr", "Button", "Action", "Changed"}, 3)
	for _, s := range statuses {
		t.Row(
			strconv.Itoa(s.Address),
			strconv.Itoa(s.Button),
			ActionStyle(s.Action).Render(string(s.Action)),
			FormatAge(now.Sub(s.LastChanged)),
		)
	}
	return t.Render()
}

// RenderBridges renders event feeds found over mDNS.
func RenderBridges(bridges []*discovery.Bridge) string {
	t := newTable([]string{"Instance", "Host", "Address", "Processor", "Version"}, 1)
	for _, b := range bridges {
		t.Row(
			b.Instance,
			dash(b.Hostname),
			fmt.Sprintf("%s:%d", b.IP, b.Port),
			dash(b.Processor()),
			dash(b.Metadata["version"]),
		)
	}
	return t.Render()
}

// RenderRegistry renders the saved processors in name order.
func RenderRegistry(reg *config.Registry) string {
	t := newTable([]string{"Name", "Host", "UDP", "TCP", "Serial", "Last IP", "Last seen"}, 5, 6)
	for _, name := range reg.Names() {
		p := reg.Processor(name)
		seen := "-"
		if !p.LastSeen.IsZero() {
			seen = p.LastSeen.Local().Format(time.DateTime)
		}
		t.Row(name, p.Host, portOrDefault(p.UDPPort), portOrDefault(p.TCPPort), dash(p.Serial), dash(p.LastIP), seen)
	}
	return t.Render()
}

// FormatChannels compresses a channel list into ranges, e.g. "1-4,7".
func FormatChannels(channels []int) string {
	if len(channels) == 0 {
		return "-"
	}
	var parts []string
	start, prev := channels[0], channels[0]
	flush := func() {
		if start == prev {
			parts = append(parts, strconv.Itoa(start))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", start, prev))
		}
	}
	for _, ch := range channels[1:] {
		if ch == prev+1 {
			prev = ch
			continue
		}
		flush()
		start, prev = ch, ch
	}
	flush()
	return strings.Join(parts, ",")
}

// FormatAge renders a duration the way the monitor shows it.
func FormatAge(d time.Duration) string {
	switch {
	case d < time.Second:
		return "now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh ago", int(d.Hours()))
}

func portOrDefault(p int) string {
	if p <= 0 {
		return "default"
	}
	return strconv.Itoa(p)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
