package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/muurk/roehn/internal/command"
	"github.com/muurk/roehn/internal/config"
	"github.com/muurk/roehn/internal/events"
	"github.com/muurk/roehn/internal/ui"
)

var (
	consoleEvents bool
	listenSummary bool
)

func init() {
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(consoleCmd)
}

var listenCmd = &cobra.Command{
	Use:   "listen <ip|name>",
	Short: "Print keypad button events as they happen",
	Long: `Connect to the processor's text port and print every button event.
The connection is re-established automatically after a 2 second backoff.
With --json each event is printed as one JSON object per line.`,
	Args: cobra.ExactArgs(1),
	RunE: runListen,
}

func init() {
	addTCPFlags(listenCmd)
	listenCmd.Flags().BoolVar(&listenSummary, "summary", false, "Print the last action of every button seen on exit")
}

func runListen(cmd *cobra.Command, args []string) error {
	c, err := newClient(cmd, args[0])
	if err != nil {
		return err
	}
	defer c.Close()

	out := cmd.OutOrStdout()
	enc := json.NewEncoder(out)
	lines := make(chan events.ButtonEvent, 64)
	remove := c.AddButtonListener(func(ev events.ButtonEvent) {
		select {
		case lines <- ev:
		default:
		}
	})
	defer remove()

	ctx := cmd.Context()
	c.StartEventListener(ctx)
	if !jsonOutput {
		printer(cmd).PrintNote("Listening on %s (Ctrl+C to stop)", c.Host())
	}

	for {
		select {
		case <-ctx.Done():
			c.StopEventListener()
			if listenSummary {
				return printButtonSummary(cmd, c.ButtonSnapshot())
			}
			return nil
		case ev := <-lines:
			if jsonOutput {
				if err := enc.Encode(ev); err != nil {
					return err
				}
				continue
			}
			fmt.Fprintf(out, "%s  %-7s  %s\n",
				ev.At.Local().Format("15:04:05.000"),
				ui.ActionStyle(ev.Action).Render(string(ev.Action)),
				ev.ButtonKey)
		}
	}
}

func printButtonSummary(cmd *cobra.Command, statuses []events.ButtonStatus) error {
	if jsonOutput {
		return emitJSON(cmd, nonNil(statuses))
	}
	p := printer(cmd)
	p.Newline()
	if len(statuses) == 0 {
		p.PrintNote("No button events seen")
		return nil
	}
	p.Println(ui.RenderButtons(statuses, time.Now()))
	return nil
}

var watchCmd = &cobra.Command{
	Use:   "watch <ip|name>",
	Short: "Live full-screen view of keypad activity",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func init() {
	addTCPFlags(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	c, err := newClient(cmd, args[0])
	if err != nil {
		return err
	}
	defer c.Close()

	ctx := cmd.Context()
	c.StartEventListener(ctx)
	defer c.StopEventListener()
	return ui.RunMonitor(ctx, c.Host(), c)
}

var consoleCmd = &cobra.Command{
	Use:   "console <ip|name>",
	Short: "Interactive text command console",
	Long: `Send raw text commands to the processor and print every line it answers
within the response window. Each command uses its own connection, the same
way the load and shade commands do.

Type 'help' for console commands, 'exit' or Ctrl+D to leave.`,
	Example: `  roehn console 192.168.51.10
  roehn> LOAD 12 1 75
  roehn> GETLOAD 12 1`,
	Args: cobra.ExactArgs(1),
	RunE: runConsole,
}

func init() {
	addTCPFlags(consoleCmd)
	consoleCmd.Flags().BoolVar(&consoleEvents, "events", false, "Also print button events while the console is open")
}

func runConsole(cmd *cobra.Command, args []string) error {
	cfg, err := clientConfig(cmd, resolveProcessor(args[0]))
	if err != nil {
		return err
	}
	ch := command.NewChannel(cfg.Host)
	ch.Port = cfg.TCPPort
	ch.ResponseTimeout = cfg.ResponseTimeout

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "roehn> ",
		HistoryFile:     historyFile(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	ctx := cmd.Context()

	if consoleEvents {
		c, err := newClient(cmd, args[0])
		if err != nil {
			return err
		}
		defer c.Close()
		remove := c.AddButtonListener(func(ev events.ButtonEvent) {
			fmt.Fprintf(rl.Stdout(), "%s %s %s\n", events.EventPrefix, ev.Action, ev.ButtonKey)
		})
		defer remove()
		c.StartEventListener(ctx)
	}

	fmt.Fprintf(rl.Stdout(), "Connected to %s. Type 'help' for commands.\n", ch.Address())
	for {
		if ctx.Err() != nil {
			return nil
		}

		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			return nil
		}

		input := strings.TrimSpace(line)
		switch strings.ToLower(input) {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "help", "?":
			printConsoleHelp(rl)
			continue
		}

		start := time.Now()
		replies, err := ch.Exchange(ctx, input)
		if err != nil {
			fmt.Fprintf(rl.Stderr(), "%s\n%s\n", command.ShortMessage(err), command.TroubleshootingHint(err))
			continue
		}
		for _, r := range replies {
			fmt.Fprintln(rl.Stdout(), r)
		}
		if len(replies) == 0 {
			fmt.Fprintf(rl.Stdout(), "(no reply in %s)\n", time.Since(start).Round(time.Millisecond))
		}
	}
}

func printConsoleHelp(rl *readline.Instance) {
	fmt.Fprintln(rl.Stdout(), `Commands are sent to the processor as typed, for example:
  LOAD <address> <channel> <level>    set a load (0-100)
  GETLOAD <address> <channel>         read a load level
  SHADE <UP|DOWN|STOP> <addr> <ch>    move a shade
  SHADE SET <addr> <ch> <level>       position a shade

Console commands:
  help, ?       show this help
  exit, quit    leave the console`)
}

// historyFile keeps console history next to the config file
func historyFile() string {
	dir, err := config.GetConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "console_history")
}
