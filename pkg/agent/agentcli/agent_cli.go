package agentcli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	ghodssyaml "github.com/ghodss/yaml"
	"github.com/goccy/go-yaml"
	"github.com/neuroplastio/neio-midi/internal/keymap"
	"github.com/neuroplastio/neio-midi/internal/scheduler"
	"github.com/neuroplastio/neio-midi/pkg/agent"
	"github.com/spf13/cobra"
)

func Main(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	dir, err := os.UserConfigDir()
	if err != nil {
		return err
	}
	cmd := NewRootCmd(filepath.Join(dir, "neio-midi"))
	cmd.SetArgs(args)
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	return cmd.ExecuteContext(ctx)
}

type agentProvider func() *agent.Agent

func NewRootCmd(configDir string) *cobra.Command {
	cfg := agent.Config{
		DataDir:    filepath.Join(configDir, "data"),
		ConfigPath: filepath.Join(configDir, "config.yml"),
	}
	agentCmd := &cobra.Command{
		Use:   "neio-midi",
		Short: "MIDI to keyboard agent",
		Long: `neio-midi listens to a MIDI input and types the mapped keys on a virtual keyboard.
Notes that arrive within the collision window of each other are played one after another.`,
		SilenceUsage: true,
	}
	var a *agent.Agent
	agentProvider := func() *agent.Agent {
		return a
	}
	agentCmd.PersistentFlags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "data directory")
	agentCmd.PersistentFlags().StringVar(&cfg.ConfigPath, "config", cfg.ConfigPath, "config file")
	agentCmd.PersistentFlags().StringVar(&cfg.Port, "port", "", "MIDI input number or name fragment")
	agentCmd.PersistentFlags().BoolVar(&cfg.Debug, "debug", false, "enable debug logging")
	agentCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		var err error
		a, err = agent.NewAgent(cfg)
		return err
	}
	agentCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if a == nil {
			return nil
		}
		return a.Close()
	}
	agentCmd.AddCommand(NewRun(agentProvider))
	agentCmd.AddCommand(NewListPorts(agentProvider))
	agentCmd.AddCommand(NewListDevices(agentProvider))
	agentCmd.AddCommand(NewKeymap(agentProvider))
	agentCmd.AddCommand(NewPrintConfig(agentProvider))
	agentCmd.AddCommand(NewSimulate(agentProvider))
	return agentCmd
}

func NewRun(agent agentProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the agent",
		Long:  `Connect to a MIDI input and type notes until interrupted. The config file is created with defaults if missing and reloaded on change.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return agent().Run(cmd.Context())
		},
	}
}

func NewListPorts(agent agentProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "list-ports",
		Short: "List MIDI inputs",
		Long:  `List MIDI inputs currently available. Excluded inputs are never picked automatically.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := agent().ListPorts()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, p := range ports {
				suffix := ""
				if p.Excluded {
					suffix = " (excluded)"
				}
				fmt.Fprintf(out, "%3d  %s%s\n", p.Number, p.Name, suffix)
			}
			return nil
		},
	}
}

func NewListDevices(agent agentProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "list-devices",
		Short: "List MIDI inputs seen before",
		Long:  `List every MIDI input the agent has seen, with connection counts and timestamps.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := agent().ListKnownPorts()
			if err != nil {
				return err
			}
			jsonB, err := json.MarshalIndent(ports, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(jsonB))
			return nil
		},
	}
}

func NewKeymap(agent agentProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "keymap",
		Short: "Print the keymap",
		Long:  `Print the note id, MIDI note and key of every mapped note.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := agent().LoadUserConfig()
			if err != nil {
				return err
			}
			km, err := keymap.FromConfig(cfg.Config)
			if err != nil {
				return err
			}
			b, err := yaml.Marshal(km.Entries())
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	}
}

func NewPrintConfig(agent agentProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "print-config",
		Short: "Print the effective config",
		Long:  `Print the config file merged over the defaults.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := agent().LoadUserConfig()
			if err != nil {
				return err
			}
			b, err := ghodssyaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	}
}

func NewSimulate(agent agentProvider) *cobra.Command {
	var (
		until       time.Duration
		window      time.Duration
		mode        string
		autoRelease bool
		coalesce    bool
		strict      bool
		maxQueue    int
		format      string
	)
	cmd := &cobra.Command{
		Use:   "simulate <script|->",
		Short: "Replay a note script",
		Long: `Replay a note script on a virtual clock and print what would be typed.

A script is a list of steps such as "on(5, 0ms) on(2, 10ms) off(5, 40ms)".
Note ids are relative to the base note. Lines starting with # are comments.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var script []byte
			var err error
			if args[0] == "-" {
				script, err = io.ReadAll(cmd.InOrStdin())
			} else {
				script, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("failed to read script: %w", err)
			}
			flags := cmd.Flags()
			override := func(c *scheduler.Config) {
				if flags.Changed("window") {
					c.Window = scheduler.Duration(window)
				}
				if flags.Changed("mode") {
					c.Mode = scheduler.Mode(mode)
				}
				if flags.Changed("auto-release") {
					c.AutoRelease = autoRelease
				}
				if flags.Changed("coalesce") {
					c.CoalesceDuplicates = coalesce
				}
				if flags.Changed("strict-release") {
					c.StrictRelease = strict
				}
				if flags.Changed("max-queue") {
					c.MaxQueue = maxQueue
				}
			}
			lines, err := agent().Simulate(string(script), override, until)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch format {
			case "text":
				for _, l := range lines {
					fmt.Fprintln(out, l.String())
				}
				return nil
			case "yaml":
				b, err := yaml.Marshal(lines)
				if err != nil {
					return err
				}
				_, err = out.Write(b)
				return err
			default:
				return fmt.Errorf("unknown format %q", format)
			}
		},
	}
	cmd.Flags().DurationVar(&until, "until", 0, "stop the clock at this offset instead of draining every timer")
	cmd.Flags().DurationVar(&window, "window", scheduler.DefaultWindow, "collision window")
	cmd.Flags().StringVar(&mode, "mode", string(scheduler.ModeQueued), "scheduling mode: queued or direct")
	cmd.Flags().BoolVar(&autoRelease, "auto-release", false, "release immediate presses after one window")
	cmd.Flags().BoolVar(&coalesce, "coalesce", false, "keep one queue slot per note id")
	cmd.Flags().BoolVar(&strict, "strict-release", false, "ignore note-offs for notes that are not held")
	cmd.Flags().IntVar(&maxQueue, "max-queue", 0, "bound the pending queue, 0 for unbounded")
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or yaml")
	return cmd
}
