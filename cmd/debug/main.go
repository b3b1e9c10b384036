package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/thatsimonsguy/signal-controller/db"
	"github.com/thatsimonsguy/signal-controller/internal/api"
	"github.com/thatsimonsguy/signal-controller/internal/config"
	"github.com/thatsimonsguy/signal-controller/internal/env"
	"github.com/thatsimonsguy/signal-controller/internal/model"
	"github.com/thatsimonsguy/signal-controller/internal/pinctrl"
	"github.com/thatsimonsguy/signal-controller/system/startup"
)

const sendTimeout = 2 * time.Second

var (
	url        string
	target     string
	action     string
	dbPath     string
	limit      int
	configFile string
	execPath   string

	rootCmd = &cobra.Command{
		Use:   "signal-debug",
		Short: "Debug and install helpers for the signal controller",
	}

	sendCmd = &cobra.Command{
		Use:   "send",
		Short: "Post one command to a running controller",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), sendTimeout)
			defer cancel()

			status, body, err := sendCommand(ctx, url, model.Command{
				Target: model.Target(strings.ToUpper(target)),
				Action: model.Action(strings.ToUpper(action)),
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d %s\n", status, strings.TrimSpace(body))
			return nil
		},
	}

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "Print recent commands and connectivity changes from the journal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			history, err := db.HistoryCLI(dbPath, limit)
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), history)
			return nil
		},
	}

	installCmd = &cobra.Command{
		Use:   "install",
		Short: "Write the boot script and systemd units",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var cfg config.Config
			if err := config.LoadFile(configFile, &cfg); err != nil {
				return err
			}
			cfg.ConfigFile = configFile
			cfg.ApplyDefaults()
			env.Cfg = &cfg

			if err := startup.WriteStartupScript(); err != nil {
				return fmt.Errorf("write boot script: %w", err)
			}
			if err := startup.InstallStartupService(); err != nil {
				return fmt.Errorf("install boot service: %w", err)
			}
			if err := startup.InstallControllerService(execPath); err != nil {
				return fmt.Errorf("install controller service: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Installed %s, %s and %s\n", cfg.BootScriptFilePath, cfg.OSServicePath, cfg.MainServicePath)
			return nil
		},
	}

	pinsCmd = &cobra.Command{
		Use:   "pins",
		Short: "Show the live pinctrl state of the configured outputs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var cfg config.Config
			if err := config.LoadFile(configFile, &cfg); err != nil {
				return err
			}
			states, err := pinctrl.New().ReadAllPins()
			if err != nil {
				return err
			}
			printPins(cmd.OutOrStdout(), cfg.Pins(), states)
			return nil
		},
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	sendCmd.Flags().StringVar(&url, "url", "http://192.168.11.102/update", "Controller update endpoint")
	sendCmd.Flags().StringVar(&target, "target", "", "GREEN_INDICATOR, RED_INDICATOR, SOUND or ALL")
	sendCmd.Flags().StringVar(&action, "action", "", "ON, OFF or TOGGLE")
	_ = sendCmd.MarkFlagRequired("target")
	_ = sendCmd.MarkFlagRequired("action")

	historyCmd.Flags().StringVar(&dbPath, "db", "data/signal.db", "Path to the SQLite journal")
	historyCmd.Flags().IntVar(&limit, "limit", 20, "Number of rows to show")

	installCmd.Flags().StringVar(&configFile, "config-file", "config.json", "Path to controller config file")
	pinsCmd.Flags().StringVar(&configFile, "config-file", "config.json", "Path to controller config file")
	installCmd.Flags().StringVar(&execPath, "exec", "/usr/local/bin/signal-controller", "Controller binary path for the systemd unit")

	rootCmd.AddCommand(sendCmd, historyCmd, installCmd, pinsCmd)
}

// sendCommand posts cmd to url and returns the status code and raw body. The
// command is sent as given so the controller reports any validation error.
func sendCommand(ctx context.Context, url string, cmd model.Command) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(api.Encode(cmd)))
	if err != nil {
		return 0, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("failed to send command: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, string(body), nil
}

func printHistory(w io.Writer, h db.History) {
	if h.LastState != nil {
		fmt.Fprintf(w, "Last applied state: green=%t red=%t sound=%t\n", h.LastState.Green, h.LastState.Red, h.LastState.Sound)
	} else {
		fmt.Fprintln(w, "Last applied state: none recorded")
	}
	fmt.Fprintf(w, "Outcomes: applied=%d malformed=%d faulted=%d\n",
		h.Counts[model.OutcomeApplied], h.Counts[model.OutcomeMalformed], h.Counts[model.OutcomeFaulted])

	fmt.Fprintln(w, "Commands:")
	for _, c := range h.Commands {
		fmt.Fprintf(w, "  %s  %-15s %-6s %-9s green=%t red=%t sound=%t %s\n",
			c.At.Local().Format(time.DateTime), c.Target, c.Action, c.Outcome,
			c.State.Green, c.State.Red, c.State.Sound, c.Error)
	}
	fmt.Fprintln(w, "Connectivity:")
	for _, e := range h.Events {
		fmt.Fprintf(w, "  %s  %s -> %s %s\n", e.At.Local().Format(time.DateTime), e.From, e.To, e.Address)
	}
}

func printPins(w io.Writer, pins map[string]model.GPIOPin, states map[int]pinctrl.PinState) {
	for _, name := range []string{"green_indicator", "red_indicator", "buzzer"} {
		pin, ok := pins[name]
		if !ok {
			continue
		}
		st, ok := states[pin.Number]
		if !ok {
			fmt.Fprintf(w, "%-16s GPIO%-3d not reported\n", name, pin.Number)
			continue
		}
		active := (st.Level == "hi") == pin.ActiveHigh
		fmt.Fprintf(w, "%-16s GPIO%-3d mode=%s level=%s active=%t\n", name, pin.Number, st.Mode, st.Level, active)
	}
}
