package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/kawaiiTaiga/project-SABA/controller"
	"github.com/kawaiiTaiga/project-SABA/errors"
	"github.com/kawaiiTaiga/project-SABA/observation"
	"github.com/kawaiiTaiga/project-SABA/transport"
)

func newDevicesCmd(o *globalOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List devices known from retained announce and status records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := o.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer closeController(c)
			o.settleWait(cmd.Context())

			devices := c.Devices()
			if asJSON {
				enc := json.NewEncoder(o.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(devices)
			}
			printDevices(o, devices)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the device snapshot as JSON")
	return cmd
}

func printDevices(o *globalOptions, devices []controller.Device) {
	if len(devices) == 0 {
		_, _ = fmt.Fprintln(o.stdout, "no devices")
		return
	}
	w := tabwriter.NewWriter(o.stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DEVICE\tONLINE\tTOOLS\tOUTPORTS\tINPORTS\tHTTP")
	for _, d := range devices {
		tools := make([]string, 0, len(d.Tools))
		for _, t := range d.Tools {
			tools = append(tools, t.Name)
		}
		outs := make([]string, 0, len(d.OutPorts))
		for _, p := range d.OutPorts {
			outs = append(outs, p.Name)
		}
		ins := make([]string, 0, len(d.InPorts))
		for _, p := range d.InPorts {
			ins = append(ins, p.Name)
		}
		_, _ = fmt.Fprintf(w, "%s\t%t\t%s\t%s\t%s\t%s\n",
			d.ID, d.Online, joinOrDash(tools), joinOrDash(outs), joinOrDash(ins), orDash(d.HTTPBase))
	}
	_ = w.Flush()
}

func joinOrDash(items []string) string {
	sort.Strings(items)
	return orDash(strings.Join(items, ","))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func newInvokeCmd(o *globalOptions) *cobra.Command {
	var rawArgs, saveDir string
	var allowUnknown bool
	cmd := &cobra.Command{
		Use:   "invoke DEVICE TOOL",
		Short: "Invoke a tool and print the resulting observation",
		Example: `  sabactl invoke dev-A1B2C3 echo --args '{"text":"hi"}'
  sabactl invoke dev-A1B2C3 digital_event --args '{"op":"subscribe","interval_ms":1000}'
  sabactl invoke dev-A1B2C3 snapshot --args '{"quality":"mid","flash":"off"}' --save-assets ./frames`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			deviceID, toolName := args[0], args[1]
			var toolArgs json.RawMessage
			if rawArgs != "" {
				toolArgs = json.RawMessage(rawArgs)
			}

			c, err := o.connect(cmd.Context(), controller.WithAllowUnknown(allowUnknown))
			if err != nil {
				return err
			}
			defer closeController(c)
			if !allowUnknown {
				o.waitForDevice(cmd.Context(), c, deviceID)
			}

			obs, err := c.Invoke(cmd.Context(), deviceID, toolName, toolArgs)
			if printErr := printObservation(o, obs); printErr != nil {
				return printErr
			}
			if err != nil {
				return err
			}
			if !obs.OK {
				return fmt.Errorf("tool %s failed", toolName)
			}
			if saveDir != "" {
				return saveAssets(cmd.Context(), o, obs, saveDir)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&rawArgs, "args", "", "Tool arguments as a JSON object")
	cmd.Flags().StringVar(&saveDir, "save-assets", "", "Download image assets into this directory")
	cmd.Flags().BoolVar(&allowUnknown, "allow-unknown", false, "Send even if the device has not announced")
	return cmd
}

// saveAssets downloads the image assets of obs into dir. Assets that
// cannot be fetched are logged and skipped.
func saveAssets(ctx context.Context, o *globalOptions, obs observation.Observation, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.WrapInvalid(err, "sabactl", "saveAssets", "create directory")
	}
	fetcher, err := controller.NewAssetFetcher(len(obs.Result.Assets),
		controller.WithHTTPClient(&http.Client{Timeout: o.timeout}),
		controller.WithFetchLogger(o.logger()))
	if err != nil {
		return err
	}
	for i, c := range fetcher.Contents(ctx, obs) {
		if c.Type != "image" {
			continue
		}
		name := c.AssetID
		if name == "" {
			name = fmt.Sprintf("%s-%d", obs.RequestID, i)
		}
		path := filepath.Join(dir, filepath.Base(name)+extensionFor(c.Mime))
		if err := os.WriteFile(path, c.Data, 0o644); err != nil {
			return errors.WrapInvalid(err, "sabactl", "saveAssets", "write "+path)
		}
		fmt.Fprintf(o.stderr, "saved %s (%d bytes)\n", path, len(c.Data))
	}
	return nil
}

func extensionFor(mime string) string {
	switch strings.ToLower(mime) {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	default:
		return ".bin"
	}
}

func printObservation(o *globalOptions, obs observation.Observation) error {
	if obs.Type == "" {
		return nil
	}
	enc := json.NewEncoder(o.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(obs)
}

func newSetPortCmd(o *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "set-port DEVICE PORT VALUE",
		Short:   "Write a value to a device InPort",
		Example: "  sabactl set-port dev-A1B2C3 var_a 12.5\n  sabactl set-port dev-A1B2C3 var_c on",
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			deviceID, portName := args[0], args[1]
			value, err := parsePortValue(args[2])
			if err != nil {
				return err
			}

			c, err := o.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer closeController(c)
			o.waitForDevice(cmd.Context(), c, deviceID)

			if err := c.SetPort(cmd.Context(), deviceID, portName, value); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(o.stdout, "%s/%s = %s\n", deviceID, portName, strconv.FormatFloat(value, 'g', -1, 64))
			return nil
		},
	}
}

// parsePortValue accepts numbers and the boolean words true/false/on/off.
func parsePortValue(s string) (float64, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "on":
		return 1, nil
	case "false", "off":
		return 0, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, errors.WrapInvalid(fmt.Errorf("%w: port value %q", errors.ErrInvalidData, s),
			"sabactl", "set-port", "parse value")
	}
	return v, nil
}

func newWatchCmd(o *globalOptions) *cobra.Command {
	var kinds []string
	var devices []string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print device traffic until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := newEventFilter(kinds, devices)
			var mu sync.Mutex
			watcher := func(ev controller.Event) {
				if !filter(ev) {
					return
				}
				mu.Lock()
				defer mu.Unlock()
				retained := ""
				if ev.Message.Retained {
					retained = " (retained)"
				}
				_, _ = fmt.Fprintf(o.stdout, "%s %s %s%s %s\n",
					time.Now().Format(time.RFC3339), ev.DeviceID, ev.Kind, retained, ev.Message.Payload)
			}

			c, err := o.connect(cmd.Context(), controller.WithWatcher(watcher))
			if err != nil {
				return err
			}
			defer closeController(c)

			<-cmd.Context().Done()
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&kinds, "kind", nil,
		fmt.Sprintf("Only show these kinds (%s, %s, %s, %s, %s)",
			transport.KindAnnounce, transport.KindStatus, transport.KindEvents,
			transport.KindPortsAnnounce, transport.KindPortsData))
	cmd.Flags().StringSliceVar(&devices, "device", nil, "Only show these devices")
	return cmd
}

func newEventFilter(kinds, devices []string) func(controller.Event) bool {
	kindSet := toSet(kinds)
	deviceSet := toSet(devices)
	return func(ev controller.Event) bool {
		if len(kindSet) > 0 && !kindSet[ev.Kind] {
			return false
		}
		if len(deviceSet) > 0 && !deviceSet[ev.DeviceID] {
			return false
		}
		return true
	}
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}

func newRouteCmd(o *globalOptions) *cobra.Command {
	var (
		file    string
		maxRate float64
	)
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Forward OutPort readings to InPorts using a routing table",
		Long: `route loads a YAML or JSON routing table and forwards every matching
ports/data reading to the target InPort until interrupted.

  routes:
    - source: dev-A1B2C3/impact_live
      target: dev-D4E5F6/var_a
      transform:
        map_from: [1, 100]
        map_to: [0, 1]`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			routes, err := controller.LoadRoutes(file)
			if err != nil {
				return err
			}
			router, err := controller.NewRouter(routes...)
			if err != nil {
				return err
			}

			limit := rate.Inf
			if maxRate > 0 {
				limit = rate.Limit(maxRate)
			}
			c, err := o.connect(cmd.Context(),
				controller.WithRouter(router),
				controller.WithForwardRate(limit, controller.DefaultForwardBurst))
			if err != nil {
				return err
			}
			defer closeController(c)

			active := 0
			for _, rt := range routes {
				if !rt.Disabled {
					active++
				}
			}
			_, _ = fmt.Fprintf(o.stdout, "routing %d of %d routes, interrupt to stop\n", active, len(routes))
			<-cmd.Context().Done()
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "routes.yaml", "Routing table file")
	cmd.Flags().Float64Var(&maxRate, "max-rate", float64(controller.DefaultForwardRate),
		"Maximum routed port writes per second across all routes (0 for no limit)")
	return cmd
}
