package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"zimage_backend/aspect"
	"zimage_backend/db"
	"zimage_backend/devices"
	"zimage_backend/sdruntime"
)

// Output formats for the listing commands.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

func addFormatFlag(cmd *cobra.Command, format *string) {
	cmd.Flags().StringVar(format, "format", formatTable, "output format: table, json or yaml")
}

// render writes v as JSON or YAML, or the rows as a table.
func render(w io.Writer, format string, v any, header []string, rows [][]string) error {
	switch strings.ToLower(format) {
	case formatTable, "":
		table := tablewriter.NewWriter(w)
		table.SetHeader(header)
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetAutoWrapText(false)
		table.SetHeaderLine(false)
		table.SetBorder(false)
		table.SetNoWhiteSpace(true)
		table.SetTablePadding("    ")
		table.AppendBulk(rows)
		table.Render()
		return nil
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q (want table, json or yaml)", format)
	}
}

type deviceView struct {
	Device    string            `json:"device" yaml:"device"`
	Default   bool              `json:"default" yaml:"default"`
	Precision string            `json:"precision" yaml:"precision"`
	GPUs      []devices.GPUInfo `json:"gpus,omitempty" yaml:"gpus,omitempty"`
}

func newDevicesCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List detected compute devices in preference order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list := a.devices()
			views := make([]deviceView, 0, len(list))
			rows := make([][]string, 0, len(list))
			for i, d := range list {
				v := deviceView{
					Device:    d.String(),
					Default:   i == 0,
					Precision: sdruntime.PrecisionFor(d).String(),
				}
				detail := ""
				switch d {
				case devices.CUDA:
					v.GPUs = a.gpus()
					names := make([]string, len(v.GPUs))
					for j, g := range v.GPUs {
						names[j] = fmt.Sprintf("%d: %s (%d MB)", g.Index, g.Name, g.MemoryTotalMB)
					}
					detail = strings.Join(names, ", ")
				case devices.Metal:
					detail = "Apple Silicon"
				case devices.CPU:
					detail = "slow"
				}
				def := ""
				if v.Default {
					def = "*"
				}
				views = append(views, v)
				rows = append(rows, []string{v.Device, def, v.Precision, detail})
			}
			return render(a.out, format, views, []string{"DEVICE", "DEFAULT", "PRECISION", "DETAILS"}, rows)
		},
	}
	addFormatFlag(cmd, &format)
	return cmd
}

type ratioView struct {
	Name        string  `json:"name" yaml:"name"`
	Ratio       float64 `json:"ratio" yaml:"ratio"`
	Height      int     `json:"height" yaml:"height"`
	Width       int     `json:"width" yaml:"width"`
	Description string  `json:"description" yaml:"description"`
}

func newRatiosCmd(a *app) *cobra.Command {
	var format string
	var maxSize int
	cmd := &cobra.Command{
		Use:   "ratios",
		Short: "List aspect ratio presets and their dimensions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("max-size") {
				maxSize = a.cfg.MaxSize
			}
			presets := aspect.Presets()
			views := make([]ratioView, 0, len(presets))
			rows := make([][]string, 0, len(presets))
			for _, p := range presets {
				h, w := aspect.CalculateDimensions(p.Name, maxSize)
				views = append(views, ratioView{Name: p.Name, Ratio: p.Ratio, Height: h, Width: w, Description: p.Description})
				rows = append(rows, []string{
					p.Name,
					strconv.FormatFloat(p.Ratio, 'f', 3, 64),
					fmt.Sprintf("%dx%d", w, h),
					p.Description,
				})
			}
			return render(a.out, format, views, []string{"NAME", "RATIO", "SIZE (WxH)", "DESCRIPTION"}, rows)
		},
	}
	addFormatFlag(cmd, &format)
	cmd.Flags().IntVar(&maxSize, "max-size", aspect.DefaultMaxSize, "longest side (ZIMAGE_MAX_SIZE)")
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	var format string
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent generations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := db.Open(a.cfg.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			gens, err := store.RecentGenerations(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if gens == nil {
				gens = []db.Generation{}
			}
			if len(gens) == 0 && (format == formatTable || format == "") {
				fmt.Fprintln(a.out, "No generations yet.")
				return nil
			}

			rows := make([][]string, 0, len(gens))
			for _, g := range gens {
				rows = append(rows, []string{
					g.CreatedAt.Local().Format("2006-01-02 15:04"),
					shortID(g.ID),
					g.Device,
					fmt.Sprintf("%dx%d", g.Width, g.Height),
					strconv.Itoa(g.Steps),
					strconv.FormatInt(g.Seed, 10),
					(time.Duration(g.DurationMS) * time.Millisecond).Round(100 * time.Millisecond).String(),
					truncate(g.Prompt, 48),
				})
			}
			return render(a.out, format, gens,
				[]string{"CREATED", "ID", "DEVICE", "SIZE", "STEPS", "SEED", "TOOK", "PROMPT"}, rows)
		},
	}
	addFormatFlag(cmd, &format)
	cmd.Flags().IntVarP(&limit, "limit", "n", db.DefaultHistoryLimit, "number of generations to show")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
