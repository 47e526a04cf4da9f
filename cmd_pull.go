package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"zimage_backend/core"
	"zimage_backend/hub"
)

func newPullCmd(a *app) *cobra.Command {
	var revision string
	cmd := &cobra.Command{
		Use:   "pull [MODEL]",
		Short: "Download the model snapshot into the Hugging Face cache",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			model := a.cfg.ModelID
			if len(args) == 1 {
				model = args[0]
			}
			if !cmd.Flags().Changed("revision") {
				revision = a.cfg.ModelRevision
			}
			if len(args) == 0 && a.cfg.IsLocalModel() {
				fmt.Fprintf(a.out, "%s is a local directory, nothing to pull\n", model)
				return nil
			}
			if err := hub.ValidateModelID(model); err != nil {
				return err
			}

			bar := &progressLine{w: a.errOut}
			client := a.hubClient(bar.update)
			a.log.Info("pulling model", zap.String("model", model), zap.String("revision", revision))

			res, err := client.Snapshot(cmd.Context(), model, revision)
			bar.finish()
			if err != nil {
				return fmt.Errorf("pull %s: %w", model, err)
			}

			printf(a.out, color.FgGreen, "Pulled %s@%s\n", model, shortCommit(res.Commit))
			fmt.Fprintf(a.out, "  %d files (%d downloaded), %s in %s\n  %s\n",
				res.Files, res.Downloaded, core.FormatBytes(res.TotalBytes), res.Took.Round(100*time.Millisecond), res.Dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&revision, "revision", hub.DefaultRevision, "branch, tag or commit (ZIMAGE_MODEL_REVISION)")
	return cmd
}

// progressLine redraws one status line with carriage returns.
type progressLine struct {
	w     io.Writer
	width int
	drawn bool
}

func (p *progressLine) update(pr hub.Progress) {
	line := formatProgress(pr)
	pad := max(0, p.width-len(line))
	fmt.Fprintf(p.w, "\r%s%s", line, strings.Repeat(" ", pad))
	p.width = len(line)
	p.drawn = true
}

func (p *progressLine) finish() {
	if p.drawn {
		fmt.Fprintln(p.w)
		p.drawn = false
	}
}

func formatProgress(p hub.Progress) string {
	var b strings.Builder
	b.WriteString("pulling ")
	if pct := p.Percent(); pct >= 0 {
		b.WriteString(core.FormatPercent(pct))
		b.WriteString(" ")
	}
	b.WriteString(core.FormatBytes(p.Downloaded))
	if p.Total > 0 {
		b.WriteString("/")
		b.WriteString(core.FormatBytes(p.Total))
	}
	if p.BytesPerSec > 0 {
		b.WriteString("  ")
		b.WriteString(core.FormatRate(p.BytesPerSec))
	}
	if p.ETA > 0 {
		b.WriteString("  eta ")
		b.WriteString(core.FormatETA(p.ETA))
	}
	if p.File != "" {
		b.WriteString("  ")
		b.WriteString(p.File)
	}
	return b.String()
}

func shortCommit(c string) string {
	if len(c) > 12 {
		return c[:12]
	}
	return c
}
