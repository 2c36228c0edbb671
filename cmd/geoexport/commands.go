package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/tendant/simple-geoexport/internal/matrix"
	"github.com/tendant/simple-geoexport/internal/pipeline"
	"github.com/tendant/simple-geoexport/internal/reconcile"
	"github.com/tendant/simple-geoexport/internal/report"
)

func argsFrom(cmd *cli.Command) batchArgs {
	return batchArgs{
		Regions:    cmd.StringSlice("region"),
		CONUS:      cmd.Bool("conus"),
		BBoxes:     cmd.StringSlice("bbox"),
		Years:      cmd.StringSlice("year"),
		Months:     cmd.String("months"),
		Annual:     cmd.Bool("annual"),
		Indicators: cmd.StringSlice("indicator"),
	}
}

func (a *app) batch(cmd *cli.Command) (pipeline.Batch, error) {
	args := argsFrom(cmd)
	regions, err := args.regions()
	if err != nil {
		return pipeline.Batch{}, err
	}
	windows, err := args.windows()
	if err != nil {
		return pipeline.Batch{}, err
	}
	dest := cmd.String("dest")
	if dest == "" {
		dest = a.cfg.DataDir
	}
	return pipeline.Batch{
		Regions:    regions,
		Windows:    windows,
		Indicators: a.indicators(args.Indicators),
		Dest:       dest,
	}, nil
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	ctx, a, err := setup(ctx, cmd.String("env"), true)
	defer a.Close()
	if err != nil {
		return err
	}
	defer a.writeMetrics()

	b, err := a.batch(cmd)
	if err != nil {
		return err
	}
	r, err := a.runner(ctx)
	if err != nil {
		return err
	}
	a.logger.Info("batch starting", "regions", len(b.Regions), "windows", len(b.Windows),
		"indicators", b.Indicators, "dest", b.Dest)

	rep, err := r.Run(ctx, b)
	if len(rep.Entries) > 0 {
		if rerr := rep.Render(os.Stdout); rerr != nil {
			a.logger.Warn("render report failed", "err", rerr)
		}
	}
	if err != nil {
		return err
	}
	if rep.Status() != report.StatusSuccess {
		return errPartial
	}
	return nil
}

func planAction(ctx context.Context, cmd *cli.Command) error {
	ctx, a, err := setup(ctx, cmd.String("env"), true)
	defer a.Close()
	if err != nil {
		return err
	}

	b, err := a.batch(cmd)
	if err != nil {
		return err
	}
	r := &pipeline.Runner{Catalog: a.catalog, Compute: a.compute, ProbeRetries: uint64(a.cfg.ProbeRetries)}
	plan, err := r.Plan(ctx, b)
	if err != nil {
		return err
	}
	return renderPlan(plan)
}

func renderPlan(plan matrix.Plan) error {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Job", "Dataset", "Formula", "Scale", "Output")
	for _, j := range plan.Jobs {
		table.Append(j.Key(), j.Template.Dataset, string(j.Template.Formula),
			fmt.Sprintf("%gm", j.Template.Scale), j.OutputName)
	}
	for _, s := range plan.Skipped {
		table.Append(s.Key(), "", "", "", string(s.Kind))
	}
	if err := table.Render(); err != nil {
		return err
	}
	fmt.Printf("%d jobs, %d skipped\n", len(plan.Jobs), len(plan.Skipped))
	return nil
}

func sweepAction(ctx context.Context, cmd *cli.Command) error {
	ctx, a, err := setup(ctx, cmd.String("env"), false)
	defer a.Close()
	if err != nil {
		return err
	}

	b, err := a.batch(cmd)
	if err != nil {
		return err
	}
	r, err := a.runner(ctx)
	if err != nil {
		return err
	}

	execute := cmd.Bool("execute")
	rec, err := r.Sweep(ctx, b, execute)
	if err != nil {
		return err
	}
	if !execute {
		return renderMatches(rec)
	}
	a.writeMetrics()
	rep := report.FromReconcile(rec)
	if err := rep.Render(os.Stdout); err != nil {
		return err
	}
	if rep.Status() != report.StatusSuccess {
		return errPartial
	}
	return nil
}

// renderMatches lists the artifacts a sweep would download.
func renderMatches(rec reconcile.Report) error {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Job", "Artifact", "Size")
	found := 0
	for _, o := range rec.Outcomes {
		switch {
		case o.Artifact != nil:
			found++
			size := "?"
			if o.Artifact.Size >= 0 {
				size = humanize.Bytes(uint64(o.Artifact.Size))
			}
			table.Append(o.Job.Key(), o.Artifact.Name, size)
		case len(o.Candidates) > 0:
			table.Append(o.Job.Key(), fmt.Sprintf("ambiguous: %d candidates", len(o.Candidates)), "")
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	fmt.Printf("%d of %d jobs have a stray export in %d listed artifacts; rerun with --execute to download\n",
		found, len(rec.Outcomes), rec.Listed)
	return nil
}
