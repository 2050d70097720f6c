package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/poiesic/bizkb"
	"github.com/poiesic/bizkb/config"
	"github.com/poiesic/bizkb/core"
	"github.com/poiesic/bizkb/search"
	"github.com/poiesic/bizkb/watch"
	"github.com/urfave/cli/v2"
)

// runner holds what every command needs to open a knowledge base.
type runner struct {
	out   io.Writer
	extra []bizkb.Option
}

// open loads configuration and opens the knowledge base it names.
func (r *runner) open(c *cli.Context) (*bizkb.KnowledgeBase, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	opts := append(bizkb.OptionsFromConfig(cfg), r.extra...)
	kb, err := bizkb.Open(cfg.BaseDir, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open knowledge base: %w", err)
	}
	return kb, nil
}

func (r *runner) create(c *cli.Context) error {
	if c.NArg() != 1 {
		return usageError(c)
	}
	kb, err := r.open(c)
	if err != nil {
		return err
	}
	defer kb.Close()

	id := c.Args().First()
	created, err := kb.CreateBusiness(id, c.String("name"), c.String("description"))
	if err != nil {
		return err
	}
	if !created {
		return fmt.Errorf("%w: %s", core.ErrBusinessExists, id)
	}
	fmt.Fprintf(r.out, "Created business %s\n", id)
	return nil
}

func (r *runner) delete(c *cli.Context) error {
	if c.NArg() != 1 {
		return usageError(c)
	}
	kb, err := r.open(c)
	if err != nil {
		return err
	}
	defer kb.Close()

	id := c.Args().First()
	deleted, err := kb.DeleteBusiness(c.Context, id)
	if !deleted && err == nil {
		return fmt.Errorf("%w: %s", core.ErrBusinessNotFound, id)
	}
	if deleted {
		fmt.Fprintf(r.out, "Deleted business %s\n", id)
	}
	return err
}

func (r *runner) list(c *cli.Context) error {
	kb, err := r.open(c)
	if err != nil {
		return err
	}
	defer kb.Close()

	businesses := kb.ListBusinesses()
	if len(businesses) == 0 {
		fmt.Fprintln(r.out, "No businesses.")
		return nil
	}
	tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tDOCUMENTS\tUPDATED\tDESCRIPTION")
	for _, b := range businesses {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", b.ID, b.Name, b.DocumentCount,
			b.UpdatedAt.Local().Format(time.DateTime), b.Description)
	}
	return tw.Flush()
}

func (r *runner) info(c *cli.Context) error {
	if c.NArg() != 1 {
		return usageError(c)
	}
	kb, err := r.open(c)
	if err != nil {
		return err
	}
	defer kb.Close()

	info, err := kb.BusinessInfo(c.Args().First())
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "ID:          %s\n", info.ID)
	fmt.Fprintf(r.out, "Name:        %s\n", info.Name)
	fmt.Fprintf(r.out, "Description: %s\n", info.Description)
	fmt.Fprintf(r.out, "Created:     %s\n", info.CreatedAt.Local().Format(time.DateTime))
	fmt.Fprintf(r.out, "Documents:   %d\n", info.DocumentCount)
	if len(info.Documents) == 0 {
		return nil
	}
	fmt.Fprintln(r.out)
	tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DOCUMENT\tFILE\tADDED\tENTITIES")
	for _, d := range info.Documents {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.ID, d.FileName,
			d.AddedAt.Local().Format(time.DateTime), strings.Join(d.Entities, ", "))
	}
	return tw.Flush()
}

func (r *runner) add(c *cli.Context) error {
	if c.NArg() < 2 {
		return usageError(c)
	}
	kb, err := r.open(c)
	if err != nil {
		return err
	}
	defer kb.Close()

	start := time.Now()
	id := c.Args().First()
	ids, err := kb.AddDocuments(c.Context, id, c.Args().Tail()...)
	for _, docID := range ids {
		fmt.Fprintf(r.out, "Added %s\n", docID)
	}
	fmt.Fprintf(r.out, "%d of %d documents added to %s in %s\n", len(ids), c.NArg()-1, id, elapsed(start))
	return err
}

func (r *runner) remove(c *cli.Context) error {
	if c.NArg() != 2 {
		return usageError(c)
	}
	kb, err := r.open(c)
	if err != nil {
		return err
	}
	defer kb.Close()

	id, docID := c.Args().Get(0), c.Args().Get(1)
	removed, err := kb.RemoveDocument(c.Context, id, docID)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("%w: %s", core.ErrDocumentNotFound, docID)
	}
	fmt.Fprintf(r.out, "Removed %s from %s\n", docID, id)
	return nil
}

func (r *runner) sync(c *cli.Context) error {
	if c.NArg() > 1 {
		return usageError(c)
	}
	kb, err := r.open(c)
	if err != nil {
		return err
	}
	defer kb.Close()

	if c.NArg() == 1 {
		res := kb.SyncBusiness(c.Context, c.Args().First())
		if err := r.printSync(c, res); err != nil {
			return err
		}
		return syncError(res)
	}

	report := kb.SyncAll(c.Context)
	if c.Bool("json") {
		return r.printJSON(report)
	}
	for _, id := range sortedKeys(report.Businesses) {
		writeSyncLine(r.out, report.Businesses[id])
	}
	fmt.Fprintf(r.out, "%d of %d businesses synced\n", report.Succeeded, report.Total)
	if report.Succeeded < report.Total {
		return fmt.Errorf("%d businesses failed to sync", report.Total-report.Succeeded)
	}
	return nil
}

func (r *runner) status(c *cli.Context) error {
	if c.NArg() != 1 {
		return usageError(c)
	}
	kb, err := r.open(c)
	if err != nil {
		return err
	}
	defer kb.Close()

	return r.printSync(c, kb.SyncStatus(c.Context, c.Args().First()))
}

func (r *runner) printSync(c *cli.Context, res core.SyncResult) error {
	if c.Bool("json") {
		return r.printJSON(res)
	}
	writeSyncLine(r.out, res)
	fv, pv, iv := res.FileValidation, res.FingerprintValidation, res.IndexValidation
	fmt.Fprintf(r.out, "  files:        %d total, %d missing, %d extra\n", fv.Total, fv.Missing, fv.Extra)
	fmt.Fprintf(r.out, "  fingerprints: %d checked, %d changed, %d errors\n", pv.Checked, pv.Changed, pv.Errors)
	fmt.Fprintf(r.out, "  index:        %s (%s)\n", iv.Status, iv.Message)
	return nil
}

func writeSyncLine(w io.Writer, res core.SyncResult) {
	line := fmt.Sprintf("%s: %s", res.BusinessID, res.Status)
	if res.Rebuilt {
		line += " (rebuilt)"
	}
	if res.Message != "" {
		line += " - " + res.Message
	}
	fmt.Fprintln(w, line)
}

func syncError(res core.SyncResult) error {
	if res.Status == core.SyncError {
		return fmt.Errorf("sync of %s failed: %s", res.BusinessID, res.Message)
	}
	return nil
}

func (r *runner) printJSON(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (r *runner) search(c *cli.Context) error {
	if c.NArg() < 2 {
		return usageError(c)
	}
	kb, err := r.open(c)
	if err != nil {
		return err
	}
	defer kb.Close()

	res, err := kb.Query(c.Context, search.Query{
		BusinessID:      c.Args().First(),
		Text:            strings.Join(c.Args().Tail(), " "),
		ExpandToRelated: c.Bool("expand"),
		MaxRelated:      c.Int("max-related"),
		TopK:            c.Int("top-k"),
		Mode:            search.ParseMode(c.String("mode")),
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(r.out, res.Response)
	if len(res.Related) > 0 {
		fmt.Fprintf(r.out, "\nAlso searched: %s\n", strings.Join(res.Related, ", "))
	}
	if len(res.Failed) > 0 {
		fmt.Fprintf(r.out, "Unavailable: %s\n", strings.Join(res.Failed, ", "))
	}
	return nil
}

func (r *runner) related(c *cli.Context) error {
	if c.NArg() != 1 {
		return usageError(c)
	}
	kb, err := r.open(c)
	if err != nil {
		return err
	}
	defer kb.Close()

	id := c.Args().First()
	if _, err := kb.BusinessInfo(id); err != nil {
		return err
	}
	rels := kb.Related(id, c.Int("max"))
	if len(rels) == 0 {
		fmt.Fprintf(r.out, "%s has no related businesses.\n", id)
		return nil
	}
	tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BUSINESS\tWEIGHT\tTYPES\tSHARED ENTITIES")
	for _, rel := range rels {
		fmt.Fprintf(tw, "%s\t%.3f\t%s\t%s\n", rel.To, rel.Weight,
			strings.Join(rel.Types, ","), strings.Join(rel.SharedEntities, ", "))
	}
	return tw.Flush()
}

func (r *runner) link(c *cli.Context) error {
	if c.NArg() != 2 {
		return usageError(c)
	}
	kb, err := r.open(c)
	if err != nil {
		return err
	}
	defer kb.Close()

	a, b := c.Args().Get(0), c.Args().Get(1)
	if err := kb.Link(a, b, c.Float64("weight")); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Linked %s and %s\n", a, b)
	return nil
}

func (r *runner) reindex(c *cli.Context) error {
	kb, err := r.open(c)
	if err != nil {
		return err
	}
	defer kb.Close()

	reindexer, err := kb.NewReindexer(c.App.ErrWriter)
	if err != nil {
		return err
	}
	report, err := reindexer.Run(c.Context)
	if report != nil {
		fmt.Fprintf(r.out, "%d rebuilt, %d skipped, %d failed\n",
			len(report.Rebuilt), len(report.Skipped), len(report.Failed))
	}
	if err != nil {
		return fmt.Errorf("reindex failed: %w", err)
	}
	return nil
}

func (r *runner) watch(c *cli.Context) error {
	kb, err := r.open(c)
	if err != nil {
		return err
	}
	defer kb.Close()

	w, err := kb.NewWatcher(
		watch.WithDebounce(c.Duration("debounce")),
		watch.WithOnSync(func(res core.SyncResult) { writeSyncLine(r.out, res) }),
	)
	if err != nil {
		return err
	}
	fmt.Fprintln(r.out, "Watching for document changes, press Ctrl+C to stop.")
	return w.Run(c.Context, c.Args().Slice()...)
}

func (r *runner) initConfig(c *cli.Context) error {
	path := c.String("config")
	if _, err := os.Stat(path); err == nil && !c.Bool("force") {
		return fmt.Errorf("%s already exists, use --force to overwrite", path)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	cfg := config.Default()
	if dir := c.String("base-dir"); dir != "" {
		cfg.BaseDir = dir
	}
	if err := config.Save(path, cfg); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Wrote %s\n", path)
	return nil
}
