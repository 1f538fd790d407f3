package app

import (
	"context"
	"errors"
	"fmt"

	"market-data-automation/internal/pipeline"
	"market-data-automation/internal/storage"
)

// Import re-ingests a CSV mirror into the primary store. Rows go through the
// same cleaning and dedupe as a live run; the mirror itself is not appended to.
func (a *App) Import(ctx context.Context, opts ImportOptions) error {
	path := opts.Path
	if path == "" {
		path = a.Config.Storage.CSVPath
	}
	if path == "" {
		return errors.New("no CSV path configured; pass --path")
	}

	raw, err := storage.NewCSVMirror(path).ReadAll()
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		fmt.Fprintf(a.Out, "No rows found in %s\n", path)
		return nil
	}

	clean, report, err := a.newCleaner().Clean(raw)
	if err != nil {
		return fmt.Errorf("clean imported rows: %w", err)
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	persister := storage.NewPersister(store, nil, a.Logger)
	existing, err := persister.LoadExisting(ctx, pipeline.Symbols(clean))
	if err != nil {
		return fmt.Errorf("load existing rows: %w", err)
	}
	fresh := pipeline.Dedupe(clean, existing)

	logger := a.Logger.With().Str("path", path).Logger()
	logger.Info().
		Int("read", len(raw)).
		Int("valid", len(clean)).
		Int("dropped", report.Dropped()).
		Int("new", len(fresh)).
		Bool("dry_run", opts.DryRun).
		Msg("import prepared")

	if opts.DryRun || len(fresh) == 0 {
		fmt.Fprintf(a.Out, "Read %d rows, %d valid, %d new (nothing written)\n", len(raw), len(clean), len(fresh))
		return nil
	}

	stored, err := persister.Persist(ctx, fresh)
	if err != nil {
		return fmt.Errorf("persist imported rows: %w", err)
	}
	fmt.Fprintf(a.Out, "Read %d rows, %d valid, %d stored\n", len(raw), len(clean), stored)
	return nil
}
