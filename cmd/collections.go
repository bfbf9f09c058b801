package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/desertthunder/spotproxy/internal/formatter"
	"github.com/desertthunder/spotproxy/internal/shared"
	"github.com/desertthunder/spotproxy/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Collections aggregates metadata for the given playlists, or the configured ones.
func (r *Runner) Collections(ctx context.Context, cmd *cli.Command) error {
	ids := cmd.Args().Slice()
	if len(ids) == 0 {
		ids = r.config.Collections.IDs
	}
	if len(ids) == 0 {
		return fmt.Errorf("%w: pass playlist ids or set [collections] ids", shared.ErrMissingArgument)
	}

	format := cmd.String("format")
	if _, err := formatter.FormatCollections(nil, format); err != nil {
		return err
	}

	client, err := r.upstream(nil)
	if err != nil {
		return err
	}
	aggregator, err := r.aggregator(client)
	if err != nil {
		return err
	}

	progressCh := make(chan tasks.ProgressUpdate, len(ids)+1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range progressCh {
			switch update.Phase {
			case tasks.CollectionFailed:
				r.logger.Warn(update.Message, "step", update.Step, "total", update.Total)
			default:
				r.logger.Info(update.Message, "step", update.Step, "total", update.Total)
			}
		}
	}()

	collections := aggregator.CollectionsWithProgress(ctx, ids, progressCh)
	close(progressCh)
	<-done

	data, err := formatter.FormatCollections(collections, format)
	if err != nil {
		return err
	}

	if path := cmd.String("output"); path != "" {
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		r.writeOK("wrote %d collections to %s", len(collections), path)
		return nil
	}

	if _, err := r.output.Write(data); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

// Export writes one playlist's tracks to files in the chosen format.
func (r *Runner) Export(ctx context.Context, cmd *cli.Command) error {
	playlist := cmd.StringArg("playlist")
	if playlist == "" {
		return fmt.Errorf("%w: playlist", shared.ErrMissingArgument)
	}
	format := cmd.String("format")

	client, err := r.upstream(nil)
	if err != nil {
		return err
	}
	aggregator, err := r.aggregator(client)
	if err != nil {
		return err
	}

	progressCh := make(chan tasks.ProgressUpdate, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range progressCh {
			r.logger.Info(update.Message)
		}
	}()

	result, err := aggregator.Export(ctx, nil, playlist, progressCh)
	close(progressCh)
	<-done
	if err != nil {
		return err
	}

	files, err := formatter.WriteExport(ctx, r.httpClient, result.Collection, result.Tracks, format, cmd.String("dir"))
	if err != nil {
		return err
	}

	r.writePlainHeader(result.Collection.Name)
	r.writeOK("exported %d tracks", len(result.Tracks))
	for _, f := range files.Files {
		r.writePlain("  %s\n", f)
	}
	if result.Collection.ImageURL != "" && files.CoverImage == "" && filepath.Base(files.Files[len(files.Files)-1]) == "README.md" {
		r.writeWarn("cover image could not be downloaded")
	}
	return nil
}
