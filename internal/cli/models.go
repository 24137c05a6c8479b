package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ndenisov/scribeflow/internal/download"
	"github.com/ndenisov/scribeflow/internal/model"
)

func newModelsCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Manage whisper models",
	}
	cmd.AddCommand(newModelsListCmd(app))
	cmd.AddCommand(newModelsPullCmd(app))
	return cmd
}

func newModelsListCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known models and whether they are on disk",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.loadConfig()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tRAM\tSTATUS")
			for _, name := range model.Names() {
				spec, _ := model.Lookup(name)
				status := "missing"
				if _, err := os.Stat(spec.Path(cfg.ModelDir)); err == nil {
					status = "downloaded"
				}
				fmt.Fprintf(w, "%s\t%d MB\t%s\n", spec.Name, spec.RAMWeightMB, status)
			}
			return w.Flush()
		},
	}
}

func newModelsPullCmd(app *appState) *cobra.Command {
	var verify bool

	cmd := &cobra.Command{
		Use:   "pull <model>",
		Short: "Download a model into the model directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pullFn := app.pullModelFn
			if pullFn == nil {
				pullFn = func(ctx context.Context, name string) (string, error) {
					return app.pullModel(ctx, name, verify)
				}
			}

			path, err := pullFn(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Model %s ready at %s\n", args[0], path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&verify, "verify", false, "Re-hash an already-downloaded model against its pinned checksum")
	return cmd
}

func (a *appState) pullModel(ctx context.Context, name string, verify bool) (string, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return "", err
	}

	spec, ok := model.Lookup(name)
	if !ok {
		return "", fmt.Errorf("unknown model %q (known models: %v)", name, model.Names())
	}

	fetcher := &model.ArtifactFetcher{
		Retries:    cfg.RetryAttempts,
		NoProgress: a.noProgress,
		Logger:     a.log(),
	}
	path, err := fetcher.Fetch(ctx, spec, cfg.ModelDir)
	if err != nil {
		return "", err
	}

	if verify {
		if err := download.VerifyFileChecksum(path, spec.SHA256); err != nil {
			return "", fmt.Errorf("model %s failed verification: %w", name, err)
		}
	}
	return path, nil
}
