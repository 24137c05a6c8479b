package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ndenisov/scribeflow/internal/pipeline"
	"github.com/ndenisov/scribeflow/internal/quota"
)

func newTranscribeCmd(app *appState) *cobra.Command {
	var userID int64

	cmd := &cobra.Command{
		Use:   "transcribe <audio-file>",
		Short: "Transcribe an audio file, charging the user's daily quota",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			processFn := app.processFn
			if processFn == nil {
				p, teardown, err := app.buildPipeline()
				if err != nil {
					return err
				}
				defer teardown()
				processFn = p.Process
			}

			audioPath := filepath.Clean(args[0])
			f, err := os.Open(audioPath)
			if err != nil {
				return fmt.Errorf("open audio file: %w", err)
			}
			defer f.Close()

			out, err := processFn(cmd.Context(), pipeline.Request{
				UserID:       userID,
				OriginalName: filepath.Base(audioPath),
				Source:       f,
			})
			if err != nil {
				if errors.Is(err, quota.ErrExceeded) {
					return fmt.Errorf("user %d has no transcription budget left today", userID)
				}
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), out.Preview)
			if out.Truncated {
				fmt.Fprintf(cmd.OutOrStdout(), "(preview truncated; full transcript in %s)\n", out.TranscriptPath)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Transcript saved to %s\n", out.TranscriptPath)
			}
			if out.CaptionsPath != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Captions saved to %s\n", out.CaptionsPath)
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 1, "User ID whose quota is charged")
	return cmd
}

func newQuotaCmd(app *appState) *cobra.Command {
	var userID int64

	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Show a user's remaining transcription budget for today",
		RunE: func(cmd *cobra.Command, _ []string) error {
			statusFn := app.quotaStatusFn
			if statusFn == nil {
				p, teardown, err := app.buildPipeline()
				if err != nil {
					return err
				}
				defer teardown()
				statusFn = p.QuotaStatus
			}

			status, err := statusFn(cmd.Context(), userID)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "user %d: %d used, %d remaining today\n",
				userID, status.Used, status.Remaining)
			return nil
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 1, "User ID to inspect")
	return cmd
}
