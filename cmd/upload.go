// File: cmd/upload.go
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/diligence-cli/api/schemas"
	"github.com/xkilldash9x/diligence-cli/internal/observability"
	"github.com/xkilldash9x/diligence-cli/internal/report"
)

// newUploadCmd creates the `upload` command: stages local documents into the
// analysis corpus.
func newUploadCmd() *cobra.Command {
	uploadCmd := &cobra.Command{
		Use:   "upload <file> [files...]",
		Short: "Uploads documents to the analysis corpus",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			comps, err := initializeComponents(ctx, appConfig, logger)
			if err != nil {
				return err
			}
			defer comps.Shutdown()

			files := make([]schemas.FileHandle, 0, len(args))
			for _, path := range args {
				info, err := os.Stat(path)
				if err != nil {
					return fmt.Errorf("cannot stat %s: %w", path, err)
				}
				f, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("cannot open %s: %w", path, err)
				}
				defer f.Close()

				files = append(files, schemas.FileHandle{
					Name:    filepath.Base(path),
					Size:    info.Size(),
					Content: f,
				})
			}

			res := comps.Uploads.UploadAll(ctx, files)

			format, _ := cmd.Flags().GetString("format")
			reporter, err := report.New(format, "")
			if err != nil {
				return err
			}
			defer func() {
				if err := reporter.Close(); err != nil {
					logger.Error("Failed to close reporter", zap.Error(err))
				}
			}()
			if err := reporter.WriteUpload(res); err != nil {
				return err
			}

			if !res.Success {
				return fmt.Errorf("%d of %d file(s) failed to upload", len(res.Failures), len(files))
			}
			return nil
		},
	}

	uploadCmd.Flags().StringP("format", "f", "text", "Result format ('text' or 'json').")

	return uploadCmd
}
