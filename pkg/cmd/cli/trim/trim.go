/*
Copyright the Snaplife contributors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package trim

import (
	"github.com/spf13/cobra"

	"github.com/snaplife/snaplife/pkg/cmd"
	"github.com/snaplife/snaplife/pkg/retention"
)

// NewCommand runs a retention sweep.
func NewCommand(f cmd.Factory) *cobra.Command {
	var (
		region string
		dryRun bool
	)

	c := &cobra.Command{
		Use:   "trim",
		Short: "Delete snapshots the retention policy no longer keeps",
		Long: `Delete snapshots the retention policy no longer keeps.

The newest snapshot of every volume always survives, as do snapshots
tagged preserve_snapshot. With --dry-run the full decision logic runs
and reports what it would delete without deleting anything.`,
		Run: func(c *cobra.Command, args []string) {
			cfg, err := f.Config()
			cmd.CheckError(err)
			log := f.Logger()

			ctx := c.Context()
			dialer, err := f.Dialer(ctx)
			cmd.CheckError(err)

			cmd.CheckError(retention.NewSweeper(log, dialer, cfg.Retention, nil).TrimAll(ctx, region, dryRun))
		},
	}

	c.Flags().StringVar(&region, "region", "", "Limit the sweep to one region (default: all regions)")
	c.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would be deleted without deleting anything")

	return c
}
