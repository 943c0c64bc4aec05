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

package backup

import (
	"github.com/spf13/cobra"

	"github.com/snaplife/snaplife/pkg/backup"
	"github.com/snaplife/snaplife/pkg/cmd"
)

// NewRunCommand snapshots every tagged instance, regionwide or globally.
func NewRunCommand(f cmd.Factory) *cobra.Command {
	var (
		region string
		async  bool
	)

	c := &cobra.Command{
		Use:   "run",
		Short: "Snapshot all tagged instances",
		Long:  "Snapshot every instance carrying the configured tag, in one region or in all of them",
		Run: func(c *cobra.Command, args []string) {
			cfg, err := f.Config()
			cmd.CheckError(err)
			log := f.Logger()

			ctx := c.Context()
			dialer, err := f.Dialer(ctx)
			cmd.CheckError(err)

			cmd.CheckError(backup.NewBackupper(log, dialer, cfg, nil).BackupByTag(ctx, region, !async))
		},
	}

	c.Flags().StringVar(&region, "region", "", "Limit the run to one region (default: all regions)")
	c.Flags().BoolVar(&async, "async", false, "Initiate the snapshots without waiting for completion")

	return c
}
