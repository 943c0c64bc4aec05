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

package secgroup

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/snaplife/snaplife/pkg/cmd"
	"github.com/snaplife/snaplife/pkg/secgroup"
)

func NewCommand(f cmd.Factory) *cobra.Command {
	c := &cobra.Command{
		Use:   "secgroup",
		Short: "Mirror and clean up security groups",
		Long:  "Mirror and clean up security groups",
	}

	c.AddCommand(
		NewSyncCommand(f),
		NewCleanupCommand(f),
	)

	return c
}

// NewSyncCommand mirrors the source region's groups and rules into the
// destination region.
func NewSyncCommand(f cmd.Factory) *cobra.Command {
	var from, to string

	c := &cobra.Command{
		Use:   "sync",
		Short: "Mirror one region's security groups into another",
		Run: func(c *cobra.Command, args []string) {
			log := f.Logger()

			ctx := c.Context()
			dialer, err := f.Dialer(ctx)
			cmd.CheckError(err)

			cmd.CheckError(secgroup.NewSyncer(log, dialer).SyncRegions(ctx, from, to))
		},
	}

	c.Flags().StringVar(&from, "from", "", "Source region")
	c.Flags().StringVar(&to, "to", "", "Destination region")
	cmd.CheckError(c.MarkFlagRequired("from"))
	cmd.CheckError(c.MarkFlagRequired("to"))

	return c
}

// NewCleanupCommand deletes groups no instance uses.
func NewCleanupCommand(f cmd.Factory) *cobra.Command {
	var dryRun bool

	c := &cobra.Command{
		Use:   "cleanup [REGION...]",
		Short: "Delete security groups no instance uses",
		Run: func(c *cobra.Command, args []string) {
			log := f.Logger()

			ctx := c.Context()
			dialer, err := f.Dialer(ctx)
			cmd.CheckError(err)

			regions := args
			if len(regions) == 0 {
				var err error
				regions, err = dialer.Regions(ctx)
				cmd.CheckError(err)
			}

			syncer := secgroup.NewSyncer(log, dialer)
			for _, region := range regions {
				deleted, err := syncer.Cleanup(ctx, region, dryRun)
				cmd.CheckError(err)
				for _, id := range deleted {
					fmt.Printf("%s\t%s\n", region, id)
				}
			}
		},
	}

	c.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would be deleted without deleting anything")

	return c
}
