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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/snaplife/snaplife/pkg/backup"
	"github.com/snaplife/snaplife/pkg/cmd"
)

// NewInstanceCommand snapshots every volume of one instance.
func NewInstanceCommand(f cmd.Factory) *cobra.Command {
	var (
		region string
		async  bool
	)

	c := &cobra.Command{
		Use:   "instance INSTANCE_ID",
		Short: "Snapshot every volume attached to an instance",
		Args:  cobra.ExactArgs(1),
		Run: func(c *cobra.Command, args []string) {
			cfg, err := f.Config()
			cmd.CheckError(err)
			log := f.Logger()

			ctx := c.Context()
			dialer, err := f.Dialer(ctx)
			cmd.CheckError(err)
			api, err := dialer.Dial(ctx, region)
			cmd.CheckError(err)

			snaps, err := backup.NewBackupper(log, dialer, cfg, nil).BackupInstance(ctx, api, args[0], !async)
			cmd.CheckError(err)
			for _, snap := range snaps {
				fmt.Printf("%s\t%s\n", snap.ID, snap.Description)
			}
		},
	}

	c.Flags().StringVar(&region, "region", "", "Region the instance lives in")
	c.Flags().BoolVar(&async, "async", false, "Initiate the snapshots without waiting for completion")
	cmd.CheckError(c.MarkFlagRequired("region"))

	return c
}
