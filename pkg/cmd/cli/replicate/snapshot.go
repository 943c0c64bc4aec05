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

package replicate

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/snaplife/snaplife/pkg/cmd"
	"github.com/snaplife/snaplife/pkg/replication"
)

// NewSnapshotCommand replicates one snapshot.
func NewSnapshotCommand(f cmd.Factory) *cobra.Command {
	var from, to string

	c := &cobra.Command{
		Use:   "snapshot SNAPSHOT_ID",
		Short: "Duplicate one snapshot into the destination region",
		Args:  cobra.ExactArgs(1),
		Run: func(c *cobra.Command, args []string) {
			cfg, err := f.Config()
			cmd.CheckError(err)
			log := f.Logger()

			ctx := c.Context()
			dialer, err := f.Dialer(ctx)
			cmd.CheckError(err)

			orch := replication.NewOrchestrator(log, dialer, f.SSHDialer(log, cfg), cfg, nil)
			snap, err := orch.ReplicateSnapshot(ctx, from, args[0], to)
			cmd.CheckError(err)
			fmt.Printf("%s\t%s\n", snap.ID, snap.Region)
		},
	}

	c.Flags().StringVar(&from, "from", "", "Region the snapshot lives in")
	c.Flags().StringVar(&to, "to", "", "Region to duplicate the snapshot into")
	cmd.CheckError(c.MarkFlagRequired("from"))
	cmd.CheckError(c.MarkFlagRequired("to"))

	return c
}
