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
	"github.com/spf13/cobra"

	"github.com/snaplife/snaplife/pkg/cmd"
	"github.com/snaplife/snaplife/pkg/replication"
)

// NewRegionCommand replicates the latest snapshot of every tagged volume
// in a region.
func NewRegionCommand(f cmd.Factory) *cobra.Command {
	var (
		from, to   string
		nativeOnly bool
	)

	c := &cobra.Command{
		Use:   "region",
		Short: "Duplicate the latest snapshot of every tagged volume",
		Long: `Duplicate the latest snapshot of every tagged volume in the source
region into the destination region. A pair of temporary transfer
instances is shared across all volumes in the run.`,
		Run: func(c *cobra.Command, args []string) {
			cfg, err := f.Config()
			cmd.CheckError(err)
			log := f.Logger()

			ctx := c.Context()
			dialer, err := f.Dialer(ctx)
			cmd.CheckError(err)

			orch := replication.NewOrchestrator(log, dialer, f.SSHDialer(log, cfg), cfg, nil)
			cmd.CheckError(orch.ReplicateRegion(ctx, from, to, nativeOnly))
		},
	}

	c.Flags().StringVar(&from, "from", "", "Source region")
	c.Flags().StringVar(&to, "to", "", "Destination region")
	c.Flags().BoolVar(&nativeOnly, "native-only", true, "Skip snapshots that were themselves replicated from elsewhere")
	cmd.CheckError(c.MarkFlagRequired("from"))
	cmd.CheckError(c.MarkFlagRequired("to"))

	return c
}
