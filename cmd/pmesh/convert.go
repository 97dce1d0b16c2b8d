package main

import (
	"fmt"
	"slices"

	"github.com/notargets/gocfd/DG3D/mesh/readers"
	"github.com/spf13/cobra"

	"github.com/notargets/ddcmesh/partitions"
)

func newConvertCmd() *cobra.Command {
	var (
		meshFile string
		out      string
		nparts   int
		text     bool
	)
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Write node-partitioned files for a mesh with an element partition",
		Long: `Convert reads a mesh file (.neu, .msh or .su2) whose elements already carry a
partition assignment and writes one node-partitioned file set per partition.
A mesh without an assignment is written as a single partition.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := readers.ReadMeshFile(meshFile)
			if err != nil {
				return fmt.Errorf("reading %s: %w", meshFile, err)
			}
			etop := m.EToP
			if len(etop) != len(m.EtoV) {
				etop = make([]int, len(m.EtoV))
			}
			n := nparts
			if n == 0 && len(etop) > 0 {
				n = slices.Max(etop) + 1
			}
			if n < 1 {
				n = 1
			}
			parts, err := partitions.FromElementPartition(m.Vertices, m.EtoV, nil, etop, n)
			if err != nil {
				return err
			}
			enc := partitions.Binary
			if text {
				enc = partitions.Text
			}
			if err := partitions.Write(out, parts, enc); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d %v partitions of %d elements to %s\n",
				n, enc, m.NumElements, out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&meshFile, "mesh", "m", "", "input mesh file")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output basename")
	cmd.Flags().IntVarP(&nparts, "nparts", "n", 0, "partition count, from the assignment when 0")
	cmd.Flags().BoolVar(&text, "text", false, "write the text encoding")
	_ = cmd.MarkFlagRequired("mesh")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}
