package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/notargets/ddcmesh/mesh"
	"github.com/notargets/ddcmesh/partitions"
)

// rankSummary is one line of pmesh inspect
type rankSummary struct {
	Rank            int    `yaml:"rank"`
	Encoding        string `yaml:"encoding"`
	Nodes           int    `yaml:"nodes"`
	LinearNodes     int    `yaml:"linear_nodes"`
	ActiveLinear    int    `yaml:"active_linear"`
	ActiveAll       int    `yaml:"active_all"`
	RegularElements int    `yaml:"regular_elements"`
	GhostElements   int    `yaml:"ghost_elements"`
	LargestActiveID int    `yaml:"largest_active_id"`
}

type inspectReport struct {
	Basename          string        `yaml:"basename"`
	Partitions        int           `yaml:"partitions"`
	GlobalLinearNodes int64         `yaml:"global_linear_nodes"`
	GlobalNodes       int64         `yaml:"global_nodes"`
	Ranks             []rankSummary `yaml:"ranks"`
}

func newInspectCmd() *cobra.Command {
	var (
		basename string
		nparts   int
		asYAML   bool
	)
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Read every partition serially and summarize it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rep, err := inspect(basename, nparts)
			if err != nil {
				return err
			}
			if asYAML {
				return writeYAML(cmd.OutOrStdout(), rep)
			}
			return rep.writeTable(cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&basename, "basename", "b", "", "partition file basename")
	cmd.Flags().IntVarP(&nparts, "nparts", "n", 1, "number of partitions")
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "print YAML instead of a table")
	_ = cmd.MarkFlagRequired("basename")
	return cmd
}

// inspect builds every partition in turn and checks that the active node
// counts add up to the global ones
func inspect(basename string, nparts int) (*inspectReport, error) {
	rep := &inspectReport{Basename: basename, Partitions: nparts}
	var sumLinear, sumAll int64
	for r := 0; r < nparts; r++ {
		enc, err := partitions.Detect(r, basename, nparts)
		if err != nil {
			return nil, err
		}
		raw, err := partitions.Read(r, nparts, basename)
		if err != nil {
			return nil, err
		}
		m, err := mesh.Build(raw)
		if err != nil {
			return nil, err
		}
		if r == 0 {
			rep.GlobalLinearNodes = m.GlobalNodeCount(mesh.Linear)
			rep.GlobalNodes = m.GlobalNodeCount(mesh.Quadratic)
		} else if m.GlobalNodeCount(mesh.Quadratic) != rep.GlobalNodes {
			return nil, &partitions.PartitionConsistencyError{Rank: r, What: "global node count",
				Expected: rep.GlobalNodes, Actual: m.GlobalNodeCount(mesh.Quadratic)}
		}
		sumLinear += int64(m.ActiveNodeCount(mesh.Linear))
		sumAll += int64(m.ActiveNodeCount(mesh.Quadratic))
		rep.Ranks = append(rep.Ranks, rankSummary{
			Rank:            r,
			Encoding:        enc.String(),
			Nodes:           m.NumNodes(),
			LinearNodes:     m.NumLinearNodes(),
			ActiveLinear:    m.ActiveNodeCount(mesh.Linear),
			ActiveAll:       m.ActiveNodeCount(mesh.Quadratic),
			RegularElements: m.NumRegularElements(),
			GhostElements:   m.NumGhostElements(),
			LargestActiveID: m.LargestActiveNodeID(),
		})
	}
	if sumLinear != rep.GlobalLinearNodes {
		return nil, &partitions.PartitionConsistencyError{Rank: nparts - 1, What: "sum of active linear nodes",
			Expected: rep.GlobalLinearNodes, Actual: sumLinear}
	}
	if sumAll != rep.GlobalNodes {
		return nil, &partitions.PartitionConsistencyError{Rank: nparts - 1, What: "sum of active nodes",
			Expected: rep.GlobalNodes, Actual: sumAll}
	}
	return rep, nil
}

func (rep *inspectReport) writeTable(w io.Writer) error {
	fmt.Fprintf(w, "%s: %d partitions, %d nodes (%d linear)\n",
		rep.Basename, rep.Partitions, rep.GlobalNodes, rep.GlobalLinearNodes)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "rank\tencoding\tnodes\tactive lin\tactive all\tregular\tghost\t")
	for _, s := range rep.Ranks {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%d\t%d\t\n", s.Rank, s.Encoding, s.Nodes,
			s.ActiveLinear, s.ActiveAll, s.RegularElements, s.GhostElements)
	}
	return tw.Flush()
}
