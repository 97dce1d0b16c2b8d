package vector

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"strconv"

	"gonum.org/v1/gonum/floats"

	"github.com/notargets/ddcmesh/comm"
)

// NormType selects the vector norm
type NormType int

const (
	NormL1 NormType = iota
	NormL2
	NormInf
)

func (n NormType) String() string {
	switch n {
	case NormL1:
		return "L1"
	case NormL2:
		return "L2"
	case NormInf:
		return "Inf"
	}
	return fmt.Sprintf("NormType(%d)", int(n))
}

// Norm computes the global norm of the committed values. It is collective and
// every rank receives the same value.
func (v *Vector) Norm(ctx context.Context, kind NormType) (float64, error) {
	// Checked ahead of the collective so ranks owning nothing fail too
	op := comm.OpSum
	switch kind {
	case NormL1, NormL2:
	case NormInf:
		op = comm.OpMax
	default:
		return 0, fmt.Errorf("vector %s: unknown norm %v", v.name, kind)
	}
	var local float64
	if len(v.values) > 0 {
		switch kind {
		case NormL1:
			local = floats.Norm(v.values, 1)
		case NormL2:
			local = floats.Dot(v.values, v.values)
		case NormInf:
			local = floats.Norm(v.values, math.Inf(1))
		}
	}
	r, err := comm.AllReduceFloat64(ctx, v.comm, op, []float64{local})
	if err != nil {
		return 0, err
	}
	if kind == NormL2 {
		return math.Sqrt(r[0]), nil
	}
	return r[0], nil
}

// Dot returns the global inner product with x. It is collective.
func (v *Vector) Dot(ctx context.Context, x *Vector) (float64, error) {
	if err := v.sameLayout(x); err != nil {
		return 0, err
	}
	var local float64
	if len(v.values) > 0 {
		local = floats.Dot(v.values, x.values)
	}
	r, err := comm.AllReduceFloat64(ctx, v.comm, comm.OpSum, []float64{local})
	if err != nil {
		return 0, err
	}
	return r[0], nil
}

// AXPY sets v += alpha*x on the owned entries
func (v *Vector) AXPY(alpha float64, x *Vector) error {
	if err := v.sameLayout(x); err != nil {
		return err
	}
	if len(v.values) > 0 {
		floats.AddScaled(v.values, alpha, x.values)
	}
	return nil
}

// CopyFrom overwrites the owned entries with those of x
func (v *Vector) CopyFrom(x *Vector) error {
	if err := v.sameLayout(x); err != nil {
		return err
	}
	copy(v.values, x.values)
	return nil
}

// Fill sets every owned entry to a
func (v *Vector) Fill(a float64) {
	for i := range v.values {
		v.values[i] = a
	}
}

// SetZero is Fill(0)
func (v *Vector) SetZero() { v.Fill(0) }

// WriteText assembles the vector, gathers it on Root and writes it there as
// a MATLAB assignment. It is collective; ranks other than Root write nothing.
func (v *Vector) WriteText(ctx context.Context, w io.Writer) error {
	if err := v.Assemble(ctx); err != nil {
		return err
	}
	parts, err := comm.Gather(ctx, v.comm, comm.Root, comm.EncodeFloat64s(v.values))
	if err != nil {
		return err
	}
	if v.comm.Rank() != comm.Root {
		return nil
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%%Vec Object: %s %d MPI processes\n", v.name, v.comm.Size())
	fmt.Fprintf(bw, "%%  type: mpi\n")
	fmt.Fprintf(bw, "%s = [\n", v.name)
	for r, p := range parts {
		vals, err := comm.DecodeFloat64s(p)
		if err != nil {
			return fmt.Errorf("vector %s: values from rank %d: %w", v.name, r, err)
		}
		for _, x := range vals {
			bw.WriteString(strconv.FormatFloat(x, 'e', 16, 64))
			bw.WriteByte('\n')
		}
	}
	fmt.Fprintf(bw, "];\n")
	return bw.Flush()
}
