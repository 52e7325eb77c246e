package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"cuzk.mleku.dev"
)

type genParams struct {
	n    int
	seed string
	bits uint
	out  string
}

func newGenCommand() *cobra.Command {
	params := &genParams{}

	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Derive deterministic MSM inputs on ed-bls12-377",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return params.run(cmd)
		},
	}

	cmd.Flags().IntVar(&params.n, "n", 64, "number of points")
	cmd.Flags().StringVar(&params.seed, "seed", "cuzk", "derivation seed")
	cmd.Flags().UintVar(&params.bits, "bits", 256, "scalar width in bits")
	cmd.Flags().StringVar(&params.out, "out", "", "output file (stdout when empty)")

	return cmd
}

func (p *genParams) generate() (*inputFile, error) {
	if p.n <= 0 || p.n > cuzk.MaxInputSize {
		return nil, fmt.Errorf("n must be in [1, %d]", cuzk.MaxInputSize)
	}

	points, err := cuzk.EdBLS12377().DerivePoints([]byte(p.seed), p.n)
	if err != nil {
		return nil, err
	}

	scalars := cuzk.DeriveScalars([]byte(p.seed), p.n, p.bits)

	in := &inputFile{
		Points:  make([]pointJSON, p.n),
		Scalars: make([]string, p.n),
	}
	for i := range points {
		in.Points[i] = encodePoint(points[i])
		in.Scalars[i] = scalars[i].String()
	}

	return in, nil
}

func (p *genParams) run(cmd *cobra.Command) error {
	logger := newLogger(cmd)

	in, err := p.generate()
	if err != nil {
		return err
	}

	if p.out == "" {
		return writeJSON(cmd.OutOrStdout(), in)
	}

	f, err := os.Create(p.out)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := writeJSON(f, in); err != nil {
		return err
	}

	logger.Info("wrote inputs", "n", p.n, "file", p.out)

	return nil
}
