package main

import (
	"fmt"
	"io"
	"math/big"
	"os"

	jsoniter "github.com/json-iterator/go"

	"cuzk.mleku.dev"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// pointJSON is an affine point with decimal coordinates.
type pointJSON struct {
	X string `json:"x"`
	Y string `json:"y"`
}

// inputFile is the MSM input read by the msm command and written by gen.
type inputFile struct {
	Points  []pointJSON `json:"points"`
	Scalars []string    `json:"scalars"`
}

// resultJSON is the output of the msm command.
type resultJSON struct {
	X        string `json:"x"`
	Y        string `json:"y"`
	N        int    `json:"n"`
	Elapsed  string `json:"elapsed"`
	Verified bool   `json:"verified,omitempty"`
}

func encodePoint(p cuzk.AffinePoint) pointJSON {
	return pointJSON{X: p.X.String(), Y: p.Y.String()}
}

func parseDecimal(s, what string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s %q", what, s)
	}

	return v, nil
}

// decode parses the decimal values of in.
func (in *inputFile) decode() ([]cuzk.AffinePoint, []*big.Int, error) {
	points := make([]cuzk.AffinePoint, len(in.Points))
	for i, p := range in.Points {
		x, err := parseDecimal(p.X, fmt.Sprintf("x of point %d", i))
		if err != nil {
			return nil, nil, err
		}

		y, err := parseDecimal(p.Y, fmt.Sprintf("y of point %d", i))
		if err != nil {
			return nil, nil, err
		}

		points[i] = cuzk.AffinePoint{X: x, Y: y}
	}

	scalars := make([]*big.Int, len(in.Scalars))
	for i, s := range in.Scalars {
		v, err := parseDecimal(s, fmt.Sprintf("scalar %d", i))
		if err != nil {
			return nil, nil, err
		}

		scalars[i] = v
	}

	return points, scalars, nil
}

func readInput(r io.Reader) (*inputFile, error) {
	var in inputFile
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}

	return &in, nil
}

func readInputFile(path string) (*inputFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return readInput(f)
}

func writeJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	_, err = w.Write(append(b, '\n'))

	return err
}
