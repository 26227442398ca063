package consensus

import (
	"fmt"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// WriteFamilySizePlot renders the family-size histogram as a bar
// chart. The image format follows the path's extension (.png).
func WriteFamilySizePlot(familySizes map[int]int, path string) error {
	sizes := make([]int, 0, len(familySizes))
	for size := range familySizes {
		sizes = append(sizes, size)
	}
	sort.Ints(sizes)

	values := make(plotter.Values, len(sizes))
	labels := make([]string, len(sizes))
	for i, size := range sizes {
		values[i] = float64(familySizes[size])
		labels[i] = fmt.Sprintf("%d", size)
	}

	p, err := plot.New()
	if err != nil {
		return err
	}
	p.Title.Text = "Tag family size distribution"
	p.X.Label.Text = "Family size"
	p.Y.Label.Text = "Families"
	bars, err := plotter.NewBarChart(values, vg.Points(20))
	if err != nil {
		return err
	}
	p.Add(bars)
	p.NominalX(labels...)
	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}
