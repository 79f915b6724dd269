// Package report writes engine results to disk as JSON and CSV, and to
// terminals as aligned tables. Numbers are rendered with fixed precision.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"github.com/contactkeval/option-lab/internal/chain"
	"github.com/contactkeval/option-lab/internal/pricing"
	"github.com/contactkeval/option-lab/internal/surface"
)

// Decimal places per column family.
const (
	StrikePlaces = 2
	PricePlaces  = 4
	RatioPlaces  = 6 // vols, year fractions, Greeks
)

// Fixed formats x with the given number of decimal places. NaN and ±Inf
// become the empty string.
func Fixed(x float64, places int32) string {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return ""
	}
	return decimal.NewFromFloat(x).StringFixed(places)
}

// positive is Fixed for fields where zero means absent.
func positive(x float64, places int32) string {
	if x <= 0 {
		return ""
	}
	return Fixed(x, places)
}

// WriteJSON writes v as indented JSON to dir/name.json and returns the
// path.
func WriteJSON(v any, dir, name string) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", name, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name+".json")
	return path, os.WriteFile(path, append(b, '\n'), 0o644)
}

var chainHeader = []string{
	"symbol", "kind", "strike", "expiry", "market", "theoretical",
	"mispricing", "implied_vol", "converged", "vendor_iv", "diagnostic",
}

// WriteChainCSV writes analysed chain rows to dir/chain.csv.
func WriteChainCSV(rows []chain.Row, dir string) (string, error) {
	records := make([][]string, 0, len(rows)+1)
	records = append(records, chainHeader)
	for _, r := range rows {
		iv := ""
		if r.Converged {
			iv = Fixed(r.ImpliedVol, RatioPlaces)
		}
		records = append(records, []string{
			r.Symbol,
			string(r.Kind),
			Fixed(r.Strike, StrikePlaces),
			Fixed(r.Expiry, RatioPlaces),
			positive(r.Market, PricePlaces),
			Fixed(r.Theoretical, PricePlaces),
			Fixed(r.Mispricing(), PricePlaces),
			iv,
			strconv.FormatBool(r.Converged),
			positive(r.VendorIV, RatioPlaces),
			r.Diagnostic,
		})
	}
	return writeCSV(dir, "chain", records)
}

// WriteGridCSV writes g as a matrix to dir/name.csv: the first row holds
// the X axis, the first column the Y axis, and uncomputed cells are
// empty.
func WriteGridCSV(g *surface.Grid, dir, name string) (string, error) {
	header := make([]string, 0, len(g.X)+1)
	header = append(header, g.YLabel+"/"+g.XLabel)
	for _, x := range g.X {
		header = append(header, Fixed(x, PricePlaces))
	}
	records := [][]string{header}
	for i, y := range g.Y {
		rec := make([]string, 0, len(g.X)+1)
		rec = append(rec, Fixed(y, PricePlaces))
		for _, z := range g.Z[i] {
			rec = append(rec, Fixed(z, RatioPlaces))
		}
		records = append(records, rec)
	}
	return writeCSV(dir, name, records)
}

// WriteGreeksCSV writes a Greeks curve to dir/name.csv, one row per
// sample of the varied input.
func WriteGreeksCSV(c *surface.Curve, dir, name string) (string, error) {
	records := [][]string{{string(c.Param), "delta", "gamma", "vega", "theta", "rho"}}
	for i, g := range c.Points {
		records = append(records, append([]string{Fixed(c.X[i], RatioPlaces)}, greeksFields(g)...))
	}
	return writeCSV(dir, name, records)
}

func greeksFields(g pricing.Greeks) []string {
	return []string{
		Fixed(g.Delta, RatioPlaces),
		Fixed(g.Gamma, RatioPlaces),
		Fixed(g.Vega, RatioPlaces),
		Fixed(g.Theta, RatioPlaces),
		Fixed(g.Rho, RatioPlaces),
	}
}

func writeCSV(dir, name string, records [][]string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name+".csv")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.WriteAll(records); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, f.Close()
}

// PrintChain renders an analysed chain as an aligned table.
func PrintChain(out io.Writer, res *chain.Result) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(w, "%s\tspot %s\tT %s\tATM %s\tATM iv %s\t\n",
		res.Underlying, Fixed(res.Spot, StrikePlaces), Fixed(res.Expiry, RatioPlaces),
		Fixed(res.ATMStrike, StrikePlaces), Fixed(res.ATMVol, RatioPlaces))
	fmt.Fprintln(w, "kind\tstrike\tmarket\ttheo\tdiff\tiv\tvendor iv\t")
	for _, r := range res.Rows {
		iv := "-"
		if r.Converged {
			iv = Fixed(r.ImpliedVol, RatioPlaces)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			r.Kind, Fixed(r.Strike, StrikePlaces), positive(r.Market, PricePlaces),
			Fixed(r.Theoretical, PricePlaces), Fixed(r.Mispricing(), PricePlaces),
			iv, positive(r.VendorIV, RatioPlaces))
	}
	return w.Flush()
}

// PrintGreeks renders one set of Greeks, raw and in quoting units.
func PrintGreeks(out io.Writer, g pricing.Greeks) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "\tdelta\tgamma\tvega\ttheta\trho\t")
	fmt.Fprintf(w, "raw\t%s\t\n", strings.Join(greeksFields(g), "\t"))
	fmt.Fprintf(w, "display\t%s\t\n", strings.Join(greeksFields(g.Display()), "\t"))
	return w.Flush()
}

// PrintGrid renders g as a matrix with the X axis across the top.
func PrintGrid(out io.Writer, g *surface.Grid) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(w, "%s/%s", g.YLabel, g.XLabel)
	for _, x := range g.X {
		fmt.Fprintf(w, "\t%s", Fixed(x, PricePlaces))
	}
	fmt.Fprintln(w, "\t")
	for i, y := range g.Y {
		fmt.Fprint(w, Fixed(y, PricePlaces))
		for _, z := range g.Z[i] {
			cell := Fixed(z, PricePlaces)
			if cell == "" {
				cell = "-"
			}
			fmt.Fprintf(w, "\t%s", cell)
		}
		fmt.Fprintln(w, "\t")
	}
	return w.Flush()
}
