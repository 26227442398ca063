// Package barcode validates the molecular barcode inputs of the
// tagging step: the barcode pattern describing random bases and
// constant spacers, and the list of known barcodes. Both are checked
// before any processing begins; a malformed pattern or list is a
// configuration error and fatal to the whole run.
package barcode

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
)

var alphabetWithN = map[byte]bool{
	'A': true,
	'C': true,
	'G': true,
	'T': true,
	'N': true,
}

// ValidatePattern checks a barcode pattern. N marks a random barcode
// base; A, C, G, T are constant spacer bases, e.g. "ATNNGT" is a
// two-base barcode flanked by "AT" and "GT". A pattern must contain
// at least one N, otherwise it carries no barcode at all.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("empty barcode pattern")
	}
	hasN := false
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if !alphabetWithN[c] {
			return fmt.Errorf("invalid barcode pattern %q: character %q outside A/C/G/T/N", pattern, c)
		}
		if c == 'N' {
			hasN = true
		}
	}
	if !hasN {
		return fmt.Errorf("barcode pattern %q contains no N (random barcode) bases", pattern)
	}
	return nil
}

// LoadList reads a barcode list, one barcode per line, upper-cased
// and deduplicated. Barcodes must consist of A/C/G/T only.
func LoadList(path string) ([]string, error) {
	ctx := vcontext.Background()
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer in.Close(ctx) // nolint: errcheck
	return parseList(in.Reader(ctx))
}

func parseList(reader io.Reader) ([]string, error) {
	var barcodes []string
	seen := map[string]bool{}
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		barcode := strings.ToUpper(strings.TrimSpace(scanner.Text()))
		if barcode == "" {
			continue
		}
		for i := 0; i < len(barcode); i++ {
			if c := barcode[i]; !alphabetWithN[c] || c == 'N' {
				return nil, fmt.Errorf("list contains invalid barcode %q: specify barcodes with A/C/G/T", barcode)
			}
		}
		if !seen[barcode] {
			seen[barcode] = true
			barcodes = append(barcodes, barcode)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(barcodes) == 0 {
		return nil, fmt.Errorf("barcode list is empty")
	}
	return barcodes, nil
}
