package sales

import "strings"

// Clean normalises every record: text is trimmed of leading and trailing
// whitespace, and values that are missing, empty after trimming, or one of the
// NA tokens become the absent marker. The result has the same length and order
// as in; in is not modified.
func Clean(in []Record) []Record {
	out := make([]Record, len(in))
	for i, r := range in {
		for j := 0; j < NumColumns; j++ {
			r.Set(j, cleanValue(r.Field(j)))
		}
		out[i] = r
	}
	return out
}

func cleanValue(v Value) Value {
	if v.IsAbsent() {
		return v
	}
	s := v.String()
	if hasEdgeSpace(s) {
		s = strings.TrimSpace(s)
	}
	if s == "" || naTokens[s] {
		return Absent()
	}
	return Text(s)
}

// naTokens are the placeholder spellings the published export uses for a
// missing value. Matching is exact and case-sensitive.
var naTokens = map[string]bool{
	"#N/A": true, "#N/A N/A": true, "#NA": true,
	"-1.#IND": true, "-1.#QNAN": true, "1.#IND": true, "1.#QNAN": true,
	"-NaN": true, "-nan": true, "NaN": true, "nan": true,
	"<NA>": true, "N/A": true, "n/a": true, "NA": true,
	"NULL": true, "null": true, "None": true,
}

// hasEdgeSpace reports whether s starts or ends with ASCII whitespace or a
// non-ASCII byte (which may be Unicode space). It lets the common already-clean
// case skip strings.TrimSpace.
func hasEdgeSpace(s string) bool {
	if s == "" {
		return false
	}
	return edgeByte(s[0]) || edgeByte(s[len(s)-1])
}

func edgeByte(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return b >= 0x80
}

// Batches partitions records into consecutive slices of at most size records,
// preserving order. The slices share records' backing array. size must be > 0.
func Batches(records []Record, size int) [][]Record {
	if size <= 0 {
		panic("sales: Batches called with non-positive size")
	}
	if len(records) == 0 {
		return nil
	}
	out := make([][]Record, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		out = append(out, records[start:end:end])
	}
	return out
}
