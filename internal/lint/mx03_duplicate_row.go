package lint

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rdmontgomery/exa/internal/schema"
	"github.com/rdmontgomery/exa/pkg/core"
)

func init() {
	Register(DuplicateRow)
}

// DuplicateRow flags matrix rows that declare identical variables.
var DuplicateRow = RuleDef{
	ID:          "MX03",
	Name:        "matrix.duplicate_row",
	Group:       "matrix",
	Description: "Matrix row duplicates an earlier row.",
	Severity:    core.SeverityWarning,
	Check:       checkDuplicateRow,
	Rationale: "Identical rows run the same job twice and double the build " +
		"time without adding coverage.",
}

func checkDuplicateRow(cfg *schema.Config) []Diagnostic {
	seen := make(map[string]int)
	var diagnostics []Diagnostic

	for i, row := range cfg.Environment.Matrix {
		key := rowFingerprint(row)
		if first, dup := seen[key]; dup {
			diagnostics = append(diagnostics, Diagnostic{
				RuleID:   "MX03",
				Severity: core.SeverityWarning,
				Message:  fmt.Sprintf("row duplicates environment.matrix[%d]", first),
				Key:      fmt.Sprintf("environment.matrix[%d]", i),
			})
			continue
		}
		seen[key] = i
	}
	return diagnostics
}

func rowFingerprint(row schema.MatrixRow) string {
	names := make([]string, len(row.Names))
	copy(names, row.Names)
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		v := row.Vars[name]
		b.WriteString(name)
		b.WriteByte('=')
		if v.IsSecure() {
			b.WriteString("secure:")
			b.WriteString(v.Secure)
		} else {
			b.WriteString(v.Value)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
