package claims

import (
	"strings"
)

var diagnosisDateKeys = []string{"diagnosis_Date", "diagnosisDate"}

// NormalizeDiagnosisDates rewrites the date of every diagnosis row to a
// single diagnosisDate field formatted 2006-01-02. The underscored spelling
// wins when both are present. Rows whose date cannot be parsed are left as is.
func NormalizeDiagnosisDates(b Bundle) {
	for _, row := range b.Section(SectionDiagnosisDetails) {
		raw, ok := pickDiagnosisDate(row)
		if !ok {
			continue
		}
		t, ok := ParseDate(raw)
		if !ok {
			continue
		}
		for _, k := range diagnosisDateKeys {
			RemoveIgnoreCase(row, k)
		}
		row["diagnosisDate"] = t.Format("2006-01-02")
	}
}

func pickDiagnosisDate(row Object) (string, bool) {
	var plain string
	for k, v := range row {
		match := false
		for _, candidate := range diagnosisDateKeys {
			if strings.EqualFold(k, candidate) {
				match = true
				break
			}
		}
		if !match {
			continue
		}
		s := strings.TrimSpace(String(v))
		if s == "" {
			continue
		}
		if strings.Contains(k, "_") {
			return s, true
		}
		plain = s
	}
	return plain, plain != ""
}
