package intake

import (
	"slices"
	"strconv"
	"strings"
)

// FormInput carries what a patient entered, keyed by field ID. Multi-valued
// entries come from checkbox groups.
type FormInput map[string][]string

const (
	painScaleMin     = 1
	painScaleMax     = 10
	painScaleDefault = 5
)

// Choices splits a field's comma separated choice list. A radio or checkbox
// field with no options offers Yes and No.
func (f FieldSpec) Choices() []string {
	var out []string
	for _, opt := range strings.Split(f.Options, ",") {
		if opt = strings.TrimSpace(opt); opt != "" {
			out = append(out, opt)
		}
	}
	if len(out) == 0 && (f.Type == FieldRadio || f.Type == FieldCheckbox) {
		return []string{"Yes", "No"}
	}
	return out
}

// EncodeResponses turns raw input into the label to value map stored on a
// submission. A later field with a duplicate label overwrites an earlier one.
func EncodeResponses(fields []FieldSpec, input FormInput) map[string]string {
	responses := make(map[string]string, len(fields))
	for _, f := range fields {
		responses[f.Label] = encodeField(f, input[f.ID])
	}
	return responses
}

func encodeField(f FieldSpec, values []string) string {
	first := ""
	if len(values) > 0 {
		first = values[0]
	}

	switch f.Type {
	case FieldToggle:
		switch strings.ToLower(strings.TrimSpace(first)) {
		case "on", "true", "yes", "1":
			return "Yes"
		}
		return "No"
	case FieldRadio:
		choice := strings.TrimSpace(first)
		if slices.Contains(f.Choices(), choice) {
			return choice
		}
		return ""
	case FieldCheckbox:
		selected := make(map[string]bool, len(values))
		for _, v := range values {
			selected[strings.TrimSpace(v)] = true
		}
		var picked []string
		for _, opt := range f.Choices() {
			if selected[opt] {
				picked = append(picked, opt)
			}
		}
		return strings.Join(picked, ", ")
	case FieldPainScale:
		n, err := strconv.Atoi(strings.TrimSpace(first))
		if err != nil {
			n = painScaleDefault
		}
		n = max(painScaleMin, min(painScaleMax, n))
		return strconv.Itoa(n)
	default:
		return first
	}
}

// FieldLabels lists labels in field order without duplicates.
func FieldLabels(fields []FieldSpec) []string {
	labels := make([]string, 0, len(fields))
	for _, f := range fields {
		if !slices.Contains(labels, f.Label) {
			labels = append(labels, f.Label)
		}
	}
	return labels
}
