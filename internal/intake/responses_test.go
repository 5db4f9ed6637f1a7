package intake

import "testing"

func TestEncodeField(t *testing.T) {
	tests := []struct {
		name   string
		field  FieldSpec
		values []string
		want   string
	}{
		{name: "text raw", field: FieldSpec{Type: FieldText}, values: []string{"  ok "}, want: "  ok "},
		{name: "text missing", field: FieldSpec{Type: FieldText}, want: ""},
		{name: "phone unvalidated", field: FieldSpec{Type: FieldPhone}, values: []string{"not a number"}, want: "not a number"},
		{name: "signature plain", field: FieldSpec{Type: FieldSignature}, values: []string{"Jane Doe"}, want: "Jane Doe"},
		{name: "toggle on", field: FieldSpec{Type: FieldToggle}, values: []string{"on"}, want: "Yes"},
		{name: "toggle true", field: FieldSpec{Type: FieldToggle}, values: []string{"TRUE"}, want: "Yes"},
		{name: "toggle absent", field: FieldSpec{Type: FieldToggle}, want: "No"},
		{name: "toggle off", field: FieldSpec{Type: FieldToggle}, values: []string{"off"}, want: "No"},
		{name: "radio option", field: FieldSpec{Type: FieldRadio, Options: "Daily, Weekly"}, values: []string{"Weekly"}, want: "Weekly"},
		{name: "radio default options", field: FieldSpec{Type: FieldRadio}, values: []string{"No"}, want: "No"},
		{name: "radio unknown", field: FieldSpec{Type: FieldRadio, Options: "A,B"}, values: []string{"C"}, want: ""},
		{name: "checkbox A and C", field: FieldSpec{Type: FieldCheckbox, Options: "A,B,C"}, values: []string{"A", "C"}, want: "A, C"},
		{name: "checkbox option order", field: FieldSpec{Type: FieldCheckbox, Options: "A,B,C"}, values: []string{"C", "A"}, want: "A, C"},
		{name: "checkbox none", field: FieldSpec{Type: FieldCheckbox, Options: "A,B,C"}, want: ""},
		{name: "checkbox unknown dropped", field: FieldSpec{Type: FieldCheckbox, Options: "A,B"}, values: []string{"Z", "B"}, want: "B"},
		{name: "pain default", field: FieldSpec{Type: FieldPainScale}, want: "5"},
		{name: "pain value", field: FieldSpec{Type: FieldPainScale}, values: []string{"7"}, want: "7"},
		{name: "pain garbage", field: FieldSpec{Type: FieldPainScale}, values: []string{"lots"}, want: "5"},
		{name: "pain clamped high", field: FieldSpec{Type: FieldPainScale}, values: []string{"11"}, want: "10"},
		{name: "pain clamped low", field: FieldSpec{Type: FieldPainScale}, values: []string{"0"}, want: "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := encodeField(tt.field, tt.values); got != tt.want {
				t.Errorf("encodeField() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEncodeResponsesKeysByLabel(t *testing.T) {
	fields := []FieldSpec{
		{ID: "f1", Label: "Reason", Type: FieldText},
		{ID: "f2", Label: "Pain", Type: FieldPainScale},
		{ID: "f3", Label: "Reason", Type: FieldLongNote},
	}
	got := EncodeResponses(fields, FormInput{"f1": {"first"}, "f2": {"7"}, "f3": {"second"}})
	if len(got) != 2 || got["Reason"] != "second" || got["Pain"] != "7" {
		t.Errorf("unexpected responses %v", got)
	}
	if labels := FieldLabels(fields); len(labels) != 2 || labels[0] != "Reason" || labels[1] != "Pain" {
		t.Errorf("unexpected labels %v", labels)
	}
}

func TestChoices(t *testing.T) {
	f := FieldSpec{Type: FieldCheckbox, Options: " A , ,B,"}
	got := f.Choices()
	if len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Errorf("Choices() = %v", got)
	}
	if got := (FieldSpec{Type: FieldCheckbox}).Choices(); len(got) != 2 || got[0] != "Yes" || got[1] != "No" {
		t.Errorf("checkbox without options should offer Yes and No, got %v", got)
	}
	if got := (FieldSpec{Type: FieldText}).Choices(); len(got) != 0 {
		t.Errorf("text field should offer nothing, got %v", got)
	}
}

func TestCheckboxWithoutOptionsKeepsAnswer(t *testing.T) {
	fields := []FieldSpec{{ID: "f1", Label: "Allergies?", Type: FieldCheckbox}}
	got := EncodeResponses(fields, FormInput{"f1": {"Yes"}})
	if got["Allergies?"] != "Yes" {
		t.Errorf("Allergies? = %q, want Yes", got["Allergies?"])
	}
}
