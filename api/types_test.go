// types_test.go - Tests fuer die Wire-Typen
package api

import (
	"encoding/json"
	"testing"
)

func TestParsePriority(t *testing.T) {
	cases := []struct {
		in      string
		want    Priority
		wantErr bool
	}{
		{"", PriorityNormal, false},
		{"NORMAL", PriorityNormal, false},
		{"HIGH", PriorityHigh, false},
		{"LOW", PriorityLow, false},
		{"high", PriorityNormal, true},
		{"DRINGEND", PriorityNormal, true},
	}
	for _, tc := range cases {
		got, err := ParsePriority(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParsePriority(%q) err = %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParsePriority(%q) = %v, erwartet %v", tc.in, got, tc.want)
		}
	}
}

func TestPriorityOrdering(t *testing.T) {
	if !(PriorityHigh > PriorityNormal && PriorityNormal > PriorityLow) {
		t.Fatal("Prioritaeten muessen strikt geordnet sein: HIGH > NORMAL > LOW")
	}
}

func TestPriorityRoundtrip(t *testing.T) {
	for _, p := range []Priority{PriorityHigh, PriorityNormal, PriorityLow} {
		got, err := ParsePriority(p.String())
		if err != nil || got != p {
			t.Errorf("Roundtrip %v -> %q -> %v, err=%v", p, p.String(), got, err)
		}
	}
}

func TestStatusErrorMessage(t *testing.T) {
	cases := []struct {
		e    StatusError
		want string
	}{
		{StatusError{Status: "not found", ErrorMessage: "model fehlt"}, "not found: model fehlt"},
		{StatusError{Status: "not found"}, "not found"},
		{StatusError{ErrorMessage: "model fehlt"}, "model fehlt"},
		{StatusError{}, "something went wrong, please see the server logs for details"},
	}
	for _, tc := range cases {
		if got := tc.e.Error(); got != tc.want {
			t.Errorf("Error() = %q, erwartet %q", got, tc.want)
		}
	}
}

func TestTokenJSONOmitsOptionalFields(t *testing.T) {
	b, err := json.Marshal(TokenJSON{Token: "hallo", TokenID: 3})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"token":"hallo","token_id":3}`
	if string(b) != want {
		t.Errorf("Marshal = %s, erwartet %s", b, want)
	}
}

func TestStreamTerminalShape(t *testing.T) {
	b, err := json.Marshal(StreamTerminal{End: true, CompletionReason: ReasonDone})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"end":true,"completion_reason":"done"}`
	if string(b) != want {
		t.Errorf("Marshal = %s, erwartet %s", b, want)
	}
}
