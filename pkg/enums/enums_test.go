package enums

import "testing"

func TestParseTransferOption(t *testing.T) {
	for _, opt := range TransferOptions() {
		got, err := ParseTransferOption(string(opt))
		if err != nil {
			t.Fatalf("parse %q: %v", opt, err)
		}
		if got != opt {
			t.Fatalf("expected %q got %q", opt, got)
		}
	}
	if _, err := ParseTransferOption("boat"); err == nil {
		t.Fatal("expected error for unknown option")
	}
	if TransferOption("").IsValid() {
		t.Fatal("empty option should be invalid")
	}
}

func TestTransferOptionRequirements(t *testing.T) {
	tests := []struct {
		opt       TransferOption
		arrival   bool
		departure bool
	}{
		{TransferArrivalOnly, true, false},
		{TransferDepartureOnly, false, true},
		{TransferBoth, true, true},
		{TransferNone, false, false},
	}
	for _, tt := range tests {
		if tt.opt.NeedsArrival() != tt.arrival {
			t.Fatalf("%s NeedsArrival mismatch", tt.opt)
		}
		if tt.opt.NeedsDeparture() != tt.departure {
			t.Fatalf("%s NeedsDeparture mismatch", tt.opt)
		}
	}
}

func TestTransferOptionsReturnsCopy(t *testing.T) {
	opts := TransferOptions()
	opts[0] = "mutated"
	if TransferOptions()[0] != TransferArrivalOnly {
		t.Fatal("TransferOptions must not expose the backing slice")
	}
}

func TestParseDraftStatusAndAction(t *testing.T) {
	if s, err := ParseDraftStatus("submitted"); err != nil || s != DraftStatusSubmitted {
		t.Fatalf("unexpected status parse: %v %v", s, err)
	}
	if _, err := ParseDraftStatus("archived"); err == nil {
		t.Fatal("expected error for unknown status")
	}
	if a, err := ParseDraftAction("update"); err != nil || a != DraftActionUpdate {
		t.Fatalf("unexpected action parse: %v %v", a, err)
	}
	if DraftAction("delete").IsValid() {
		t.Fatal("delete is not a draft action")
	}
}
