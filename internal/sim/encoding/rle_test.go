package encoding

import "testing"

func TestRunsRoundTrip(t *testing.T) {
	in := []uint16{1, 1, 1, 2, 2, 3}
	for i := 0; i < 50; i++ {
		in = append(in, 7)
	}
	in = append(in, 9, 10, 10, 10)

	out, err := DecodeRuns(EncodeRuns(in), len(in))
	if err != nil {
		t.Fatalf("DecodeRuns: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len mismatch: got %d want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("mismatch at %d: got %d want %d", i, out[i], in[i])
		}
	}
}

func TestDecodeRunsRejectsWrongLength(t *testing.T) {
	enc := EncodeRuns([]uint16{4, 4, 4, 4})
	if _, err := DecodeRuns(enc, 3); err == nil {
		t.Fatalf("expected overflow error")
	}
	if _, err := DecodeRuns(enc, 5); err == nil {
		t.Fatalf("expected short error")
	}
}

func TestDecodeRunsBadInput(t *testing.T) {
	if _, err := DecodeRuns("!!", 1); err == nil {
		t.Fatalf("expected base64 error")
	}
}
