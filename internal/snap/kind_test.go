package snap

import "testing"

func TestParseKind(t *testing.T) {
	cases := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{in: "full", want: KindFull},
		{in: "incremental", want: KindIncremental},
		{in: "incr", want: KindIncremental},
		{in: "archive", want: KindArchive},
		{in: "Full", wantErr: true},
		{in: "differential", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseKind(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseKind(%q) succeeded, want error", tc.in)
				}
				if !IsInvalidInput(err) {
					t.Errorf("ParseKind(%q) error kind = %s, want invalid-input", tc.in, KindOf(err))
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseKind(%q): %v", tc.in, err)
			}
			if got != tc.want {
				t.Errorf("ParseKind(%q) = %s, want %s", tc.in, got, tc.want)
			}
		})
	}
}

func TestKindChainBase(t *testing.T) {
	if !KindFull.ChainBase() {
		t.Error("full should terminate a chain")
	}
	if !KindArchive.ChainBase() {
		t.Error("archive should terminate a chain")
	}
	if KindIncremental.ChainBase() {
		t.Error("incremental must not terminate a chain")
	}
}

func TestKindTextRoundTrip(t *testing.T) {
	for _, k := range []Kind{KindFull, KindIncremental, KindArchive} {
		text, err := k.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%s): %v", k, err)
		}
		var back Kind
		if err := back.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText(%q): %v", text, err)
		}
		if back != k {
			t.Errorf("round trip %s -> %q -> %s", k, text, back)
		}
	}

	if _, err := Kind(42).MarshalText(); err == nil {
		t.Error("marshaling an invalid kind should fail")
	}
}
