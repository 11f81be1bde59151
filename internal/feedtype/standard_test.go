package feedtype

import "testing"

func TestStandardRegistryResolvesConventionalNames(t *testing.T) {
	r := Standard()

	for _, name := range []string{"DDPLUS", "HDS", "IDS", "NMC", "DDS", "NEXRAD", "ANY"} {
		if _, err := r.Lookup(name); err != nil {
			t.Fatalf("Lookup(%q) = %v, want no error", name, err)
		}
	}

	ids, err := r.Lookup("IDS")
	if err != nil {
		t.Fatal(err)
	}
	ddplus, err := r.Lookup("DDPLUS")
	if err != nil {
		t.Fatal(err)
	}
	if ids.Bits&ddplus.Bits != ddplus.Bits {
		t.Fatalf("IDS mask does not contain DDPLUS bit")
	}

	any, err := r.Lookup("ANY")
	if err != nil {
		t.Fatal(err)
	}
	if any.Bits&ddplus.Bits == 0 {
		t.Fatalf("ANY mask does not contain DDPLUS bit")
	}
}

func TestStandardExprParsesPipeUnion(t *testing.T) {
	r := Standard()
	bits, err := r.ParseExpr("DDPLUS|HDS")
	if err != nil {
		t.Fatal(err)
	}
	ids, err := r.Lookup("IDS")
	if err != nil {
		t.Fatal(err)
	}
	if bits != ids.Bits {
		t.Fatalf("DDPLUS|HDS = %#x, want IDS = %#x", bits, ids.Bits)
	}
}
