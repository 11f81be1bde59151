package accesscontrol

import (
	"strings"
	"testing"
	"time"

	"github.com/Unidata/LDM-sub012/internal/feedtype"
	"github.com/Unidata/LDM-sub012/internal/product"
	"github.com/Unidata/LDM-sub012/internal/productclass"
)

func buildRegistry(t *testing.T) *feedtype.Registry {
	t.Helper()
	r := feedtype.NewRegistry()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("registry setup: %v", err)
		}
	}
	must(r.AddBit("DDPLUS", 0))
	must(r.AddBit("DDS", 1))
	must(r.AddMask("IDS", 1<<0|1<<1, false))
	return r
}

const sampleConfig = `
# comment line
ALLOW	IDS	^host\.example\.org$	^SFUS.*	^SFUS2.*
REQUEST	DDPLUS	^K[A-Z]{3}.*	upstream.example.org:388
ACCEPT	IDS	.*	^.*\.example\.org$	alternate
EXEC	/usr/local/bin/pqinsert -p foo
`

func TestLoadParsesAllVerbs(t *testing.T) {
	reg := buildRegistry(t)
	table, err := Load(strings.NewReader(sampleConfig), reg)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(table.Allow) != 1 || len(table.Request) != 1 || len(table.Accept) != 1 || len(table.Exec) != 1 {
		t.Fatalf("unexpected table shape: %+v", table)
	}
	if table.Allow[0].Not == nil || table.Allow[0].Not.String() != `^SFUS2.*` {
		t.Errorf("not_ere not parsed: %+v", table.Allow[0])
	}
	if table.Accept[0].Mode != ModeAlternate {
		t.Errorf("expected alternate mode")
	}
	if len(table.Exec[0].Argv) != 3 {
		t.Errorf("expected 3 argv tokens, got %v", table.Exec[0].Argv)
	}
}

func TestLoadRejectsUnknownVerb(t *testing.T) {
	reg := buildRegistry(t)
	_, err := Load(strings.NewReader("BOGUS foo bar"), reg)
	if err == nil {
		t.Fatal("expected error for unknown verb")
	}
}

func TestReduceNarrowsToAllowedHost(t *testing.T) {
	reg := buildRegistry(t)
	table, err := Load(strings.NewReader(sampleConfig), reg)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	idsBits, _ := reg.ParseExpr("IDS")
	requested, err := productclass.New(productclass.Zero, productclass.End, []productclass.RawSpec{
		{Mask: idsBits, Pattern: ".*"},
	})
	if err != nil {
		t.Fatalf("new class: %v", err)
	}

	reduced, excludes, _ := table.Reduce("host.example.org", requested, nil)
	if len(excludes) != 1 {
		t.Fatalf("expected one matching allow rule, got %d", len(excludes))
	}

	info := product.Info{Feedtype: idsBits, Identifier: "SFUS12KXXX", ArrivalTimestamp: time.Now()}
	fc := FilteredClass{Class: reduced, Excludes: excludes}
	if !fc.Match(info) {
		t.Errorf("expected match for non-excluded identifier")
	}

	excludedInfo := product.Info{Feedtype: idsBits, Identifier: "SFUS2KXXX", ArrivalTimestamp: time.Now()}
	if fc.Match(excludedInfo) {
		t.Errorf("not_ere should have excluded SFUS2KXXX")
	}
}

func TestReduceRejectsUnknownHost(t *testing.T) {
	reg := buildRegistry(t)
	table, err := Load(strings.NewReader(sampleConfig), reg)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	idsBits, _ := reg.ParseExpr("IDS")
	requested, err := productclass.New(productclass.Zero, productclass.End, []productclass.RawSpec{
		{Mask: idsBits, Pattern: ".*"},
	})
	if err != nil {
		t.Fatalf("new class: %v", err)
	}

	reduced, _, changed := table.Reduce("untrusted.example.org", requested, nil)
	if !changed {
		t.Fatal("expected reduction for unrecognized host")
	}
	if len(reduced.Conjuncts) != 0 {
		t.Fatalf("expected empty reduced class, got %+v", reduced.Conjuncts)
	}
}
