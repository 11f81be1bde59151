package pqact

import (
	"testing"
	"time"

	"github.com/Unidata/LDM-sub012/internal/product"
)

func TestExpandCaptureGroups(t *testing.T) {
	info := product.Info{ArrivalTimestamp: time.Date(2024, 4, 12, 3, 0, 0, 0, time.UTC)}
	matches := []string{"SFUS12KWBC", "12", "KWBC"}
	got := Expand(`/data/\1/\2.txt`, matches, info, info.ArrivalTimestamp)
	if got != "/data/12/KWBC.txt" {
		t.Fatalf("unexpected expansion: %q", got)
	}
}

func TestExpandParenCaptureGroup(t *testing.T) {
	info := product.Info{ArrivalTimestamp: time.Now()}
	matches := []string{"whole", "a", "b", "c", "d", "e", "f", "g", "h", "i", "tenth"}
	got := Expand(`\(10)`, matches, info, info.ArrivalTimestamp)
	if got != "tenth" {
		t.Fatalf("expected tenth capture group, got %q", got)
	}
}

func TestExpandStrftime(t *testing.T) {
	info := product.Info{ArrivalTimestamp: time.Date(2024, 4, 12, 13, 5, 9, 0, time.UTC)}
	got := Expand(`%Y%m%d_%H%M%S`, nil, info, info.ArrivalTimestamp)
	if got != "20240412_130509" {
		t.Fatalf("unexpected strftime expansion: %q", got)
	}
}

func TestExpandSeq(t *testing.T) {
	info := product.Info{ArrivalTimestamp: time.Now(), Sequence: 42}
	got := Expand(`product-(seq).dat`, nil, info, info.ArrivalTimestamp)
	if got != "product-42.dat" {
		t.Fatalf("unexpected seq expansion: %q", got)
	}
}

func TestExpandDateComponentRollsBackToPriorMonth(t *testing.T) {
	// Arrival is just after local midnight on 2024-05-01, but the
	// embedded day-of-month hint is 30 (late April), so the rollover
	// search should resolve to April, not May.
	arrival := time.Date(2024, 5, 1, 0, 10, 0, 0, time.UTC)
	info := product.Info{ArrivalTimestamp: arrival}
	got := Expand(`(30:yyyy)/(30:mm)/(30:dd)`, nil, info, arrival)
	if got != "2024/04/30" {
		t.Fatalf("expected rollover to April 30, got %q", got)
	}
}

func TestExpandDateComponentStaysInCurrentMonth(t *testing.T) {
	arrival := time.Date(2024, 4, 12, 18, 0, 0, 0, time.UTC)
	info := product.Info{ArrivalTimestamp: arrival}
	got := Expand(`(12:yyyy)/(12:mm)/(12:dd)`, nil, info, arrival)
	if got != "2024/04/12" {
		t.Fatalf("expected same-month resolution, got %q", got)
	}
}

func TestExpandOrderAppliesCapturesBeforeDateComponent(t *testing.T) {
	arrival := time.Date(2024, 4, 12, 18, 0, 0, 0, time.UTC)
	info := product.Info{ArrivalTimestamp: arrival}
	matches := []string{"whole", "12"}
	got := Expand(`(\1:mmm)`, matches, info, arrival)
	if got != "apr" {
		t.Fatalf("expected capture-substituted day to resolve April, got %q", got)
	}
}
