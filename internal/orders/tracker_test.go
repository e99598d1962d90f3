package orders

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/toremeling86-cell/crypto-trader/models"
)

func newTestTracker() *Tracker {
	tr := NewTracker()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	tr.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return tr
}

func buy(id string, volume, price float64) Order {
	return Order{ID: id, Pair: "XBTUSD", Side: models.ActionBuy, Volume: volume, Price: price}
}

func TestSubmit(t *testing.T) {
	tests := []struct {
		name  string
		order Order
		want  error
	}{
		{"валидный ордер", buy("a", 1, 100), nil},
		{"без id", buy("", 1, 100), ErrInvalidOrder},
		{"нулевой объём", buy("b", 0, 100), ErrInvalidOrder},
		{"HOLD не ордер", Order{ID: "c", Pair: "XBTUSD", Side: models.ActionHold, Volume: 1, Price: 1}, ErrInvalidOrder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTracker()
			err := tr.Submit(tt.order)
			if tt.want == nil && err != nil {
				t.Fatalf("Submit: %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubmitDuplicate(t *testing.T) {
	tr := newTestTracker()
	if err := tr.Submit(buy("a", 1, 100)); err != nil {
		t.Fatal(err)
	}
	if err := tr.Submit(buy("a", 2, 100)); !errors.Is(err, ErrOrderExists) {
		t.Fatalf("err = %v, want ErrOrderExists", err)
	}
	o, err := tr.Get("a")
	if err != nil {
		t.Fatal(err)
	}
	if o.Volume != 1 || o.Status != StatusPending {
		t.Errorf("order = %+v", o)
	}
}

func TestUnknownOrder(t *testing.T) {
	tr := newTestTracker()
	if _, err := tr.Get("x"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("Get err = %v", err)
	}
	if err := tr.UpdateStatus("x", StatusFilled); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("UpdateStatus err = %v", err)
	}
}

func TestFillsMovePosition(t *testing.T) {
	tr := newTestTracker()

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(tr.Submit(buy("b1", 1, 100)))
	must(tr.Submit(buy("b2", 1, 110)))

	if _, ok := tr.OpenPosition("XBTUSD"); ok {
		t.Fatal("pending orders must not open a position")
	}

	must(tr.UpdateStatus("b1", StatusFilled))
	must(tr.UpdateStatus("b2", StatusFilled))

	pos, ok := tr.OpenPosition("XBTUSD")
	if !ok {
		t.Fatal("expected an open position")
	}
	if pos.Volume != 2 || math.Abs(pos.EntryPrice-105) > 1e-9 || pos.PeakPrice != 110 {
		t.Errorf("position = %+v", pos)
	}

	tr.MarkPrice("XBTUSD", 120)
	tr.MarkPrice("XBTUSD", 115)
	if pos, _ := tr.OpenPosition("XBTUSD"); pos.PeakPrice != 120 {
		t.Errorf("peak = %v, want 120", pos.PeakPrice)
	}

	must(tr.Submit(Order{ID: "s1", Pair: "XBTUSD", Side: models.ActionSell, Volume: 2, Price: 118}))
	must(tr.UpdateStatus("s1", StatusFilled))
	if _, ok := tr.OpenPosition("XBTUSD"); ok {
		t.Error("position should be closed")
	}
}

func TestCancelledOrderIsFinal(t *testing.T) {
	tr := newTestTracker()
	if err := tr.Submit(buy("a", 1, 100)); err != nil {
		t.Fatal(err)
	}
	if err := tr.UpdateStatus("a", StatusCancelled); err != nil {
		t.Fatal(err)
	}
	if err := tr.UpdateStatus("a", StatusFilled); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
	if _, ok := tr.OpenPosition("XBTUSD"); ok {
		t.Error("cancelled order opened a position")
	}
}

func TestListOrdered(t *testing.T) {
	tr := newTestTracker()
	for _, id := range []string{"c", "a", "b"} {
		if err := tr.Submit(buy(id, 1, 100)); err != nil {
			t.Fatal(err)
		}
	}
	got := tr.List()
	if len(got) != 3 || got[0].ID != "c" || got[1].ID != "a" || got[2].ID != "b" {
		t.Errorf("List = %+v", got)
	}
}
