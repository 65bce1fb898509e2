package version

import (
	"fmt"
	"sync"
	"testing"
)

func TestBumpAndCurrent(t *testing.T) {
	p := New()

	if got := p.Current("tf_sales"); got != 0 {
		t.Fatalf("Current before any bump = %d, want 0", got)
	}
	if got := p.Bump("tf_sales"); got != 1 {
		t.Fatalf("first Bump = %d, want 1", got)
	}
	p.Bump("tf_sales")
	if got := p.Current("tf_sales"); got != 2 {
		t.Fatalf("Current = %d, want 2", got)
	}
	if got := p.Current("tf_orders"); got != 0 {
		t.Fatalf("unrelated table Current = %d, want 0", got)
	}
}

func TestComponent(t *testing.T) {
	p := New()
	p.Bump("tf_sales")
	p.Bump("tf_sales")
	p.Bump("tf_orders")

	if got := p.Component(nil); got != "" {
		t.Errorf("Component(nil) = %q, want empty", got)
	}
	want := "tf_orders@1;tf_sales@2"
	if got := p.Component([]string{"tf_sales", "tf_orders"}); got != want {
		t.Errorf("Component = %q, want %q", got, want)
	}
	// Table order must not matter.
	if got := p.Component([]string{"tf_orders", "tf_sales"}); got != want {
		t.Errorf("Component (reordered) = %q, want %q", got, want)
	}
}

func TestComponentChangesOnBump(t *testing.T) {
	p := New()
	tables := []string{"tf_sales"}

	before := p.Component(tables)
	p.Bump("tf_sales")
	after := p.Component(tables)
	if before == after {
		t.Fatalf("Component unchanged across bump: %q", before)
	}
}

func TestConcurrentBumps(t *testing.T) {
	p := New()
	const workers, bumps = 8, 250

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			table := fmt.Sprintf("tf_%d", n%2)
			for j := 0; j < bumps; j++ {
				p.Bump(table)
			}
		}(i)
	}
	wg.Wait()

	total := p.Current("tf_0") + p.Current("tf_1")
	if total != workers*bumps {
		t.Fatalf("total bumps = %d, want %d", total, workers*bumps)
	}
}
