package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestStrictStrategyFails(t *testing.T) {
	s := NewStrictStrategy()
	if got := s.OnError(context.Background(), errors.New("boom"), Location{}); got != ActionFail {
		t.Fatalf("expected fail, got %v", got)
	}
}

func TestLenientStrategyCollectsConcurrently(t *testing.T) {
	s := NewLenientStrategy()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if got := s.OnError(context.Background(), errors.New("bad"), Location{ByteOffset: int64(i), Component: "xref"}); got != ActionWarn {
				t.Errorf("expected warn, got %v", got)
			}
		}(i)
	}
	wg.Wait()
	if n := len(s.Errors()); n != 16 {
		t.Fatalf("expected 16 errors, got %d", n)
	}
}

func TestDecideNilStrategyIsLenient(t *testing.T) {
	if got := Decide(nil, context.Background(), errors.New("x"), Location{}); got != ActionWarn {
		t.Fatalf("expected warn, got %v", got)
	}
}

func TestTaxonomyUnwraps(t *testing.T) {
	err := error(&FilterError{Filter: "JBIG2Decode", Err: ErrUnsupportedFilter})
	if !errors.Is(err, ErrUnsupportedFilter) {
		t.Fatalf("FilterError should unwrap to ErrUnsupportedFilter")
	}
	var fe *FilterError
	if !errors.As(err, &fe) || fe.Filter != "JBIG2Decode" {
		t.Fatalf("errors.As failed: %v", err)
	}
	vm := error(&VMError{Op: "add", Err: ErrStackUnderflow})
	if !errors.Is(vm, ErrStackUnderflow) {
		t.Fatalf("VMError should unwrap")
	}
	if (&BrokenReference{Num: 3, Reason: "cycle"}).Error() != "broken reference 3 0 R: cycle" {
		t.Fatalf("unexpected BrokenReference message")
	}
}
