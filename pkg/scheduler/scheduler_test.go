package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/openfroyo/garden/pkg/gardenerr"
)

func key(t NodeType, name string) MemoKey {
	return MemoKey{Type: t, Name: name, Version: "v1"}
}

func TestRunExecutesInDependencyOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(name string) func(ctx context.Context) (map[string]interface{}, error) {
		return func(ctx context.Context) (map[string]interface{}, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return map[string]interface{}{}, nil
		}
	}

	a := &Node{Key: key(Build, "a"), Run: record("a")}
	b := &Node{Key: key(Deploy, "b"), Dependencies: []MemoKey{a.Key}, Run: record("b")}
	c := &Node{Key: key(Test, "c"), Dependencies: []MemoKey{b.Key}, Run: record("c")}

	s := New(2)
	results, err := s.Run(context.Background(), []*Node{c, a, b})
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range []*Node{a, b, c} {
		if results[n.Key].Status != Complete {
			t.Fatalf("expected %s complete, got %s", n.Key.Name, results[n.Key].Status)
		}
	}
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("expected a,b,c order, got %v", order)
	}
}

func TestRunPropagatesFailureAsSkipped(t *testing.T) {
	a := &Node{Key: key(Build, "a"), Run: func(ctx context.Context) (map[string]interface{}, error) {
		return nil, gardenerr.New(gardenerr.KindRuntime, "boom")
	}}
	b := &Node{Key: key(Deploy, "b"), Dependencies: []MemoKey{a.Key}, Run: func(ctx context.Context) (map[string]interface{}, error) {
		return map[string]interface{}{}, nil
	}}
	c := &Node{Key: key(Test, "c"), Dependencies: []MemoKey{b.Key}, Run: func(ctx context.Context) (map[string]interface{}, error) {
		return map[string]interface{}{}, nil
	}}

	s := New(2)
	results, err := s.Run(context.Background(), []*Node{a, b, c})
	if err != nil {
		t.Fatal(err)
	}
	if results[a.Key].Status != Failed {
		t.Fatalf("expected a failed, got %s", results[a.Key].Status)
	}
	if results[b.Key].Status != Skipped || results[c.Key].Status != Skipped {
		t.Fatalf("expected b,c skipped, got %s %s", results[b.Key].Status, results[c.Key].Status)
	}
}

func TestRunMemoizesUnlessForced(t *testing.T) {
	calls := 0
	k := key(Build, "a")
	node := &Node{Key: k, Run: func(ctx context.Context) (map[string]interface{}, error) {
		calls++
		return map[string]interface{}{"n": calls}, nil
	}}

	seed := map[MemoKey]*Result{k: {Key: k, Status: Complete, Outputs: map[string]interface{}{"n": 0}}}
	s := New(1, WithMemo(seed))
	results, err := s.Run(context.Background(), []*Node{node})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 0 {
		t.Fatalf("expected memoized result to skip Run, calls=%d", calls)
	}
	if !results[k].Memoized {
		t.Fatal("expected result to be flagged memoized")
	}

	node.Force = true
	s2 := New(1, WithMemo(seed))
	results2, err := s2.Run(context.Background(), []*Node{node})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("expected forced run to invoke Run once, calls=%d", calls)
	}
	if results2[k].Memoized {
		t.Fatal("expected forced result not to be flagged memoized")
	}
}

func TestRunDetectsCycle(t *testing.T) {
	a := &Node{Key: key(Build, "a"), Dependencies: []MemoKey{key(Build, "b")}, Run: func(ctx context.Context) (map[string]interface{}, error) { return nil, nil }}
	b := &Node{Key: key(Build, "b"), Dependencies: []MemoKey{key(Build, "a")}, Run: func(ctx context.Context) (map[string]interface{}, error) { return nil, nil }}

	s := New(2)
	_, err := s.Run(context.Background(), []*Node{a, b})
	if err == nil {
		t.Fatal("expected a circular dependency error")
	}
	if !gardenerr.Is(err, gardenerr.KindDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

func TestRunHonorsNodeTimeout(t *testing.T) {
	a := &Node{
		Key:     key(Build, "a"),
		Timeout: 10 * time.Millisecond,
		Run: func(ctx context.Context) (map[string]interface{}, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	s := New(1)
	results, err := s.Run(context.Background(), []*Node{a})
	if err != nil {
		t.Fatal(err)
	}
	if results[a.Key].Status != Failed {
		t.Fatalf("expected timed-out node to fail, got %s", results[a.Key].Status)
	}
	if !gardenerr.Is(results[a.Key].Err, gardenerr.KindRuntime) {
		t.Fatalf("expected a runtime/timeout error, got %v", results[a.Key].Err)
	}
}
