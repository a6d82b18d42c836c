package traverser

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"probmc/builder"
	"probmc/model"
	"probmc/scheduler"
	"probmc/state"
	"probmc/storage"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S0 moves to S1 with probability 0.4, S1 is absorbing
func twoState() model.Program {
	return model.Program{
		StateVectorSize: 1,
		Labels:          []model.Label{{Name: "s1", Holds: func(s []byte) bool { return s[0] == 1 }}},
		Initial:         func(c *model.Chooser, s []byte) error { return nil },
		Step: func(c *model.Chooser, s []byte) error {
			if s[0] == 0 && c.ChooseWithProbability(0.6, 0.4) == 1 {
				s[0] = 1
			}
			return nil
		},
	}
}

// A walk over n states mixing nondeterministic and probabilistic choices
func walk(n int, delay time.Duration, fail int) model.Program {
	return model.Program{
		StateVectorSize: 2,
		Labels: []model.Label{
			{Name: "zero", Holds: func(s []byte) bool { return binary.LittleEndian.Uint16(s) == 0 }},
			{Name: "even", Holds: func(s []byte) bool { return binary.LittleEndian.Uint16(s)%2 == 0 }},
		},
		Initial: func(c *model.Chooser, s []byte) error {
			binary.LittleEndian.PutUint16(s, uint16(c.Choose(2)))
			return nil
		},
		Step: func(c *model.Chooser, s []byte) error {
			if delay > 0 {
				time.Sleep(delay)
			}
			x := int(binary.LittleEndian.Uint16(s))
			if x == fail {
				panic(fmt.Sprintf("state %v is broken", x))
			}
			if c.Choose(2) == 0 {
				x = (x + 1) % n
			} else {
				x = (x*3 + c.ChooseWithProbability(0.5, 0.5)) % n
			}
			binary.LittleEndian.PutUint16(s, uint16(x))
			return nil
		},
	}
}

// Records the discovered graph by state vectors, independent of the assigned indices
type recorder struct {
	mu      sync.Mutex
	indices map[int]string
	edges   map[string][]string
}

func newRecorder() *recorder {
	return &recorder{indices: map[int]string{}, edges: map[string][]string{}}
}

func (r *recorder) ProcessState(index int, vector []byte, labels state.LabelSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indices[index] = hex.EncodeToString(vector)
	return nil
}

func (r *recorder) ProcessBatch(b *state.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	source := "init"
	if b.Source != state.InitialSource {
		source = hex.EncodeToString(b.SourceState)
	}
	edges := []string{}
	for _, tr := range b.Transitions {
		edges = append(edges, fmt.Sprintf("%v p=%v labels=%v path=%v", hex.EncodeToString(tr.State), tr.Probability, tr.Labels, tr.Path))
	}
	if b.Failed {
		edges = append(edges, "FAILED")
	}
	sort.Strings(edges)
	r.edges[source] = edges
	return nil
}

func traverse(t *testing.T, p model.Program, workers int, capacity int, actions ...any) (*Result, error) {
	t.Helper()
	a, err := builder.NewActions(actions...)
	require.NoError(t, err)
	tr, err := New(Config{
		Factory:     p.Factory(),
		Storage:     storage.NewExact(capacity, p.StateVectorSize),
		Actions:     a,
		WorkerCount: workers,
	})
	require.NoError(t, err)
	return tr.Traverse(context.Background())
}

func TestTraverseTwoState(t *testing.T) {
	mb := builder.NewMarkovChainBuilder([]string{"s1"}, 1e-9, nil)
	result, err := traverse(t, twoState(), 1, 16, mb)
	require.NoError(t, err)
	assert.Equal(t, 2, result.States)
	assert.Equal(t, 4, result.Transitions)
	assert.Equal(t, []int{0}, result.Initial)
	assert.Nil(t, result.FaultError())

	mc := mb.MarkovChain()
	require.NotNil(t, mc)
	assert.Equal(t, 2, mc.StateCount())
	assert.Equal(t, []state.Entry{{Target: 0, Probability: 0.6}, {Target: 1, Probability: 0.4}}, mc.SuccessorsOf(0))
	assert.True(t, mc.LabelsOf(1).Has(0))
}

func TestTraversalIsIndependentOfWorkerCount(t *testing.T) {
	expected := newRecorder()
	_, err := traverse(t, walk(300, 0, -1), 1, 1024, expected)
	require.NoError(t, err)
	require.Len(t, expected.indices, 300)

	for _, workers := range []int{2, 4, 8} {
		for _, order := range []scheduler.Order{scheduler.DepthFirst, scheduler.BreadthFirst} {
			r := newRecorder()
			a, err := builder.NewActions(r)
			require.NoError(t, err)
			tr, err := New(Config{
				Factory:     walk(300, 0, -1).Factory(),
				Storage:     storage.NewExact(1024, 2),
				Actions:     a,
				WorkerCount: workers,
				Order:       order,
			})
			require.NoError(t, err)
			result, err := tr.Traverse(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 300, result.States)
			assert.Equal(t, Done, tr.Phase())

			if diff := cmp.Diff(expected.edges, r.edges); diff != "" {
				t.Errorf("Discovered graph differs with %v workers (%v) (-want +got):\n%s", workers, order, diff)
			}
			// The indices are dense
			for i := 0; i < 300; i++ {
				if _, ok := r.indices[i]; !ok {
					t.Errorf("Index %v was not assigned with %v workers", i, workers)
				}
			}
		}
	}
}

func TestTraverseRecordsFaults(t *testing.T) {
	for _, workers := range []int{1, 4} {
		mb := builder.NewMDPBuilder(nil, 1e-9, nil)
		r := newRecorder()
		result, err := traverse(t, walk(50, 0, 5), workers, 64, mb, r)
		require.NoError(t, err)

		require.Len(t, result.Faults, 1)
		fault := result.Faults[0]
		assert.Equal(t, uint16(5), binary.LittleEndian.Uint16(fault.State))
		assert.NotNil(t, fault.Stack)
		assert.Equal(t, "0500", r.indices[fault.Index])

		var faults FaultsError
		require.ErrorAs(t, result.FaultError(), &faults)
		var ef *model.ExecutionFault
		assert.ErrorAs(t, result.FaultError(), &ef)

		mdp := mb.MDP()
		require.NotNil(t, mdp)
		assert.True(t, mdp.Failed(fault.Index))
		assert.Empty(t, mdp.ChoicesOf(fault.Index))
		assert.Equal(t, []string{"FAILED"}, r.edges["0500"])
	}
}

func TestSeedingFaultIsFatal(t *testing.T) {
	boom := errors.New("boom")
	p := twoState()
	p.Initial = func(c *model.Chooser, s []byte) error { return boom }
	_, err := traverse(t, p, 2, 16)

	var fe *FatalError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, state.InitialSource, fe.Index)
	assert.ErrorIs(t, err, boom)
}

func TestCapacityExhaustionIsFatal(t *testing.T) {
	for _, workers := range []int{1, 4} {
		_, err := traverse(t, walk(300, 0, -1), workers, 20, builder.NewMDPBuilder(nil, 1e-9, nil))
		require.Error(t, err)
		assert.ErrorIs(t, err, storage.ErrCapacityExhausted)
		var fe *FatalError
		require.ErrorAs(t, err, &fe)
		var ce *storage.CapacityExhaustedError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, 20, ce.States)
		assert.Equal(t, 20, fe.States)
		assert.Greater(t, fe.Transitions, 0)
		assert.Contains(t, err.Error(), fmt.Sprintf("(20 states, %v transitions)", fe.Transitions))
	}
}

func TestConsistencyViolationIsFatal(t *testing.T) {
	// A Markov chain builder can not represent the nondeterministic choices of the walk
	_, err := traverse(t, walk(10, 0, -1), 2, 64, builder.NewMarkovChainBuilder(nil, 1e-9, nil))
	assert.ErrorIs(t, err, builder.ErrConsistency)
	var fe *FatalError
	require.ErrorAs(t, err, &fe)
	assert.NotEqual(t, state.InitialSource, fe.Index)
}

func TestTraverseCancellation(t *testing.T) {
	tr, err := New(Config{
		Factory:     walk(60000, time.Millisecond, -1).Factory(),
		Storage:     storage.NewExact(1<<16, 2),
		WorkerCount: 4,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	result, err := tr.Traverse(ctx)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTraverseCancelledBeforeStart(t *testing.T) {
	tr, err := New(Config{
		Factory:     twoState().Factory(),
		Storage:     storage.NewExact(16, 1),
		WorkerCount: 1,
	})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tr.Traverse(ctx)
	assert.ErrorIs(t, err, ErrCancelled)

	_, err = tr.Traverse(context.Background())
	assert.Error(t, err, "a traverser can only be used once")
}

func TestTraverseTerminatesForEveryWorkerCount(t *testing.T) {
	for workers := 1; workers <= 16; workers *= 2 {
		done := make(chan error)
		go func() {
			_, err := traverse(t, walk(1000, 0, -1), workers, 2048)
			done <- err
		}()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(30 * time.Second):
			t.Fatalf("Traversal with %v workers did not terminate", workers)
		}
	}
}

func TestNewValidatesConfig(t *testing.T) {
	valid := Config{Factory: twoState().Factory(), Storage: storage.NewExact(4, 1), WorkerCount: 1}
	tests := []func(c *Config){
		func(c *Config) { c.Factory = nil },
		func(c *Config) { c.Storage = nil },
		func(c *Config) { c.WorkerCount = 0 },
		func(c *Config) { c.ProgressInterval = -time.Second },
		func(c *Config) {
			p := twoState()
			p.Labels = append(p.Labels, p.Labels[0])
			c.Factory = p.Factory()
		},
	}
	for i, modify := range tests {
		cfg := valid
		modify(&cfg)
		if _, err := New(cfg); err == nil {
			t.Errorf("Expected an error for config %v", i)
		}
	}
	_, err := New(valid)
	assert.NoError(t, err)
}

func TestTraverseMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	tr, err := New(Config{
		Factory:          twoState().Factory(),
		Storage:          storage.NewExact(16, 1),
		WorkerCount:      2,
		Registerer:       reg,
		ProgressInterval: time.Millisecond,
	})
	require.NoError(t, err)
	_, err = tr.Traverse(context.Background())
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, f := range families {
		m := f.GetMetric()[0]
		switch {
		case m.GetGauge() != nil:
			values[f.GetName()] = m.GetGauge().GetValue()
		case m.GetCounter() != nil:
			values[f.GetName()] = m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, 2.0, values["probmc_traversal_states"])
	assert.Equal(t, 4.0, values["probmc_traversal_transitions_total"])
}
