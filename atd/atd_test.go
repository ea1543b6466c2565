package atd_test

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"choiros.io/kernel/atd"
	"choiros.io/kernel/elog"
	"choiros.io/kernel/elog/inmem"
	revinmem "choiros.io/kernel/rev/inmem"
	schedinmem "choiros.io/kernel/sched/inmem"
)

type fixedAgent struct {
	calls  int32
	result []atd.Action
}

func (f *fixedAgent) Turn(ctx context.Context, input atd.AppTurnInput) ([]atd.Action, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.result, nil
}

func TestTrigger_AppliesRequestWorkAndRecordsEvents(t *testing.T) {
	t.Parallel()

	events := inmem.New()
	schedStore := schedinmem.New()
	revStore := revinmem.New()
	agent := &fixedAgent{result: []atd.Action{
		{Kind: atd.ActionRequestWork, Capability: "researcher", RequestObjective: "find pump spec", IdempotencyKey: "req-1"},
	}}
	d := atd.New(map[string]atd.AppAgent{"app-1": agent}, revStore, schedStore, events)

	err := d.Trigger(context.Background(), "app-1", atd.AppTurnInput{RunID: "run-1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		items, _ := schedStore.ListByRun(context.Background(), "run-1")
		return len(items) == 1
	}, time.Second, time.Millisecond)

	items, err := schedStore.ListByRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, "req-1", items[0].WorkID)
}

func TestTrigger_CoalescesTriggersDuringInFlightTurn(t *testing.T) {
	t.Parallel()

	events := inmem.New()
	schedStore := schedinmem.New()
	revStore := revinmem.New()
	agent := &fixedAgent{}
	d := atd.New(map[string]atd.AppAgent{"app-1": agent}, revStore, schedStore, events)

	for i := 0; i < 5; i++ {
		require.NoError(t, d.Trigger(context.Background(), "app-1", atd.AppTurnInput{RunID: "run-1"}))
	}

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&agent.calls) >= 1
	}, time.Second, time.Millisecond)
	// All 5 rapid triggers should coalesce into at most 2 turns (the one in
	// flight plus one more for everything that arrived while it ran).
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&agent.calls) <= 2
	}, 200*time.Millisecond, time.Millisecond)
}

func TestTrigger_RejectsReusedIdempotencyKeyForDifferentWork(t *testing.T) {
	t.Parallel()

	events := inmem.New()
	schedStore := schedinmem.New()
	revStore := revinmem.New()
	agent1 := &fixedAgent{result: []atd.Action{
		{Kind: atd.ActionRequestWork, Capability: "researcher", RequestObjective: "find pump spec", IdempotencyKey: "dup-key"},
	}}
	agent2 := &fixedAgent{result: []atd.Action{
		{Kind: atd.ActionRequestWork, Capability: "writer", RequestObjective: "draft doc", IdempotencyKey: "dup-key"},
	}}
	d := atd.New(map[string]atd.AppAgent{"app-1": agent1, "app-2": agent2}, revStore, schedStore, events)

	require.NoError(t, d.Trigger(context.Background(), "app-1", atd.AppTurnInput{RunID: "run-1"}))
	require.Eventually(t, func() bool {
		items, _ := schedStore.ListByRun(context.Background(), "run-1")
		return len(items) == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, d.Trigger(context.Background(), "app-2", atd.AppTurnInput{RunID: "run-2"}))

	require.Eventually(t, func() bool {
		records, _ := events.List(context.Background(), 0, 0)
		for _, e := range records {
			if e.RunID != "run-2" || e.Type != elog.Type("app.turn.failed") {
				continue
			}
			var payload map[string]any
			if err := json.Unmarshal(e.Payload, &payload); err != nil {
				continue
			}
			if payload["error"] == atd.ErrIdempotencyKeyUsed.Error() {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
}

func TestTrigger_CloseRunRejectsFurtherTriggers(t *testing.T) {
	t.Parallel()

	events := inmem.New()
	schedStore := schedinmem.New()
	revStore := revinmem.New()
	agent := &fixedAgent{result: []atd.Action{{Kind: atd.ActionCloseRun, Reason: "objective met"}}}
	d := atd.New(map[string]atd.AppAgent{"app-1": agent}, revStore, schedStore, events)

	require.NoError(t, d.Trigger(context.Background(), "app-1", atd.AppTurnInput{RunID: "run-1"}))
	require.Eventually(t, func() bool {
		return d.Trigger(context.Background(), "app-1", atd.AppTurnInput{RunID: "run-1"}) == atd.ErrRunClosed
	}, time.Second, time.Millisecond)
}
