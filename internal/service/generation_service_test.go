package service

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/SoraVideoBot/internal/correlation"
	"github.com/digkill/SoraVideoBot/internal/kie"
	"github.com/digkill/SoraVideoBot/internal/models"
	"github.com/digkill/SoraVideoBot/internal/pending"
)

func TestBegin_RequiresCredits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.generation.Begin(ctx, 404)
	assert.ErrorIs(t, err, ErrCreditsRequired, "unknown user behaves like an empty balance")

	_, _, err = h.ledger.GetOrCreate(ctx, profile(1))
	require.NoError(t, err)
	balance, err := h.generation.Begin(ctx, 1)
	assert.ErrorIs(t, err, ErrCreditsRequired)
	assert.Equal(t, models.PlanNone, balance.Plan)

	task, err := h.store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestChooseOrientation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, 1, 1)

	assert.ErrorIs(t, h.generation.ChooseOrientation(ctx, 1, models.OrientationVertical), ErrNoPendingTask)

	_, err := h.generation.Begin(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, h.generation.ChooseOrientation(ctx, 1, models.OrientationVertical))
	require.NoError(t, h.generation.ChooseOrientation(ctx, 1, models.OrientationHorizontal), "may change its mind")
	assert.Error(t, h.generation.ChooseOrientation(ctx, 1, "diagonal"))

	task, err := h.generation.Pending(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, pending.StageAwaitingDescription, task.Stage)
	assert.Equal(t, models.OrientationHorizontal, task.Orientation)
}

func TestSubmit_DebitsAndTracksTask(t *testing.T) {
	h := newHarness(t)
	h.fund(t, 7, 3)

	out := h.submitted(t, 7, 55)

	assert.Equal(t, kie.StatusSuccess, out.Status)
	assert.Equal(t, "task-1", out.TaskID)
	assert.Equal(t, 2, out.CreditsLeft)
	assert.Equal(t, 2, h.credits(t, 7))

	require.Len(t, h.provider.submits, 1)
	sent := h.provider.submits[0]
	assert.Equal(t, "a fox in the snow", sent.Prompt)
	assert.Equal(t, models.OrientationVertical, sent.Orientation)
	userID, ok := correlation.Decode([]byte(`{"param":` + strconv.Quote(sent.Param) + `}`))
	require.True(t, ok)
	assert.Equal(t, int64(7), userID)

	task, err := h.store.Get(context.Background(), 7)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, pending.StageProcessing, task.Stage)
	assert.Equal(t, "task-1", task.TaskID)
	assert.Equal(t, 55, task.MessageID)

	logs, err := h.gens.ListByTask(context.Background(), "task-1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "submitted", logs[0].Status)
}

func TestSubmit_FailureRefundsBeforeReturning(t *testing.T) {
	for _, status := range []kie.Status{kie.StatusNetworkError, kie.StatusProviderRejected, kie.StatusMisconfigured} {
		t.Run(string(status), func(t *testing.T) {
			h := newHarness(t)
			h.provider.status = status
			h.fund(t, 9, 1)

			out := h.submitted(t, 9, 1)

			assert.Equal(t, status, out.Status)
			assert.Empty(t, out.TaskID)
			assert.Equal(t, 1, out.CreditsLeft)
			assert.Equal(t, 1, h.credits(t, 9))

			task, err := h.store.Get(context.Background(), 9)
			require.NoError(t, err)
			assert.Nil(t, task)
			assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Refunds.WithLabelValues(string(status))))
		})
	}
}

func TestSubmit_Rejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.generation.Submit(ctx, SubmitInput{UserID: 1, Description: "   "})
	assert.ErrorIs(t, err, ErrEmptyDescription)

	_, err = h.generation.Submit(ctx, SubmitInput{UserID: 1, Description: "cat"})
	assert.ErrorIs(t, err, ErrNoPendingTask)

	// Balance drained between the menu and the description.
	h.fund(t, 2, 1)
	_, err = h.generation.Begin(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, h.generation.ChooseOrientation(ctx, 2, models.OrientationVertical))
	ok, err := h.ledger.Debit(ctx, 2, 1)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = h.generation.Submit(ctx, SubmitInput{UserID: 2, Description: "cat"})
	assert.ErrorIs(t, err, ErrCreditsRequired)
	assert.Empty(t, h.provider.submits)
	task, err := h.store.Get(ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestSubmit_DuplicateDescriptionsChargeOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, 3, 3)
	_, err := h.generation.Begin(ctx, 3)
	require.NoError(t, err)
	require.NoError(t, h.generation.ChooseOrientation(ctx, 3, models.OrientationVertical))

	var wg sync.WaitGroup
	results := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.generation.Submit(ctx, SubmitInput{UserID: 3, Description: "cat"})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, rejected int
	for err := range results {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, ErrNoPendingTask)
			rejected++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 4, rejected)
	assert.Equal(t, 2, h.credits(t, 3))
	assert.Len(t, h.provider.submits, 1)
}

func TestCancel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, 4, 2)

	_, err := h.generation.Begin(ctx, 4)
	require.NoError(t, err)
	require.NoError(t, h.generation.Cancel(ctx, 4))
	task, err := h.store.Get(ctx, 4)
	require.NoError(t, err)
	assert.Nil(t, task)

	h.submitted(t, 4, 1)
	require.NoError(t, h.generation.Cancel(ctx, 4))
	task, err = h.store.Get(ctx, 4)
	require.NoError(t, err)
	require.NotNil(t, task, "a running task survives cancel")
	assert.Equal(t, pending.StageProcessing, task.Stage)
}
