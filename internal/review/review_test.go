package review

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/trustroute/internal/document"
	"github.com/MeKo-Tech/trustroute/internal/store"
	"github.com/MeKo-Tech/trustroute/internal/testutil"
)

func strPtr(s string) *string { return &s }

func newWorkflow(t *testing.T, jobs ...*document.Result) *Workflow {
	t.Helper()
	s := store.NewMemory()
	for _, j := range jobs {
		require.NoError(t, s.SaveResult(context.Background(), j))
	}
	return New(s, DefaultConfig(), nil)
}

func TestQueue(t *testing.T) {
	ctx := context.Background()
	w := newWorkflow(t,
		testutil.NewResult("job-a", 0.55, 0.9, 0.2),
		testutil.NewResult("job-b", 0.4, 0.6),
	)

	items, err := w.Queue(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "job-a-r2", items[0].RegionID)
	assert.Equal(t, "job-b-r0", items[1].RegionID)
	assert.Equal(t, "job-a-r0", items[2].RegionID)
	assert.Equal(t, "job-b.png", items[1].Filename)

	page, err := w.Queue(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "job-b-r0", page[0].RegionID)

	empty, err := w.Queue(ctx, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = w.Queue(ctx, -1, 5)
	var vErr *ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestQueue_LimitCapped(t *testing.T) {
	trusts := make([]float64, 150)
	for i := range trusts {
		trusts[i] = 0.1
	}
	w := newWorkflow(t, testutil.NewResult("big", trusts...))

	items, err := w.Queue(context.Background(), 0, 500)
	require.NoError(t, err)
	assert.Len(t, items, 100)

	items, err = w.Queue(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Len(t, items, 20)
}

func TestReview_Actions(t *testing.T) {
	tests := []struct {
		name      string
		req       Request
		wantText  string
		wantTrust float64
		wantValue *string
	}{
		{
			name:      "correct",
			req:       Request{Action: document.ActionCorrect, VerifiedValue: strPtr("Paracetamol 500mg")},
			wantText:  "Paracetamol 500mg",
			wantTrust: 1.0,
			wantValue: strPtr("Paracetamol 500mg"),
		},
		{
			name:      "approve raises trust",
			req:       Request{Action: document.ActionApprove},
			wantText:  "value 0",
			wantTrust: 0.9,
		},
		{
			name:      "skip leaves values",
			req:       Request{Action: document.ActionSkip},
			wantText:  "value 0",
			wantTrust: 0.3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			w := newWorkflow(t, testutil.NewResult("job", 0.3))

			req := tt.req
			req.RegionID = "job-r0"
			req.UserID = "reviewer"
			entry, err := w.Review(ctx, req)
			require.NoError(t, err)

			assert.NotEmpty(t, entry.ID)
			assert.Equal(t, "job", entry.JobID)
			assert.Equal(t, "Region reviewed with action: "+string(tt.req.Action), entry.Note)
			assert.Equal(t, "value 0", entry.Before.NormalizedText)
			assert.InDelta(t, 0.3, entry.Before.TrustScore, 1e-9)
			assert.False(t, entry.Before.HumanVerified)
			assert.Nil(t, entry.Before.VerifiedValue)

			assert.Equal(t, tt.wantText, entry.After.NormalizedText)
			assert.InDelta(t, tt.wantTrust, entry.After.TrustScore, 1e-9)
			assert.True(t, entry.After.HumanVerified)
			assert.Equal(t, tt.wantValue, entry.After.VerifiedValue)

			res, err := w.store.GetResult(ctx, "job")
			require.NoError(t, err)
			assert.True(t, res.Fields[0].HumanVerified)
			assert.Equal(t, tt.wantText, res.Fields[0].NormalizedText)
		})
	}
}

func TestReview_ApproveKeepsHigherTrust(t *testing.T) {
	w := newWorkflow(t, testutil.NewResult("job", 0.95))
	entry, err := w.Review(context.Background(), Request{RegionID: "job-r0", UserID: "u", Action: document.ActionApprove, Note: "looks fine"})
	require.NoError(t, err)
	assert.InDelta(t, 0.95, entry.After.TrustScore, 1e-9)
	assert.Equal(t, "looks fine", entry.Note)
}

func TestReview_Validation(t *testing.T) {
	ctx := context.Background()
	w := newWorkflow(t, testutil.NewResult("job", 0.3))

	bad := []Request{
		{RegionID: "job-r0", UserID: "u", Action: "delete"},
		{RegionID: "job-r0", UserID: "u", Action: document.ActionCorrect},
		{RegionID: "job-r0", UserID: "u", Action: document.ActionCorrect, VerifiedValue: strPtr("")},
		{RegionID: "", UserID: "u", Action: document.ActionApprove},
		{RegionID: "job-r0", UserID: " ", Action: document.ActionApprove},
	}
	for i, req := range bad {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			_, err := w.Review(ctx, req)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
		})
	}

	// nothing changed
	res, err := w.store.GetResult(ctx, "job")
	require.NoError(t, err)
	assert.False(t, res.Fields[0].HumanVerified)
	log, err := w.AuditLog(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, log)
}

func TestReview_SecondReviewRejected(t *testing.T) {
	ctx := context.Background()
	w := newWorkflow(t, testutil.NewResult("job", 0.3))

	_, err := w.Review(ctx, Request{RegionID: "job-r0", UserID: "u", Action: document.ActionCorrect, VerifiedValue: strPtr("first")})
	require.NoError(t, err)

	_, err = w.Review(ctx, Request{RegionID: "job-r0", UserID: "u", Action: document.ActionCorrect, VerifiedValue: strPtr("second")})
	assert.ErrorIs(t, err, ErrNotFound)

	res, err := w.store.GetResult(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, "first", res.Fields[0].NormalizedText)

	log, err := w.AuditLog(ctx, "job")
	require.NoError(t, err)
	assert.Len(t, log, 1)

	_, err = w.Review(ctx, Request{RegionID: "missing", UserID: "u", Action: document.ActionApprove})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReview_ConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	w := newWorkflow(t, testutil.NewResult("job", 0.3))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := w.Review(ctx, Request{RegionID: "job-r0", UserID: fmt.Sprintf("u%d", i), Action: document.ActionApprove})
			if err == nil {
				wins.Add(1)
				return
			}
			assert.ErrorIs(t, err, ErrNotFound)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	log, err := w.AuditLog(ctx, "job")
	require.NoError(t, err)
	assert.Len(t, log, 1)
	assert.Zero(t, w.locks.size())
}

func TestStats(t *testing.T) {
	ctx := context.Background()

	empty := newWorkflow(t)
	s, err := empty.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, s.TotalRegions)
	assert.Zero(t, s.VerificationRate)
	assert.Empty(t, s.ActionBreakdown)

	w := newWorkflow(t, testutil.NewResult("job", 0.3, 0.4, 0.8, 0.5))
	_, err = w.Review(ctx, Request{RegionID: "job-r0", UserID: "u", Action: document.ActionApprove})
	require.NoError(t, err)
	_, err = w.Review(ctx, Request{RegionID: "job-r1", UserID: "u", Action: document.ActionSkip})
	require.NoError(t, err)

	s, err = w.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, s.TotalRegions)
	assert.Equal(t, 2, s.VerifiedRegions)
	assert.Equal(t, 1, s.PendingReview)
	assert.InDelta(t, 50.0, s.VerificationRate, 1e-9)
	assert.Equal(t, map[string]int{"approve": 1, "skip": 1}, s.ActionBreakdown)
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	assert.Equal(t, 2, k.size())

	done := make(chan struct{})
	go func() {
		unlock := k.Lock("a")
		unlock()
		close(done)
	}()
	unlockA()
	<-done
	unlockB()
	assert.Zero(t, k.size())
}
