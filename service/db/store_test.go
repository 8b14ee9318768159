package db

import (
	"context"
	"testing"
	"time"

	"github.com/brojonat/nftmarket/service/pipeline"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSubmission(action string, state pipeline.State, created time.Time) pipeline.Submission {
	return pipeline.Submission{
		ID:        uuid.NewString(),
		Action:    action,
		IntentKey: action + ":" + uuid.NewString(),
		State:     state,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestRecordSubmission(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	t.Run("insert and get", func(t *testing.T) {
		sub := newSubmission(pipeline.ActionMint, pipeline.StateSucceeded, now)
		sub.Hash = "0xfeed"

		require.NoError(t, store.RecordSubmission(ctx, sub))

		got, err := store.GetSubmission(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, sub.ID, got.ID)
		assert.Equal(t, pipeline.ActionMint, got.Action)
		assert.Equal(t, sub.IntentKey, got.IntentKey)
		assert.Equal(t, pipeline.StateSucceeded, got.State)
		assert.Equal(t, pipeline.FailureNone, got.FailureKind)
		assert.Equal(t, "0xfeed", got.Hash)
		assert.Empty(t, got.Error)
		assert.WithinDuration(t, now, got.CreatedAt, time.Microsecond)
	})

	t.Run("upsert replaces state", func(t *testing.T) {
		sub := newSubmission(pipeline.ActionListForSale, pipeline.StateFailed, now)
		sub.FailureKind = pipeline.FailureTimeout
		sub.Error = "timed out"
		require.NoError(t, store.RecordSubmission(ctx, sub))

		sub.State = pipeline.StateSucceeded
		sub.FailureKind = pipeline.FailureNone
		sub.Error = ""
		sub.UpdatedAt = now.Add(time.Minute)
		require.NoError(t, store.RecordSubmission(ctx, sub))

		got, err := store.GetSubmission(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, pipeline.StateSucceeded, got.State)
		assert.Equal(t, pipeline.FailureNone, got.FailureKind)
		assert.Empty(t, got.Error)
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := store.GetSubmission(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrSubmissionNotFound)
	})
}

func TestListSubmissions(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	mint1 := newSubmission(pipeline.ActionMint, pipeline.StateSucceeded, base)
	mint2 := newSubmission(pipeline.ActionMint, pipeline.StateFailed, base.Add(time.Second))
	list1 := newSubmission(pipeline.ActionListForSale, pipeline.StateSucceeded, base.Add(2*time.Second))
	for _, sub := range []pipeline.Submission{mint1, mint2, list1} {
		require.NoError(t, store.RecordSubmission(ctx, sub))
	}

	all, err := store.ListSubmissions(ctx, ListSubmissionsParams{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, list1.ID, all[0].ID, "newest first")

	mints, err := store.ListSubmissions(ctx, ListSubmissionsParams{Action: pipeline.ActionMint})
	require.NoError(t, err)
	require.Len(t, mints, 2)
	assert.Equal(t, mint2.ID, mints[0].ID)

	succeeded, err := store.ListSubmissions(ctx, ListSubmissionsParams{State: string(pipeline.StateSucceeded)})
	require.NoError(t, err)
	assert.Len(t, succeeded, 2)

	paged, err := store.ListSubmissions(ctx, ListSubmissionsParams{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, mint2.ID, paged[0].ID)

	counts, err := store.CountSubmissionsByState(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[pipeline.StateSucceeded])
	assert.Equal(t, int64(1), counts[pipeline.StateFailed])
}

func TestUpdateSubmissionOutcome(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	sub := newSubmission(pipeline.ActionMint, pipeline.StateFailed, time.Now().UTC())
	sub.FailureKind = pipeline.FailureTimeout
	sub.Hash = "0xfeed"
	require.NoError(t, store.RecordSubmission(ctx, sub))

	updated, err := store.UpdateSubmissionOutcome(ctx, sub.ID, pipeline.StateSucceeded, pipeline.FailureNone, "")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateSucceeded, updated.State)
	assert.Equal(t, pipeline.FailureNone, updated.FailureKind)
	assert.Equal(t, "0xfeed", updated.Hash)
	assert.True(t, updated.UpdatedAt.After(sub.UpdatedAt) || updated.UpdatedAt.Equal(sub.UpdatedAt))

	_, err = store.UpdateSubmissionOutcome(ctx, uuid.NewString(), pipeline.StateSucceeded, pipeline.FailureNone, "")
	assert.ErrorIs(t, err, ErrSubmissionNotFound)
}

func TestPgtextFromString(t *testing.T) {
	assert.False(t, pgtextFromString("").Valid)
	v := pgtextFromString("x")
	assert.True(t, v.Valid)
	assert.Equal(t, "x", v.String)
}
