package predictions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/palette-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/palette-backend/pkg/errors"
	"github.com/angelmondragon/palette-backend/pkg/replicate"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func providerReturns(pred *replicate.Prediction, err error) func(context.Context, string) (*replicate.Prediction, error) {
	return func(context.Context, string) (*replicate.Prediction, error) {
		return pred, err
	}
}

func TestPollRejectsForeignPrediction(t *testing.T) {
	f := newFixture(t, Options{})
	f.seed(t, uuid.New(), "pred-a", nil)
	f.provider.getFn = providerReturns(&replicate.Prediction{ID: "pred-a", Status: "succeeded"}, nil)

	_, err := f.rec.Poll(context.Background(), uuid.New(), "pred-a")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	assert.Zero(t, f.reloc.count())
}

func TestPollPersistsOwnedPrediction(t *testing.T) {
	f := newFixture(t, Options{})
	user := uuid.New()
	f.seed(t, user, "pred-b", nil)
	created := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	f.provider.getFn = providerReturns(&replicate.Prediction{
		ID:        "pred-b",
		Status:    "succeeded",
		Output:    replicate.Output{"https://replicate.delivery/pred-b.png"},
		CreatedAt: &created,
	}, nil)

	res, err := f.rec.Poll(context.Background(), user, "pred-b")
	require.NoError(t, err)
	assert.Equal(t, "succeeded", res.Status)
	assert.Equal(t, []string{"https://cdn.test/generations/" + user.String() + "/pred-b.png"}, res.Output)
	assert.Equal(t, &created, res.CreatedAt)
	assert.Nil(t, res.Error)
	assert.Empty(t, res.Warning)
	assert.Equal(t, enums.GalleryStatusCompleted, f.entry(t, "pred-b").Status)

	again, err := f.rec.Poll(context.Background(), user, "pred-b")
	require.NoError(t, err)
	assert.Equal(t, res.Output, again.Output)
	assert.Equal(t, 1, f.reloc.count())
}

func TestPollWithoutEntryCachesPerUser(t *testing.T) {
	f := newFixture(t, Options{})
	user := uuid.New()
	f.provider.getFn = providerReturns(&replicate.Prediction{
		ID:     "pred-c",
		Status: "succeeded",
		Output: replicate.Output{"https://replicate.delivery/pred-c.png"},
	}, nil)

	first, err := f.rec.Poll(context.Background(), user, "pred-c")
	require.NoError(t, err)
	second, err := f.rec.Poll(context.Background(), user, "pred-c")
	require.NoError(t, err)
	assert.Equal(t, first.Output, second.Output)
	assert.Equal(t, 1, f.reloc.count())

	other := uuid.New()
	_, err = f.rec.Poll(context.Background(), other, "pred-c")
	require.NoError(t, err)
	assert.Equal(t, 2, f.reloc.count())
	assert.Equal(t, user.String(), f.reloc.owners[0])
	assert.Equal(t, other.String(), f.reloc.owners[1])
}

func TestPollFallsBackToProviderURL(t *testing.T) {
	f := newFixture(t, Options{})
	user := uuid.New()
	f.seed(t, user, "pred-d", nil)
	f.reloc.err = errors.New("bucket unavailable")
	f.provider.getFn = providerReturns(&replicate.Prediction{
		ID:     "pred-d",
		Status: "succeeded",
		Output: replicate.Output{"https://replicate.delivery/pred-d.png"},
	}, nil)

	res, err := f.rec.Poll(context.Background(), user, "pred-d")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://replicate.delivery/pred-d.png"}, res.Output)
	assert.Equal(t, fallbackWarning, res.Warning)
	assert.Equal(t, enums.GalleryStatusPending, f.entry(t, "pred-d").Status)
}

func TestPollRecordsProviderFailure(t *testing.T) {
	f := newFixture(t, Options{})
	user := uuid.New()
	f.seed(t, user, "pred-e", nil)
	f.provider.getFn = providerReturns(&replicate.Prediction{ID: "pred-e", Status: "failed", Error: replicate.ErrorText("CUDA out of memory")}, nil)

	res, err := f.rec.Poll(context.Background(), user, "pred-e")
	require.NoError(t, err)
	assert.Equal(t, "failed", res.Status)
	require.NotNil(t, res.Error)
	assert.Equal(t, "CUDA out of memory", *res.Error)
	assert.Empty(t, res.Output)
	assert.Equal(t, enums.GalleryStatusFailed, f.entry(t, "pred-e").Status)
}

func TestPollMapsProviderErrors(t *testing.T) {
	f := newFixture(t, Options{})
	user := uuid.New()

	f.provider.getFn = providerReturns(nil, pkgerrors.New(pkgerrors.CodeNotFound, "missing"))
	_, err := f.rec.Poll(context.Background(), user, "pred-f")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	f.provider.getFn = providerReturns(nil, errors.New("dial tcp: timeout"))
	_, err = f.rec.Poll(context.Background(), user, "pred-f")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	_, err = f.rec.Poll(context.Background(), user, " ")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
