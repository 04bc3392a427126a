package progressdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/PandiO/knk-form-engine/pkg/session"
	"github.com/PandiO/knk-form-engine/pkg/stepdata"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	store, err := New(db)
	require.NoError(t, err)
	return store
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	progress := &session.Progress{
		FormConfigurationID: "cfg-town",
		EntityTypeName:      "Town",
		CurrentStepIndex:    1,
		CurrentStepData:     stepdata.StepData{"Name": "Riverfall"},
		AllStepsData: stepdata.AllStepsData{
			0: {"Region": "North"},
			1: {"Name": "Riverfall"},
		},
		Status: session.StatusInProgress,
	}
	require.NoError(t, store.Create(ctx, progress))
	require.NotEmpty(t, progress.ID, "create should assign an id")

	loaded, err := store.GetByID(ctx, progress.ID)
	require.NoError(t, err)
	require.Equal(t, progress.FormConfigurationID, loaded.FormConfigurationID)
	require.Equal(t, 1, loaded.CurrentStepIndex)
	require.Equal(t, session.StatusInProgress, loaded.Status)
	require.Equal(t, "Riverfall", loaded.AllStepsData[1]["Name"])
	require.Equal(t, "North", loaded.AllStepsData[0]["Region"])
}

func TestStoreUpdate(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	progress := &session.Progress{
		FormConfigurationID: "cfg-town",
		EntityTypeName:      "Town",
		Status:              session.StatusInProgress,
		AllStepsData:        stepdata.AllStepsData{0: {"Name": "Riverfall"}},
	}
	require.NoError(t, store.Create(ctx, progress))

	progress.CurrentStepIndex = 2
	progress.Status = session.StatusPaused
	progress.AllStepsData[0]["Name"] = "Riverfall II"
	require.NoError(t, store.Update(ctx, progress))

	loaded, err := store.GetByID(ctx, progress.ID)
	require.NoError(t, err)
	require.Equal(t, session.StatusPaused, loaded.Status)
	require.Equal(t, 2, loaded.CurrentStepIndex)
	require.Equal(t, "Riverfall II", loaded.AllStepsData[0]["Name"])
}

func TestStoreUpdateUnknownID(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	err := store.Update(ctx, &session.Progress{ID: "missing"})
	require.ErrorIs(t, err, session.ErrProgressNotFound)
}

func TestStoreGetUnknownID(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	_, err := store.GetByID(ctx, "missing")
	require.ErrorIs(t, err, session.ErrProgressNotFound)
}

func TestStoreLoadsChildren(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	parent := &session.Progress{
		FormConfigurationID: "cfg-blueprint",
		EntityTypeName:      "ItemBlueprint",
		Status:              session.StatusPaused,
	}
	require.NoError(t, store.Create(ctx, parent))

	child := &session.Progress{
		FormConfigurationID: "cfg-join",
		EntityTypeName:      "ItemBlueprintEnchantment",
		ParentProgressID:    parent.ID,
		Status:              session.StatusCompleted,
		AllStepsData:        stepdata.AllStepsData{0: {"level": 3, "relatedEntityId": 7}},
	}
	require.NoError(t, store.Create(ctx, child))

	loaded, err := store.GetByID(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Children, 1)
	require.Equal(t, child.ID, loaded.Children[0].ID)
	require.Equal(t, "ItemBlueprintEnchantment", loaded.Children[0].EntityTypeName)
	require.EqualValues(t, 3, loaded.Children[0].AllStepsData[0]["level"])
}

func TestStoreEntityIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	progress := &session.Progress{
		FormConfigurationID: "cfg-town",
		EntityTypeName:      "Town",
		EntityID:            44,
		Status:              session.StatusInProgress,
	}
	require.NoError(t, store.Create(ctx, progress))

	loaded, err := store.GetByID(ctx, progress.ID)
	require.NoError(t, err)
	// JSON round trip turns numeric ids into float64; downstream id
	// comparison is tolerant of that.
	require.EqualValues(t, 44, loaded.EntityID)

	progress.EntityID = "town-44"
	require.NoError(t, store.Update(ctx, progress))
	loaded, err = store.GetByID(ctx, progress.ID)
	require.NoError(t, err)
	require.Equal(t, "town-44", loaded.EntityID)
}
