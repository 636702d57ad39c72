package artifact_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/arbor/app/artifact"
	"github.com/umputun/arbor/app/artifact/mocks"
	"github.com/umputun/arbor/app/errs"
	"github.com/umputun/arbor/app/store"
)

func TestEngine_RootConfigDecoration(t *testing.T) {
	eng := prepSQLiteEngine(t)
	ctx := context.Background()

	root := saveNode(t, eng, "")
	child := saveNode(t, eng, root.ID)
	other := saveNode(t, eng, "")

	rc := &mocks.RootConfigsMock{ConfigForRootFunc: func(_ context.Context, id string) (*artifact.ConfigSummary, error) {
		switch id {
		case root.ID:
			return &artifact.ConfigSummary{ID: "c1", Name: "cfg", Data: map[string]any{"k": "v"}}, nil
		case other.ID:
			return nil, errors.New("db is down")
		}
		return nil, nil
	}}
	eng.SetConfigs(rc)

	tree, err := eng.BuildTree(ctx, root.ID)
	require.NoError(t, err)
	require.NotNil(t, tree.Config)
	assert.Equal(t, "cfg", tree.Config.Name)
	require.Len(t, tree.Children, 1)
	assert.Nil(t, tree.Children[0].Config, "only roots decorated")
	require.Len(t, rc.ConfigForRootCalls(), 1, "not asked for child")
	assert.Equal(t, root.ID, rc.ConfigForRootCalls()[0].ArtifactID)

	node, err := eng.Expand(ctx, child.ID)
	require.NoError(t, err)
	assert.Nil(t, node.Config)

	node, err = eng.Expand(ctx, other.ID)
	require.NoError(t, err, "lookup error doesn't break reads")
	assert.Nil(t, node.Config)
}

func TestEngine_LinkedRootMove(t *testing.T) {
	eng := prepSQLiteEngine(t)
	ctx := context.Background()

	linked := saveNode(t, eng, "")
	holder := saveNode(t, eng, "")
	broken := saveNode(t, eng, "")
	free := saveNode(t, eng, "")

	rc := &mocks.RootConfigsMock{ConfigForRootFunc: func(_ context.Context, id string) (*artifact.ConfigSummary, error) {
		switch id {
		case linked.ID:
			return &artifact.ConfigSummary{ID: "c1", Name: "cfg"}, nil
		case broken.ID:
			return nil, errors.New("db is down")
		}
		return nil, nil
	}}
	eng.SetConfigs(rc)

	_, err := eng.Save(ctx, artifact.Artifact{ID: linked.ID, ParentID: holder.ID, Payload: artifact.Structured("x")})
	require.ErrorIs(t, err, errs.ErrValidation)
	assert.Contains(t, err.Error(), `linked to config "cfg"`)

	_, err = eng.SaveAll(ctx, []artifact.Artifact{
		{ID: free.ID, ParentID: holder.ID, Payload: artifact.Structured("x")},
		{ID: linked.ID, ParentID: holder.ID, Payload: artifact.Structured("x")},
	})
	require.ErrorIs(t, err, errs.ErrValidation)
	got, err := eng.Get(ctx, free.ID)
	require.NoError(t, err)
	assert.True(t, got.IsRoot(), "batch rejected as a whole")

	_, err = eng.Save(ctx, artifact.Artifact{ID: broken.ID, ParentID: holder.ID, Payload: artifact.Structured("x")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "can't check config link")

	// payload update of a linked root keeps it in place
	upd, err := eng.Save(ctx, artifact.Artifact{ID: linked.ID, Payload: artifact.Structured("y")})
	require.NoError(t, err)
	assert.Equal(t, 0, upd.Level)

	moved, err := eng.Save(ctx, artifact.Artifact{ID: free.ID, ParentID: holder.ID, Payload: artifact.Structured("x")})
	require.NoError(t, err)
	assert.Equal(t, 1, moved.Level)

	require.NoError(t, eng.WithRoot(ctx, linked.ID, func(a artifact.Artifact) error {
		assert.Equal(t, linked.ID, a.ID)
		return nil
	}))
	assert.ErrorIs(t, eng.WithRoot(ctx, free.ID, func(artifact.Artifact) error { return nil }), errs.ErrValidation)
}

func prepSQLiteEngine(t *testing.T) *artifact.Engine {
	t.Helper()
	db, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	eng, err := artifact.NewEngine(db.Artifacts(), artifact.Params{})
	require.NoError(t, err)
	return eng
}

func saveNode(t *testing.T, eng *artifact.Engine, parentID string) artifact.Artifact {
	t.Helper()
	a, err := eng.Save(context.Background(), artifact.Artifact{ParentID: parentID, Payload: artifact.Structured("x")})
	require.NoError(t, err)
	return a
}
