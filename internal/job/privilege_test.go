package job

import (
	"sync"
	"testing"

	"github.com/desertwitch/workio/internal/job/mocks"
	"github.com/desertwitch/workio/internal/protocol"
	"github.com/desertwitch/workio/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// TestTryAskPrivilege_AskedOnce_Success tests that ten privileged
// descendants share a single confirmation of the top-level job.
func TestTryAskPrivilege_AskedOnce_Success(t *testing.T) {
	t.Parallel()

	confirmer := mocks.NewConfirmer(t)
	confirmer.On("Confirm", mock.Anything, mock.MatchedBy(func(req protocol.MessageBoxRequest) bool {
		return req.Title == "Delete Files" && req.Kind == protocol.BoxWarningContinueCancel &&
			req.Primary == "Continue" && req.Secondary == "Cancel"
	})).Return(protocol.AnswerPrimary).Once()

	root := NewComposite(schema.OpDelete, "file:///srv", PrivilegeExecution)
	root.SetConfirmer(confirmer)

	mid := NewComposite(schema.OpDelete, "file:///srv/dir", PrivilegeExecution)
	require.NoError(t, root.AddSubjob(mid))

	var leaves []*Job
	for i := range 10 {
		leaf := Delete("file:///srv/dir/f", false, PrivilegeExecution)
		if i%2 == 0 {
			require.NoError(t, root.AddSubjob(leaf))
		} else {
			require.NoError(t, mid.AddSubjob(leaf))
		}
		leaves = append(leaves, leaf)
	}

	var wg sync.WaitGroup
	statuses := make([]schema.PrivilegeStatus, len(leaves))
	for i, leaf := range leaves {
		wg.Add(1)
		go func() {
			defer wg.Done()
			statuses[i] = leaf.TryAskPrivilege(t.Context())
		}()
	}
	wg.Wait()

	for _, s := range statuses {
		assert.Equal(t, schema.PrivilegeAllowed, s)
	}
	assert.True(t, root.PrivilegeAsked())
	assert.Equal(t, schema.PrivilegeAllowed, root.TryAskPrivilege(t.Context()))
	confirmer.AssertNumberOfCalls(t, "Confirm", 1)
}

// TestTryAskPrivilege_Canceled_Fail tests that a canceled confirmation is
// cached and shared.
func TestTryAskPrivilege_Canceled_Fail(t *testing.T) {
	t.Parallel()

	confirmer := mocks.NewConfirmer(t)
	confirmer.On("Confirm", mock.Anything, mock.Anything).Return(protocol.AnswerCancel).Once()

	root := NewComposite(schema.OpMove, "file:///srv", PrivilegeExecution)
	root.SetConfirmer(confirmer)

	a := Move("file:///srv/a", "file:///dst/a", PrivilegeExecution)
	b := Move("file:///srv/b", "file:///dst/b", PrivilegeExecution)
	require.NoError(t, root.AddSubjob(a))
	require.NoError(t, root.AddSubjob(b))

	assert.Equal(t, schema.PrivilegeCanceled, a.TryAskPrivilege(t.Context()))
	assert.Equal(t, schema.PrivilegeCanceled, b.TryAskPrivilege(t.Context()))
	assert.Equal(t, schema.PrivilegeCanceled, a.TryAskPrivilege(t.Context()))

	jerr := PrivilegeError(schema.OpMove, schema.PrivilegeCanceled)
	require.ErrorIs(t, jerr, schema.ErrPrivilegeCanceled)
}

// TestTryAskPrivilege_NotAllowed_Fail tests the cases that never ask.
func TestTryAskPrivilege_NotAllowed_Fail(t *testing.T) {
	t.Parallel()

	t.Run("no flag", func(t *testing.T) {
		t.Parallel()

		confirmer := mocks.NewConfirmer(t)
		j := Delete("file:///srv/a", false, 0)
		j.SetConfirmer(confirmer)

		assert.Equal(t, schema.PrivilegeNotAllowed, j.TryAskPrivilege(t.Context()))
	})

	t.Run("parent without flag", func(t *testing.T) {
		t.Parallel()

		confirmer := mocks.NewConfirmer(t)
		root := NewComposite(schema.OpDelete, "file:///srv", 0)
		root.SetConfirmer(confirmer)

		child := Delete("file:///srv/a", false, PrivilegeExecution)
		require.NoError(t, root.AddSubjob(child))

		assert.Equal(t, schema.PrivilegeNotAllowed, child.TryAskPrivilege(t.Context()))
	})

	t.Run("no confirmer", func(t *testing.T) {
		t.Parallel()

		j := Delete("file:///srv/a", false, PrivilegeExecution)
		assert.Equal(t, schema.PrivilegeNotAllowed, j.TryAskPrivilege(t.Context()))
		assert.False(t, j.PrivilegeAsked())

		jerr := PrivilegeError(schema.OpDelete, schema.PrivilegeNotAllowed)
		require.ErrorIs(t, jerr, schema.ErrPrivilegeDenied)
	})
}

// TestTryAskPrivilege_UnitTesting_Success tests the test bypass and the
// inherited marker.
func TestTryAskPrivilege_UnitTesting_Success(t *testing.T) {
	t.Parallel()

	root := NewComposite(schema.OpCopy, "file:///srv", PrivilegeExecution)
	root.AddMetaData(MetaUnitTesting, "true")

	child := Copy("file:///srv/a", "file:///dst/a", 0o644, PrivilegeExecution)
	require.NoError(t, root.AddSubjob(child))

	assert.Equal(t, schema.PrivilegeAllowed, child.TryAskPrivilege(t.Context()))
	assert.Equal(t, TestDataPrivilegeAllowed, root.QueryMetaData(MetaTestData))
	assert.Equal(t, TestDataPrivilegeAllowed, child.QueryMetaData(MetaTestData))

	req, _ := child.StartRequest()
	var args protocol.OpArgs
	require.NoError(t, protocol.Unmarshal(req.Args, &args))
	assert.True(t, args.Privileged)
}

// TestPrivilegeRequest_Captions tests the dialog captions per kind.
func TestPrivilegeRequest_Captions(t *testing.T) {
	t.Parallel()

	tests := map[schema.OpKind]string{
		schema.OpChangeAttribute: "Change Attribute",
		schema.OpCopy:            "Copy Files",
		schema.OpMkdir:           "Create Folder",
		schema.OpRename:          "Rename",
		schema.OpSymlink:         "Create Symlink",
		schema.OpTransfer:        "Transfer data",
		schema.OpGet:             "Privileged Operation",
	}

	for kind, title := range tests {
		t.Run(kind.String(), func(t *testing.T) {
			t.Parallel()

			req := PrivilegeRequest(kind)
			assert.Equal(t, title, req.Title)
			assert.Contains(t, req.Text, "Root privileges are required")
		})
	}
}
