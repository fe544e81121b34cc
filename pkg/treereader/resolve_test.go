package treereader_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilsley/treereader/pkg/treereader"
)

var fixtureBranches = []treereader.Branch{
	{ID: "refs/heads/develop", DisplayID: "develop", LatestCommit: "1111111111111111111111111111111111111111"},
	{ID: "refs/heads/main", DisplayID: "main", LatestCommit: "2222222222222222222222222222222222222222", IsDefault: true},
	{ID: "refs/heads/release/1.0", DisplayID: "release/1.0", LatestCommit: "3333333333333333333333333333333333333333"},
}

func loc(ref string) treereader.Location {
	return treereader.Location{Scheme: "https", Host: "h", Project: "P", Repo: "r", Ref: ref}
}

func TestSelectBranch_ByDisplayID(t *testing.T) {
	b, err := treereader.SelectBranch(loc("release/1.0"), fixtureBranches)
	require.NoError(t, err)
	assert.Equal(t, "release/1.0", b.DisplayID)
}

func TestSelectBranch_ByFullRef(t *testing.T) {
	b, err := treereader.SelectBranch(loc("refs/heads/develop"), fixtureBranches)
	require.NoError(t, err)
	assert.Equal(t, "develop", b.DisplayID)
}

func TestSelectBranch_EmptyRefUsesMarkedDefault(t *testing.T) {
	b, err := treereader.SelectBranch(loc(""), fixtureBranches)
	require.NoError(t, err)
	assert.Equal(t, "main", b.DisplayID)
}

func TestSelectBranch_EmptyRefWithoutDefault(t *testing.T) {
	branches := []treereader.Branch{fixtureBranches[0], fixtureBranches[2]}
	_, err := treereader.SelectBranch(loc(""), branches)

	var notFound treereader.RefNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Empty(t, notFound.Ref)
	assert.Equal(t, "no default branch in P/r", err.Error())
}

func TestSelectBranch_UnknownRef(t *testing.T) {
	_, err := treereader.SelectBranch(loc("Main"), fixtureBranches)

	var notFound treereader.RefNotFoundError
	require.True(t, errors.As(err, &notFound), "matching is case-sensitive")
	assert.Equal(t, "Main", notFound.Ref)
}

func TestShortFingerprint(t *testing.T) {
	fp, err := treereader.ShortFingerprint("a1b2c3d4e5f60718293a4b5c6d7e8f9012345678")
	require.NoError(t, err)
	assert.Equal(t, "a1b2c3d4e5f6", fp)

	fp, err = treereader.ShortFingerprint("ABCDEF012345")
	require.NoError(t, err)
	assert.Equal(t, "ABCDEF012345", fp)

	_, err = treereader.ShortFingerprint("abc123")
	assert.Error(t, err)

	_, err = treereader.ShortFingerprint("zzzzzzzzzzzzzzzz")
	assert.Error(t, err)
}
