package checkpoint

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/question-harvester/internal/crawler"
)

func TestFileStoreRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	store, err := NewFileStore(fs, "output/LastPage.txt")
	require.NoError(t, err)
	ctx := context.Background()

	page, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Zero(t, page, "missing checkpoint means no progress")

	require.NoError(t, store.Write(ctx, 120))
	require.NoError(t, store.Write(ctx, 119))
	page, err = store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 119, page)

	raw, err := afero.ReadFile(fs, "output/LastPage.txt")
	require.NoError(t, err)
	assert.Equal(t, "119\n", string(raw))

	leftovers, err := afero.Glob(fs, "output/*.tmp")
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestFileStoreEmptyFileIsZero(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "LastPage.txt", []byte("  \n"), 0o600))
	store, err := NewFileStore(fs, "LastPage.txt")
	require.NoError(t, err)

	page, err := store.Read(context.Background())
	require.NoError(t, err)
	assert.Zero(t, page)
}

func TestFileStoreCorrupt(t *testing.T) {
	fs := afero.NewMemMapFs()
	store, err := NewFileStore(fs, "LastPage.txt")
	require.NoError(t, err)

	for _, content := range []string{"abc", "-4", "12x"} {
		require.NoError(t, afero.WriteFile(fs, "LastPage.txt", []byte(content), 0o600))
		_, err = store.Read(context.Background())
		assert.ErrorIs(t, err, crawler.ErrCorruptCheckpoint, content)
	}
}

func TestFileStoreTrimsWhitespace(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "LastPage.txt", []byte("42\n"), 0o600))
	store, err := NewFileStore(fs, "LastPage.txt")
	require.NoError(t, err)

	page, err := store.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, page)
}

func TestFileStoreRejectsInvalidWrite(t *testing.T) {
	store, err := NewFileStore(afero.NewMemMapFs(), "LastPage.txt")
	require.NoError(t, err)
	require.Error(t, store.Write(context.Background(), 0))

	_, err = NewFileStore(nil, " ")
	require.Error(t, err)
}

func TestFileStoreReadOnlyFsFailsWrite(t *testing.T) {
	store, err := NewFileStore(afero.NewReadOnlyFs(afero.NewMemMapFs()), "out/LastPage.txt")
	require.NoError(t, err)
	require.Error(t, store.Write(context.Background(), 5))
}

func TestFailureLogLifecycle(t *testing.T) {
	fs := afero.NewMemMapFs()
	log, err := NewFailureLog(fs, "output/FailedPages.txt")
	require.NoError(t, err)
	ctx := context.Background()

	entries, err := log.Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, log.Reset(ctx))
	require.NoError(t, log.Append(ctx, crawler.FailureEntry{Page: 9, Reason: crawler.ReasonNonSuccessStatus}))
	require.NoError(t, log.Append(ctx, crawler.FailureEntry{Page: 4}))

	entries, err = log.Entries(ctx)
	require.NoError(t, err)
	assert.Equal(t, []crawler.FailureEntry{
		{Page: 9, Reason: crawler.ReasonNonSuccessStatus},
		{Page: 4, Reason: crawler.ReasonUnknown},
	}, entries)

	raw, err := afero.ReadFile(fs, "output/FailedPages.txt")
	require.NoError(t, err)
	assert.Equal(t, "9\tnon-success-status\n4\tunknown\n", string(raw))

	require.NoError(t, log.Reset(ctx))
	entries, err = log.Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFailureLogReadsBarePageLines(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "FailedPages.txt", []byte("12\n\n7\ttransport-error\n3\tsomething-new\n"), 0o600))
	log, err := NewFailureLog(fs, "FailedPages.txt")
	require.NoError(t, err)

	entries, err := log.Entries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []crawler.FailureEntry{
		{Page: 12, Reason: crawler.ReasonUnknown},
		{Page: 7, Reason: crawler.ReasonTransportError},
		{Page: 3, Reason: crawler.ReasonUnknown},
	}, entries)
}

func TestFailureLogRejectsGarbage(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "FailedPages.txt", []byte("page-two\n"), 0o600))
	log, err := NewFailureLog(fs, "FailedPages.txt")
	require.NoError(t, err)

	_, err = log.Entries(context.Background())
	require.Error(t, err)
	require.Error(t, log.Append(context.Background(), crawler.FailureEntry{Page: 0}))
}

func TestFailureLogReplace(t *testing.T) {
	fs := afero.NewMemMapFs()
	log, err := NewFailureLog(fs, "output/FailedPages.txt")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, log.Append(ctx, crawler.FailureEntry{Page: 9, Reason: crawler.ReasonTransportError}))
	require.NoError(t, log.Append(ctx, crawler.FailureEntry{Page: 4, Reason: crawler.ReasonEmptyExtraction}))

	require.NoError(t, log.Replace(ctx, []crawler.FailureEntry{
		{Page: 9, Reason: crawler.ReasonNonSuccessStatus},
		{Page: 4, Reason: crawler.ReasonEmptyExtraction},
	}))
	raw, err := afero.ReadFile(fs, "output/FailedPages.txt")
	require.NoError(t, err)
	assert.Equal(t, "9\tnon-success-status\n4\tempty-extraction\n", string(raw))

	require.NoError(t, log.Replace(ctx, nil))
	entries, err := log.Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	files, err := afero.ReadDir(fs, "output")
	require.NoError(t, err)
	require.Len(t, files, 1, "temp file left behind")

	require.Error(t, log.Replace(ctx, []crawler.FailureEntry{{Page: 0}}))
}
