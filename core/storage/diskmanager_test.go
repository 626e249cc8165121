package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateRejectsExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db.bin")

	dm, err := Create(path, nil)
	require.NoError(t, err)
	require.NoError(t, dm.Close())

	_, err = Create(path, nil)
	require.ErrorIs(t, err, ErrDBFileExists)
}

func TestOpenRejectsMissingFile(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(filepath.Join(dir, "missing.bin"), nil)
	require.ErrorIs(t, err, ErrDBFileNotFound)
}

func TestAllocateWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	dm, err := Create(filepath.Join(dir, "db.bin"), nil)
	require.NoError(t, err)
	defer dm.Close()

	id, err := dm.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, HeaderPageID, id, "the first allocation must land on HeaderPageID")

	buf := make([]byte, PageSize)
	for i := range buf {
		buf[i] = byte(i)
	}
	StampChecksum(buf)
	require.NoError(t, dm.WritePage(id, buf))

	got := make([]byte, PageSize)
	require.NoError(t, dm.ReadPage(id, got))
	require.Equal(t, buf, got)
	require.True(t, VerifyChecksum(got))
}

func TestChecksumDetectsCorruption(t *testing.T) {
	buf := make([]byte, PageSize)
	buf[10] = 0x42
	StampChecksum(buf)
	require.True(t, VerifyChecksum(buf))

	buf[10] = 0x43
	require.False(t, VerifyChecksum(buf))
}

func TestDeallocateThenReallocateReusesPage(t *testing.T) {
	dir := t.TempDir()
	dm, err := Create(filepath.Join(dir, "db.bin"), nil)
	require.NoError(t, err)
	defer dm.Close()

	first, err := dm.AllocatePage()
	require.NoError(t, err)
	second, err := dm.AllocatePage()
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	require.NoError(t, dm.DeallocatePage(second))

	third, err := dm.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, second, third, "freed pages should be reused before extending the file")
}

func TestDeallocateRejectsHeaderAndInvalid(t *testing.T) {
	dir := t.TempDir()
	dm, err := Create(filepath.Join(dir, "db.bin"), nil)
	require.NoError(t, err)
	defer dm.Close()

	require.ErrorIs(t, dm.DeallocatePage(HeaderPageID), ErrInvalidPageID)
	require.ErrorIs(t, dm.DeallocatePage(InvalidPageID), ErrInvalidPageID)
}

func TestOpenPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db.bin")

	dm, err := Create(path, nil)
	require.NoError(t, err)
	id, err := dm.AllocatePage()
	require.NoError(t, err)
	buf := make([]byte, PageSize)
	buf[0] = 0x7
	StampChecksum(buf)
	require.NoError(t, dm.WritePage(id, buf))
	require.NoError(t, dm.Close())

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	defer reopened.Close()

	got := make([]byte, PageSize)
	require.NoError(t, reopened.ReadPage(id, got))
	require.Equal(t, buf, got)

	next, err := reopened.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, PageID(1), next, "descriptor state must survive a close/reopen cycle")
}
