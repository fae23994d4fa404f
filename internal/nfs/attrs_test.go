package nfs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vibefs/vibed/internal/metadata"
)

func TestBuildAttrCleanFileUsesRecordSize(t *testing.T) {
	mtime := time.Unix(1700000000, 0)
	rec := metadata.InodeRecord{Kind: metadata.KindFile, Size: 123, Mode: 0o600, ModTime: mtime}

	attr := buildAttr(rec, 7, false, -1)
	require.Equal(t, uint32(FileTypeRegular), attr.Type)
	require.Equal(t, uint32(0o600), attr.Mode)
	require.Equal(t, uint64(123), attr.Size)
	require.Equal(t, uint64(7), attr.Fileid)
	require.Equal(t, uint32(mtime.Unix()), attr.Mtime.Seconds)
}

func TestBuildAttrDirtyFileUsesDeltaSizeAndNow(t *testing.T) {
	rec := metadata.InodeRecord{Kind: metadata.KindFile, Size: 5, ModTime: time.Unix(1, 0)}

	before := time.Now().Unix()
	attr := buildAttr(rec, 1, true, 999)
	after := time.Now().Unix()

	require.Equal(t, uint64(999), attr.Size)
	require.GreaterOrEqual(t, int64(attr.Mtime.Seconds), before)
	require.LessOrEqual(t, int64(attr.Mtime.Seconds), after)
}

func TestBuildAttrDefaultModeByKind(t *testing.T) {
	dir := buildAttr(metadata.InodeRecord{Kind: metadata.KindDir}, 1, false, -1)
	require.Equal(t, uint32(0o755), dir.Mode)
	require.Equal(t, uint32(2), dir.Nlink)

	symlink := buildAttr(metadata.InodeRecord{Kind: metadata.KindSymlink}, 1, false, -1)
	require.Equal(t, uint32(0o777), symlink.Mode)

	file := buildAttr(metadata.InodeRecord{Kind: metadata.KindFile}, 1, false, -1)
	require.Equal(t, uint32(0o644), file.Mode)
	require.Equal(t, uint32(1), file.Nlink)
}

func TestBuildWccAttrTracksDirtyState(t *testing.T) {
	rec := metadata.InodeRecord{Size: 10, ModTime: time.Unix(1, 0)}

	clean := buildWccAttr(rec, false, -1)
	require.Equal(t, uint64(10), clean.Size)

	dirty := buildWccAttr(rec, true, 42)
	require.Equal(t, uint64(42), dirty.Size)
}

func TestFileTypeMapping(t *testing.T) {
	require.Equal(t, uint32(FileTypeDirectory), fileType(metadata.KindDir))
	require.Equal(t, uint32(FileTypeSymlink), fileType(metadata.KindSymlink))
	require.Equal(t, uint32(FileTypeRegular), fileType(metadata.KindFile))
}
