package fat

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/embeddedgo/fatfs/ferrors"
)

func TestCreateLookupAndDeleteEntry(t *testing.T) {
	img := buildFAT16Image(4087)
	table := NewTable(img.vol, img.cache)
	dir := NewDirectory(img.vol, img.cache, table, RootDirRegion(img.vol))

	now, _ := FromCalendar(2024, 1, 2, 3, 4, 6)
	cluster, err := table.AllocCluster()
	require.NoError(t, err)

	entry, err := dir.CreateEntry("HELLO.TXT", AttrArchive, cluster, 1234, now)
	require.NoError(t, err)
	require.Equal(t, "HELLO.TXT", entry.Name.String())

	view, err := dir.Lookup("hello.txt")
	require.NoError(t, err)
	require.Equal(t, cluster, view.Entry.FirstCluster)
	require.EqualValues(t, 1234, view.Entry.FileSize)

	_, err = dir.CreateEntry("HELLO.TXT", AttrArchive, cluster, 0, now)
	require.True(t, errors.Is(err, ferrors.ErrFileAlreadyExists))

	require.NoError(t, dir.DeleteEntry(view.Entry.Location))
	_, err = dir.Lookup("HELLO.TXT")
	require.True(t, errors.Is(err, ferrors.ErrNotFound))
}

func TestDirectoryIsEmptyIgnoresDotEntries(t *testing.T) {
	img := buildFAT16Image(4087)
	table := NewTable(img.vol, img.cache)
	dir := NewDirectory(img.vol, img.cache, table, RootDirRegion(img.vol))

	empty, err := dir.IsEmpty()
	require.NoError(t, err)
	require.True(t, empty)

	now, _ := FromCalendar(2024, 1, 2, 3, 4, 6)
	_, err = dir.CreateEntry(".", AttrDirectory, ClusterRootDir, 0, now)
	require.NoError(t, err)
	_, err = dir.CreateEntry("..", AttrDirectory, ClusterRootDir, 0, now)
	require.NoError(t, err)

	empty, err = dir.IsEmpty()
	require.NoError(t, err)
	require.True(t, empty)

	cluster, err := table.AllocCluster()
	require.NoError(t, err)
	_, err = dir.CreateEntry("FILE.TXT", AttrArchive, cluster, 0, now)
	require.NoError(t, err)

	empty, err = dir.IsEmpty()
	require.NoError(t, err)
	require.False(t, empty)
}

func TestDirectoryGrowsClusterChainWhenFull(t *testing.T) {
	img := buildFAT16Image(4087)
	table := NewTable(img.vol, img.cache)

	// A single-cluster subdirectory with room for exactly
	// block.Size/DirEntrySize entries; creating one more forces a chain
	// extension.
	firstCluster, err := table.AllocCluster()
	require.NoError(t, err)
	dir := NewDirectory(img.vol, img.cache, table, DirRegion{FirstCluster: firstCluster})

	now, _ := FromCalendar(2024, 1, 2, 3, 4, 6)
	capacity := 512 / DirEntrySize
	for i := 0; i < capacity; i++ {
		name := shortTestName(i)
		_, err := dir.CreateEntry(name, AttrArchive, ClusterEmpty, 0, now)
		require.NoError(t, err)
	}

	chainBefore, err := table.FollowChain(firstCluster)
	require.NoError(t, err)
	require.Len(t, chainBefore, 1)

	_, err = dir.CreateEntry("OVERFLOW.TXT", AttrArchive, ClusterEmpty, 0, now)
	require.NoError(t, err)

	chainAfter, err := table.FollowChain(firstCluster)
	require.NoError(t, err)
	require.Len(t, chainAfter, 2)
}

func shortTestName(i int) string {
	digits := "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	return string([]byte{'F', digits[i%36], digits[(i/36)%36]})
}
