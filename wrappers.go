package fatfs

import (
	"io"
	"runtime"

	"github.com/embeddedgo/fatfs/fat"
)

// Volume, Directory and File are RAII-style wrappers around a RawVolume/
// RawDirectory/RawFile plus the manager that owns them. Go has no
// deterministic destructors, so the finalizer registered by each New*
// constructor is a best-effort safety net only: call Close explicitly and
// check its error: a finalizer-driven close can run arbitrarily late, and
// discards any error it encounters.
type Volume struct {
	mgr *VolumeManager
	raw RawVolume
}

type Directory struct {
	mgr *VolumeManager
	raw RawDirectory
}

type File struct {
	mgr *VolumeManager
	raw RawFile
}

// NewVolume wraps rv so it closes automatically if the caller forgets to,
// and always on an explicit Close.
func NewVolume(mgr *VolumeManager, rv RawVolume) *Volume {
	v := &Volume{mgr: mgr, raw: rv}
	runtime.SetFinalizer(v, func(v *Volume) { _ = v.mgr.CloseVolume(v.raw) })
	return v
}

// Raw returns the underlying handle, for callers that need to pass it to a
// manager method directly.
func (v *Volume) Raw() RawVolume { return v.raw }

// OpenRoot opens the volume's root directory, returning a wrapped Directory.
func (v *Volume) OpenRoot() (*Directory, error) {
	rd, err := v.mgr.OpenRootDir(v.raw)
	if err != nil {
		return nil, err
	}
	return NewDirectory(v.mgr, rd), nil
}

// Label returns the volume's label (BPB-embedded, or the root directory's
// volume-id entry).
func (v *Volume) Label() (string, error) { return v.mgr.GetRootVolumeLabel(v.raw) }

// Close closes the volume and cancels its finalizer.
func (v *Volume) Close() error {
	runtime.SetFinalizer(v, nil)
	return v.mgr.CloseVolume(v.raw)
}

// NewDirectory wraps rd so it closes automatically if the caller forgets
// to, and always on an explicit Close.
func NewDirectory(mgr *VolumeManager, rd RawDirectory) *Directory {
	d := &Directory{mgr: mgr, raw: rd}
	runtime.SetFinalizer(d, func(d *Directory) { _ = d.mgr.CloseDir(d.raw) })
	return d
}

// Raw returns the underlying handle.
func (d *Directory) Raw() RawDirectory { return d.raw }

// Open opens a subdirectory of d by name ("." returns a fresh handle over
// the same region).
func (d *Directory) Open(name string) (*Directory, error) {
	rd, err := d.mgr.OpenDir(d.raw, name)
	if err != nil {
		return nil, err
	}
	return NewDirectory(d.mgr, rd), nil
}

// OpenFile opens name inside d under mode.
func (d *Directory) OpenFile(name string, mode Mode) (*File, error) {
	rf, err := d.mgr.OpenFileInDir(d.raw, name, mode)
	if err != nil {
		return nil, err
	}
	return NewFile(d.mgr, rf), nil
}

// Mkdir creates a subdirectory of d named name.
func (d *Directory) Mkdir(name string) error { return d.mgr.MakeDirInDir(d.raw, name) }

// Remove deletes the file (not directory) named name from d.
func (d *Directory) Remove(name string) error { return d.mgr.DeleteFileInDir(d.raw, name) }

// Find looks up name in d without opening it.
func (d *Directory) Find(name string) (fat.DirEntryView, error) {
	return d.mgr.FindDirectoryEntry(d.raw, name)
}

// ForEach visits every entry of d. See VolumeManager.IterateDir for the
// reentrancy restriction on fn.
func (d *Directory) ForEach(fn func(fat.DirEntryView) (stop bool, err error)) error {
	return d.mgr.IterateDir(d.raw, fn)
}

// Close closes the directory and cancels its finalizer.
func (d *Directory) Close() error {
	runtime.SetFinalizer(d, nil)
	return d.mgr.CloseDir(d.raw)
}

// NewFile wraps rf so it flushes and closes automatically if the caller
// forgets to, and always on an explicit Close.
func NewFile(mgr *VolumeManager, rf RawFile) *File {
	f := &File{mgr: mgr, raw: rf}
	runtime.SetFinalizer(f, func(f *File) { _ = f.mgr.CloseFile(f.raw) })
	return f
}

// Raw returns the underlying handle.
func (f *File) Raw() RawFile { return f.raw }

// Read implements io.Reader over the manager's Read. Unlike the manager
// method, which reports end-of-file as (0, nil), Read returns io.EOF so the
// wrapper composes with io.Copy, io.ReadFull and friends.
func (f *File) Read(buf []byte) (int, error) {
	n, err := f.mgr.Read(f.raw, buf)
	if err == nil && n == 0 && len(buf) > 0 {
		return 0, io.EOF
	}
	return n, err
}

// Write implements io.Writer over the manager's Write.
func (f *File) Write(buf []byte) (int, error) { return f.mgr.Write(f.raw, buf) }

// Seek implements io.Seeker over the manager's Seek.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	return f.mgr.Seek(f.raw, offset, whence)
}

// Length returns the file's current size in bytes, including unflushed
// growth.
func (f *File) Length() (uint32, error) { return f.mgr.FileLength(f.raw) }

// Flush rewrites this file's directory entry (and FSInfo, for FAT32) if
// dirty.
func (f *File) Flush() error { return f.mgr.FlushFile(f.raw) }

// Close flushes and closes the file, cancelling its finalizer. A flush
// error is still returned even though the handle is released either way.
func (f *File) Close() error {
	runtime.SetFinalizer(f, nil)
	return f.mgr.CloseFile(f.raw)
}
