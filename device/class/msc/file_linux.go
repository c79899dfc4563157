package msc

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/ardnew/sieusb/pkg"
)

// FileMedium is a [Medium] backed by a disk image. The image is locked for
// as long as the medium is open so that two devices cannot share it.
type FileMedium struct {
	file      *os.File
	fd        int
	blockSize uint32
	blocks    uint32
	readOnly  bool
	mutex     sync.RWMutex
}

// OpenFileMedium opens an existing image. Trailing bytes short of a whole
// block are not addressable.
func OpenFileMedium(path string, blockSize uint32, readOnly bool) (*FileMedium, error) {
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	flag, lock := os.O_RDWR, unix.LOCK_EX
	if readOnly {
		flag, lock = os.O_RDONLY, unix.LOCK_SH
	}
	file, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	fd := int(file.Fd())
	if err := unix.Flock(fd, lock|unix.LOCK_NB); err != nil {
		file.Close()
		return nil, fmt.Errorf("lock image %s: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		unix.Flock(fd, unix.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("stat image: %w", err)
	}
	blocks := uint64(info.Size()) / uint64(blockSize)
	if blocks > uint64(^uint32(0)) {
		unix.Flock(fd, unix.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("image %s: %d blocks: %w", path, blocks, pkg.ErrInvalidParameter)
	}
	return &FileMedium{
		file:      file,
		fd:        fd,
		blockSize: blockSize,
		blocks:    uint32(blocks),
		readOnly:  readOnly,
	}, nil
}

// CreateFileMedium creates (or truncates) an image of blockCount blocks and
// opens it read-write.
func CreateFileMedium(path string, blockCount, blockSize uint32) (*FileMedium, error) {
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create image: %w", err)
	}
	if err := file.Truncate(int64(blockCount) * int64(blockSize)); err != nil {
		file.Close()
		return nil, fmt.Errorf("size image: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("create image: %w", err)
	}
	return OpenFileMedium(path, blockSize, false)
}

// NewFileDriver opens each image read-write as one LUN of a [BlockDriver].
// The returned close function releases every image.
func NewFileDriver(blockSize uint32, paths ...string) (*BlockDriver, func() error, error) {
	media := make([]Medium, 0, len(paths))
	files := make([]*FileMedium, 0, len(paths))
	closeAll := func() error {
		var first error
		for _, f := range files {
			if err := f.Close(); err != nil && first == nil {
				first = err
			}
		}
		return first
	}
	for _, p := range paths {
		f, err := OpenFileMedium(p, blockSize, false)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		media = append(media, f)
		files = append(files, f)
	}
	d, err := NewBlockDriver(media...)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	return d, closeAll, nil
}

// Info implements Medium.
func (f *FileMedium) Info() (Info, error) {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	if f.file == nil {
		return Info{}, pkg.ErrMediumNotPresent
	}
	return Info{BlockSize: f.blockSize, BlockCount: f.blocks, WriteProtected: f.readOnly}, nil
}

func (f *FileMedium) offset(lba uint32, p []byte) (int64, error) {
	if f.file == nil {
		return 0, pkg.ErrMediumNotPresent
	}
	if len(p)%int(f.blockSize) != 0 {
		return 0, pkg.ErrInvalidParameter
	}
	if uint64(lba)+uint64(len(p)/int(f.blockSize)) > uint64(f.blocks) {
		return 0, pkg.ErrOutOfRange
	}
	return int64(lba) * int64(f.blockSize), nil
}

// ReadBlocks implements Medium.
func (f *FileMedium) ReadBlocks(lba uint32, p []byte) error {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	off, err := f.offset(lba, p)
	if err != nil {
		return err
	}
	for done := 0; done < len(p); {
		n, err := unix.Pread(f.fd, p[done:], off+int64(done))
		if err != nil {
			return fmt.Errorf("%w: %w", pkg.ErrMediumRead, err)
		}
		if n == 0 {
			return fmt.Errorf("short image at lba %d: %w", lba, pkg.ErrMediumRead)
		}
		done += n
	}
	return nil
}

// WriteBlocks implements Medium.
func (f *FileMedium) WriteBlocks(lba uint32, p []byte) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.readOnly {
		return pkg.ErrWriteProtected
	}
	off, err := f.offset(lba, p)
	if err != nil {
		return err
	}
	for done := 0; done < len(p); {
		n, err := unix.Pwrite(f.fd, p[done:], off+int64(done))
		if err != nil {
			return fmt.Errorf("%w: %w", pkg.ErrMediumWrite, err)
		}
		done += n
	}
	return nil
}

// Sync implements Medium with fdatasync(2).
func (f *FileMedium) Sync() error {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	if f.file == nil || f.readOnly {
		return nil
	}
	if err := unix.Fdatasync(f.fd); err != nil {
		return fmt.Errorf("%w: %w", pkg.ErrMediumWrite, err)
	}
	return nil
}

// Close syncs, unlocks and closes the image.
func (f *FileMedium) Close() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.file == nil {
		return nil
	}
	var err error
	if !f.readOnly {
		err = unix.Fdatasync(f.fd)
	}
	unix.Flock(f.fd, unix.LOCK_UN)
	if cerr := f.file.Close(); err == nil {
		err = cerr
	}
	f.file = nil
	return err
}
