package store

import (
	"os"
	"path/filepath"

	"exchange-core/internal/logger"
)

// WriteFileAtomic replaces path with data via a synced temp file and rename,
// so readers see either the old or the new content.
func WriteFileAtomic(path string, data []byte, perm os.FileMode, log *logger.Log) error {
	return writeFileAtomic(path, data, perm, logger.OrNop(log).WithComponent("store"))
}

func writeFileAtomic(path string, data []byte, perm os.FileMode, log *logger.Entry) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "tmp-*")
	if err != nil {
		return err
	}
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}
	if err := tmp.Chmod(perm); err != nil {
		cleanup()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	fsyncDirBestEffort(dir, path, log)
	return nil
}

func fsyncDirBestEffort(dir, path string, log *logger.Entry) {
	d, err := os.Open(dir)
	if err != nil {
		log.WithEvent("store_dir_fsync_skipped").WithFields(logger.Fields{
			"reason": err.Error(),
			"dir":    dir,
			"target": path,
		}).Warn("directory fsync skipped")
		return
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		log.WithEvent("store_dir_fsync_failed").WithFields(logger.Fields{
			"reason": err.Error(),
			"dir":    dir,
			"target": path,
		}).Warn("directory fsync failed")
	}
}
