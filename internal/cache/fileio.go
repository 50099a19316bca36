package cache

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

var (
	codecOnce   sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	codecErr    error
)

func codec() (*zstd.Encoder, *zstd.Decoder, error) {
	codecOnce.Do(func() {
		zstdEncoder, codecErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if codecErr != nil {
			return
		}
		zstdDecoder, codecErr = zstd.NewReader(nil)
	})
	return zstdEncoder, zstdDecoder, codecErr
}

func compress(data []byte) ([]byte, error) {
	enc, _, err := codec()
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(data, make([]byte, 0, len(data)/4)), nil
}

func decompress(data []byte) ([]byte, error) {
	_, dec, err := codec()
	if err != nil {
		return nil, err
	}
	return dec.DecodeAll(data, nil)
}

// digest returns a quoted BLAKE3 digest usable as an HTTP ETag.
func digest(data []byte) string {
	sum := blake3.Sum256(data)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}

// writeFileAtomic writes data to a temporary file in the same directory and renames it over path.
// Readers of path see either the old or the new content, never a partial one.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	_, copyErr := io.Copy(tmp, bytes.NewReader(data))
	syncErr := tmp.Sync()
	closeErr := tmp.Close()

	for _, err := range []error{copyErr, syncErr, closeErr} {
		if err != nil {
			_ = os.Remove(tmpPath)
			return err
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	return fsyncDir(dir)
}

func fsyncDir(dir string) error {
	df, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer df.Close()

	// Some file systems do not support syncing a directory.
	_ = df.Sync()
	return nil
}

// backupFile compresses the current content of path into backup.
// It does nothing if path does not exist yet.
func backupFile(path, backup string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	compressed, err := compress(data)
	if err != nil {
		return fmt.Errorf("failed to compress %s: %w", path, err)
	}

	return writeFileAtomic(backup, compressed)
}
