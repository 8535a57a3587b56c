package convert

import (
	"archive/zip"
	"context"
	"io"
	"os"

	"github.com/airwavehq/aircheck/internal/fault"
	"github.com/airwavehq/aircheck/internal/store"
)

// WriteZip streams a stored (uncompressed) archive of the given recordings'
// m4a artefacts to w, converting each on demand. Entries appear in request
// order and are named <recording-id>.m4a. The audio payload is already
// compressed, so entries use the Store method and the archive can be
// written without buffering.
func (c *Converter) WriteZip(ctx context.Context, w io.Writer, recs []store.Recording) error {
	zw := zip.NewWriter(w)
	for _, rec := range recs {
		path, err := c.ToM4A(ctx, rec)
		if err != nil {
			_ = zw.Close()
			return err
		}
		if err := addStoredEntry(zw, rec.ID+".m4a", path); err != nil {
			_ = zw.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fault.Wrap(fault.StorageIO, "convert.zip", err)
	}
	return nil
}

func addStoredEntry(zw *zip.Writer, name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fault.Wrap(fault.StorageIO, "convert.zip", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fault.Wrap(fault.StorageIO, "convert.zip", err)
	}
	hdr := &zip.FileHeader{
		Name:     name,
		Method:   zip.Store,
		Modified: info.ModTime(),
	}
	hdr.SetMode(0o644)
	entry, err := zw.CreateHeader(hdr)
	if err != nil {
		return fault.Wrap(fault.StorageIO, "convert.zip", err)
	}
	if _, err := io.Copy(entry, f); err != nil {
		return fault.Wrap(fault.StorageIO, "convert.zip", err)
	}
	return nil
}
