package hub

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// incompleteSuffix marks partial downloads that can be resumed.
const incompleteSuffix = ".incomplete"

// downloadFile fetches u into dest. A leftover dest+".incomplete" is resumed
// with a Range request. When sha is set the finished file is verified before
// it is moved into place. Progress is reported under file.
func (c *Client) downloadFile(ctx context.Context, u, dest, file string, size int64, sha string, tracker *progressTracker) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	partial := dest + incompleteSuffix

	var offset int64
	if info, err := os.Stat(partial); err == nil {
		offset = info.Size()
	}
	if size > 0 && offset > size {
		_ = os.Remove(partial)
		offset = 0
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)
	if offset > 0 {
		req.Header.Set("Range", rangeFrom(offset))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("hub: download request failed: %w", err)
	}
	defer resp.Body.Close()

	var flags int
	switch resp.StatusCode {
	case http.StatusOK:
		// full body, any partial data is discarded
		offset = 0
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC

	case http.StatusPartialContent:
		start, _, _, err := parseContentRange(resp.Header.Get("Content-Range"))
		if err != nil || start != offset {
			return fmt.Errorf("hub: unexpected Content-Range %q for offset %d", resp.Header.Get("Content-Range"), offset)
		}
		flags = os.O_APPEND | os.O_WRONLY

	case http.StatusRequestedRangeNotSatisfiable:
		// the partial file already holds everything
		tracker.set(file, offset)
		return finishDownload(partial, dest, sha)

	default:
		return statusError(u, resp)
	}

	f, err := os.OpenFile(partial, flags, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", partial, err)
	}
	tracker.set(file, offset)

	_, copyErr := io.Copy(f, &progressReader{r: resp.Body, file: file, tracker: tracker})
	if err := f.Close(); err != nil && copyErr == nil {
		copyErr = err
	}
	if copyErr != nil {
		return fmt.Errorf("hub: download of %s interrupted: %w", file, copyErr)
	}

	if size > 0 {
		if info, err := os.Stat(partial); err == nil && info.Size() != size {
			return fmt.Errorf("hub: %s is %d bytes, expected %d", file, info.Size(), size)
		}
	}
	return finishDownload(partial, dest, sha)
}

func finishDownload(partial, dest, sha string) error {
	if sha != "" {
		got, err := fileSHA256(partial)
		if err != nil {
			return err
		}
		if !strings.EqualFold(got, sha) {
			// a corrupt partial must not be resumed
			_ = os.Remove(partial)
			return fmt.Errorf("%w: %s has %s, expected %s", ErrChecksumMismatch, filepath.Base(dest), got, sha)
		}
	}
	if err := os.Rename(partial, dest); err != nil {
		return fmt.Errorf("move %s into place: %w", dest, err)
	}
	return nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
