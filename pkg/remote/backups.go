package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
)

// Backup describes one world archive on the game host.
type Backup struct {
	// Name is the archive file name inside the backup directory.
	Name string `json:"name"`

	// SizeBytes is the archive size.
	SizeBytes int64 `json:"size_bytes"`

	// ModTime is when the archive was written.
	ModTime time.Time `json:"mod_time"`
}

// archiveSuffixes matches what the backup script produces.
var archiveSuffixes = []string{".tar.gz", ".tgz", ".zip"}

func isArchive(name string) bool {
	for _, suffix := range archiveSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// validBackupName rejects anything that is not a bare archive file name,
// so a fetch can never escape the backup directory.
func validBackupName(name string) bool {
	return name != "" && filepath.Base(name) == name && !strings.HasPrefix(name, ".") && isArchive(name)
}

// sftpSession opens an SFTP client on a fresh connection. The returned
// cleanup closes both.
func (c *Client) sftpSession(ctx context.Context) (*sftp.Client, func(), error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, nil, err
	}

	sftpClient, err := sftp.NewClient(conn)
	if err != nil {
		_ = conn.Close()
		return nil, nil, &TransportError{
			Op:          "sftp-init",
			Err:         fmt.Errorf("failed to open sftp session: %w", err),
			IsTemporary: true,
		}
	}

	cleanup := func() {
		_ = sftpClient.Close()
		_ = conn.Close()
	}
	return sftpClient, cleanup, nil
}

// ListBackups returns the archives in the backup directory, newest
// first. A host that has never backed up yields an empty list.
func (c *Client) ListBackups(ctx context.Context) ([]Backup, error) {
	sftpClient, cleanup, err := c.sftpSession(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	entries, err := sftpClient.ReadDir(c.cfg.BackupDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &TransportError{
			Op:          "list",
			Err:         fmt.Errorf("failed to read %s: %w", c.cfg.BackupDir, err),
			IsTemporary: true,
		}
	}

	var backups []Backup
	for _, entry := range entries {
		if entry.IsDir() || !isArchive(entry.Name()) {
			continue
		}
		backups = append(backups, Backup{
			Name:      entry.Name(),
			SizeBytes: entry.Size(),
			ModTime:   entry.ModTime(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].ModTime.After(backups[j].ModTime)
	})
	return backups, nil
}

// FetchBackup downloads one archive to localPath and returns the number
// of bytes written.
func (c *Client) FetchBackup(ctx context.Context, name, localPath string) (int64, error) {
	if !validBackupName(name) {
		return 0, &TransportError{
			Op:  "fetch",
			Err: fmt.Errorf("invalid backup name %q", name),
		}
	}

	sftpClient, cleanup, err := c.sftpSession(ctx)
	if err != nil {
		return 0, err
	}
	defer cleanup()

	remotePath := path.Join(c.cfg.BackupDir, name)
	remoteFile, err := sftpClient.Open(remotePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, &TransportError{
				Op:  "fetch",
				Err: fmt.Errorf("backup %s does not exist", name),
			}
		}
		return 0, &TransportError{
			Op:          "fetch",
			Err:         fmt.Errorf("failed to open %s: %w", remotePath, err),
			IsTemporary: true,
		}
	}
	defer remoteFile.Close()

	if dir := filepath.Dir(localPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, &TransportError{
				Op:  "fetch",
				Err: fmt.Errorf("failed to create local directory: %w", err),
			}
		}
	}

	localFile, err := os.Create(localPath)
	if err != nil {
		return 0, &TransportError{
			Op:  "fetch",
			Err: fmt.Errorf("failed to create local file: %w", err),
		}
	}
	defer localFile.Close()

	started := time.Now()
	written, err := copyWithContext(ctx, localFile, remoteFile)
	if err != nil {
		return written, &TransportError{
			Op:          "fetch",
			Err:         fmt.Errorf("transfer failed after %d bytes: %w", written, err),
			IsTemporary: true,
		}
	}

	log.Info().
		Str("backup", name).
		Str("local", localPath).
		Int64("bytes", written).
		Dur("duration", time.Since(started)).
		Msg("Backup fetched")
	return written, nil
}

// copyWithContext streams src to dst, checking for cancellation between
// chunks.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			if nw > 0 {
				written += int64(nw)
			}
			if werr != nil {
				return written, werr
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return written, nil
			}
			return written, rerr
		}
	}
}
