package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/isseis/go-gitup-guard/internal/guardtypes"
	"github.com/klauspost/compress/zstd"
	"github.com/oklog/ulid/v2"
)

const (
	archiveDirPerm = 0o750
	archiveExt     = ".jsonl.zst"
	corruptExt     = ".corrupt"
)

// PurgeResult describes one audit purge.
type PurgeResult struct {
	Purged  int                   `json:"purged"`
	Archive string                `json:"archive,omitempty"`
	Entry   guardtypes.AuditEntry `json:"entry"`
}

// PurgeAudit moves entries older than before into a compressed archive and
// then records the purge itself in the trail.
func (s *Store) PurgeAudit(ctx context.Context, before time.Time, reason string) (PurgeResult, error) {
	if err := s.checkOpen(); err != nil {
		return PurgeResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return PurgeResult{}, err
	}
	doc, err := s.loadDocument()
	if err != nil {
		return PurgeResult{}, err
	}

	var old, keep []guardtypes.AuditEntry
	for _, e := range doc.AuditTrail {
		if e.Timestamp.Before(before) {
			old = append(old, e)
		} else {
			keep = append(keep, e)
		}
	}
	if len(old) == 0 {
		return PurgeResult{}, nil
	}

	archive, err := s.writeArchive(old)
	if err != nil {
		return PurgeResult{}, err
	}
	entry := s.stamp(guardtypes.AuditEntry{
		Actor:   guardtypes.ActorUser,
		Action:  guardtypes.ActionAuditPurged,
		Outcome: strconv.Itoa(len(old)) + " entries archived",
		Detail:  fmt.Sprintf("before %s into %s: %s", before.UTC().Format(time.RFC3339), filepath.Base(archive), reason),
	})
	doc.AuditTrail = append(keep, entry)
	if err := s.saveDocument(doc); err != nil {
		return PurgeResult{}, err
	}
	s.audit.LogEntry(ctx, entry)
	return PurgeResult{Purged: len(old), Archive: archive, Entry: entry}, nil
}

// writeArchive stores entries as zstd-compressed JSON lines under a fresh
// ULID name. The file appears only once complete.
func (s *Store) writeArchive(entries []guardtypes.AuditEntry) (path string, err error) {
	dir := s.handle.ArchiveDir()
	if err := os.MkdirAll(dir, archiveDirPerm); err != nil {
		return "", fmt.Errorf("create archive directory: %w", err)
	}
	name := ulid.MustNew(ulid.Timestamp(s.Now()), ulid.DefaultEntropy()).String() + archiveExt
	path = filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	enc, err := zstd.NewWriter(tmp)
	if err != nil {
		return "", fmt.Errorf("create archive encoder: %w", err)
	}
	jw := json.NewEncoder(enc)
	for _, e := range entries {
		if err := jw.Encode(e); err != nil {
			_ = enc.Close()
			return "", fmt.Errorf("encode archive entry: %w", err)
		}
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("finish archive: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("sync archive: %w", err)
	}
	if err := tmp.Chmod(documentPerm); err != nil {
		return "", fmt.Errorf("chmod archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close archive: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("publish archive: %w", err)
	}
	s.logger.Info("audit entries archived", "file", path, "count", len(entries))
	return path, nil
}

// preserveUnreadable moves a document that no longer parses into the archive
// directory under a fresh ULID name, byte for byte.
func (s *Store) preserveUnreadable(src string) (string, error) {
	dir := s.handle.ArchiveDir()
	if err := os.MkdirAll(dir, archiveDirPerm); err != nil {
		return "", fmt.Errorf("create archive directory: %w", err)
	}
	name := ulid.MustNew(ulid.Timestamp(s.Now()), ulid.DefaultEntropy()).String() +
		"-" + filepath.Base(src) + corruptExt
	dst := filepath.Join(dir, name)
	if err := os.Rename(src, dst); err != nil {
		return "", fmt.Errorf("preserve %s: %w", filepath.Base(src), err)
	}
	return dst, nil
}

// ReadArchive decodes an archive written by PurgeAudit or Reset.
func ReadArchive(path string) ([]guardtypes.AuditEntry, error) {
	// #nosec G304 - archive paths come from the store or the operator
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open archive decoder: %w", err)
	}
	defer dec.Close()

	var out []guardtypes.AuditEntry
	jd := json.NewDecoder(dec)
	for {
		var e guardtypes.AuditEntry
		if err := jd.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, fmt.Errorf("decode archive %s: %w", filepath.Base(path), err)
		}
		out = append(out, e)
	}
}
