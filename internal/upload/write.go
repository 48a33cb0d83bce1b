package upload

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"apk-portal/internal/apperr"
	"apk-portal/internal/ledger"
)

// writeRevision stores data as a permanent revision blob. The checksum is
// computed while the blob is written, then the blob is read back and
// compared before anything refers to it.
func (a *Arbitrator) writeRevision(appSlug, version string, revisionNo int, filename string, data []byte) (ledger.RevisionInput, error) {
	var checksum string
	var locator string
	var writeErr error

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		hash := sha256.Sum256(data)
		checksum = hex.EncodeToString(hash[:])
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		locator, writeErr = a.store.Put(appSlug, version, revisionNo, filename, data)
	}()

	wg.Wait()

	if writeErr != nil {
		return ledger.RevisionInput{}, asStorage("upload.write", writeErr)
	}

	if err := a.verifyBlob(locator, data, checksum); err != nil {
		a.discard(locator)
		return ledger.RevisionInput{}, apperr.Storage("upload.verify", err)
	}

	in := ledger.RevisionInput{
		Locator:  locator,
		Filename: filename,
		Size:     int64(len(data)),
		SHA256:   checksum,
	}
	a.inspect(&in, data)
	return in, nil
}

// verifyBlob checks that the stored blob matches what was written
func (a *Arbitrator) verifyBlob(locator string, original []byte, expectedChecksum string) error {
	stored, err := a.store.Read(locator)
	if err != nil {
		return fmt.Errorf("blob not readable: %w", err)
	}

	if len(stored) != len(original) {
		return fmt.Errorf("size mismatch: expected %d, got %d", len(original), len(stored))
	}

	hash := sha256.Sum256(stored)
	if got := hex.EncodeToString(hash[:]); got != expectedChecksum {
		return fmt.Errorf("checksum mismatch: expected %s, got %s", expectedChecksum, got)
	}
	return nil
}

// inspect fills manifest fields when the package can be parsed
func (a *Arbitrator) inspect(in *ledger.RevisionInput, data []byte) {
	if a.inspector == nil {
		return
	}
	m, err := a.inspector.Inspect(data)
	if err != nil {
		a.log.Debug("package manifest not readable", "filename", in.Filename, "error", err)
		return
	}
	in.PackageName = m.PackageName
	in.VersionName = m.VersionName
	in.VersionCode = m.VersionCode
}

// discard removes a blob nothing refers to
func (a *Arbitrator) discard(locator string) {
	if locator == "" {
		return
	}
	if err := a.store.Delete(locator); err != nil && !apperr.Is(err, apperr.KindNotFound) {
		a.log.Warn("orphaned blob left behind", "locator", locator, "error", err)
	}
}

func asStorage(op string, err error) error {
	if apperr.KindOf(err) != apperr.KindUnknown {
		return err
	}
	return apperr.Storage(op, err)
}
