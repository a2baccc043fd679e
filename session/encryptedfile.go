package session

import (
	"crypto/rand"
	"errors"
	"os"

	"github.com/charmbracelet/log"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/gram-proto/gram/internal/worker"
)

const (
	encKeySize   = 32
	encNonceSize = 24
)

var errWrongPassphrase = errors.New("session: failed to decrypt state file (wrong passphrase?)")

func argon2Key(passphrase []byte) [encKeySize]byte {
	derived := argon2.Key(passphrase, nil, 3, 32*1024, 4, encKeySize)
	var key [encKeySize]byte
	copy(key[:], derived)
	return key
}

// EncryptedFile wraps a bbolt database file in an argon2-derived-key
// nacl/secretbox envelope: the bbolt file is decrypted once to a sibling
// plaintext path that bbolt can mmap directly, then re-encrypted back to
// targetPath by a background worker on every dirty signal.
type EncryptedFile struct {
	worker.Worker

	log *log.Logger

	targetPath string
	plainPath  string
	key        [encKeySize]byte

	saveCh chan struct{}
}

// OpenEncryptedFile decrypts targetPath into a plaintext sibling file if it
// already exists, or leaves an empty plaintext file for bbolt to initialize
// if this is the first run.
func OpenEncryptedFile(targetPath string, passphrase []byte) (*EncryptedFile, error) {
	key := argon2Key(passphrase)
	plainPath := targetPath + ".plain"

	raw, err := os.ReadFile(targetPath)
	switch {
	case err == nil:
		if len(raw) < encNonceSize {
			return nil, errors.New("session: encrypted state file is truncated")
		}
		var nonce [encNonceSize]byte
		copy(nonce[:], raw[:encNonceSize])
		plaintext, ok := secretbox.Open(nil, raw[encNonceSize:], &nonce, &key)
		if !ok {
			return nil, errWrongPassphrase
		}
		if err := os.WriteFile(plainPath, plaintext, 0600); err != nil {
			return nil, err
		}
	case os.IsNotExist(err):
		// first run: bbolt.Open will create and initialize plainPath itself.
	default:
		return nil, err
	}

	return &EncryptedFile{
		log:        log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true, Prefix: "session/enc"}),
		targetPath: targetPath,
		plainPath:  plainPath,
		key:        key,
		saveCh:     make(chan struct{}, 1),
	}, nil
}

// PlaintextPath is the sibling file bbolt should open.
func (ef *EncryptedFile) PlaintextPath() string { return ef.plainPath }

// Start launches the background save worker.
func (ef *EncryptedFile) Start() { ef.Go(ef.worker) }

// MarkDirty schedules a flush. Bursts of calls while a flush is already
// pending coalesce into that one pass.
func (ef *EncryptedFile) MarkDirty() {
	select {
	case ef.saveCh <- struct{}{}:
	default:
	}
}

func (ef *EncryptedFile) worker() {
	for {
		select {
		case <-ef.HaltCh():
			if err := ef.flush(); err != nil {
				ef.log.Errorf("final flush failed: %s", err)
			}
			return
		case <-ef.saveCh:
			if err := ef.flush(); err != nil {
				ef.log.Errorf("failed to persist encrypted state: %s", err)
			}
		}
	}
}

// flush reads the current plaintext bbolt file, re-encrypts it, and
// atomically replaces targetPath via the tmp-write/backup-rename/rename/
// cleanup dance.
func (ef *EncryptedFile) flush() error {
	plaintext, err := os.ReadFile(ef.plainPath)
	if err != nil {
		return err
	}
	var nonce [encNonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return err
	}
	ciphertext := secretbox.Seal(nil, plaintext, &nonce, &ef.key)
	out := append(nonce[:], ciphertext...)

	tmp := ef.targetPath + ".tmp"
	if err := os.WriteFile(tmp, out, 0600); err != nil {
		return err
	}
	if err := os.Remove(ef.targetPath + "~"); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Rename(ef.targetPath, ef.targetPath+"~"); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Rename(tmp, ef.targetPath); err != nil {
		return err
	}
	if err := os.Remove(ef.targetPath + "~"); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
