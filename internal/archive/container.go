package archive

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/gabriel-vasile/mimetype"
	"github.com/jmgilman/go/errors"

	"github.com/skiff-browser/exthost/internal/shared/faults"
)

// Kind discriminates the supported container layouts.
type Kind string

const (
	// KindPlain is a bare ZIP archive.
	KindPlain Kind = "plain"
	// KindSigned is a signed container: a binary header followed by the
	// ZIP payload.
	KindSigned Kind = "signed"
)

const (
	mimeSigned = "application/x-chrome-extension"
	mimeZIP    = "application/zip"

	// signedVersion is the only header layout this host understands:
	// magic, version, then length-prefixed public-key and signature blocks.
	signedVersion = 2

	// headerSize is the fixed portion of the signed header.
	headerSize = 16

	// maxBlockLen caps the declared key/signature block lengths. Anything
	// larger is treated as a malformed header rather than allocated.
	maxBlockLen = 1 << 20
)

var signedMagic = []byte{'C', 'r', '2', '4'}

func init() {
	mimetype.Extend(func(raw []byte, limit uint32) bool {
		return len(raw) >= len(signedMagic) && bytes.Equal(raw[:len(signedMagic)], signedMagic)
	}, mimeSigned, ".crx")
}

// Container describes a sniffed package file. For signed containers the
// key and signature blocks are captured but not verified; Offset is where
// the archive payload begins.
type Container struct {
	Kind      Kind
	Version   uint32
	PublicKey []byte
	Signature []byte
	Offset    int64
}

// Sniff detects the container kind from file content. The file extension
// is never trusted; detection reads magic bytes only.
func Sniff(path string) (*Container, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, errors.Wrap(err, faults.FilesystemFailure, "failed to read package file")
	}

	switch {
	case mtype.Is(mimeSigned):
		return sniffSigned(path)
	case mtype.Is(mimeZIP):
		return &Container{Kind: KindPlain}, nil
	default:
		return nil, errors.WithContext(
			errors.New(faults.InvalidArchive, "unsupported container format"),
			"detected", mtype.String())
	}
}

// sniffSigned decodes the signed-container header. All length fields are
// little-endian. A header that is truncated or declares implausible block
// lengths is malformed, never a crash.
func sniffSigned(path string) (*Container, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, faults.FilesystemFailure, "failed to open package file")
	}
	defer f.Close()

	var hdr struct {
		Magic   [4]byte
		Version uint32
		KeyLen  uint32
		SigLen  uint32
	}
	if err := binary.Read(f, binary.LittleEndian, &hdr); err != nil {
		return nil, errors.Wrap(err, faults.InvalidArchive, "truncated container header")
	}
	if !bytes.Equal(hdr.Magic[:], signedMagic) {
		return nil, errors.New(faults.InvalidArchive, "container magic mismatch")
	}
	if hdr.Version != signedVersion {
		return nil, errors.WithContext(
			errors.New(faults.InvalidArchive, "unsupported container version"),
			"version", hdr.Version)
	}
	if hdr.KeyLen == 0 || hdr.KeyLen > maxBlockLen {
		return nil, errors.WithContext(
			errors.New(faults.InvalidArchive, "implausible public key block length"),
			"length", hdr.KeyLen)
	}
	if hdr.SigLen == 0 || hdr.SigLen > maxBlockLen {
		return nil, errors.WithContext(
			errors.New(faults.InvalidArchive, "implausible signature block length"),
			"length", hdr.SigLen)
	}

	key := make([]byte, hdr.KeyLen)
	if _, err := io.ReadFull(f, key); err != nil {
		return nil, errors.Wrap(err, faults.InvalidArchive, "truncated public key block")
	}
	sig := make([]byte, hdr.SigLen)
	if _, err := io.ReadFull(f, sig); err != nil {
		return nil, errors.Wrap(err, faults.InvalidArchive, "truncated signature block")
	}

	return &Container{
		Kind:      KindSigned,
		Version:   hdr.Version,
		PublicKey: key,
		Signature: sig,
		Offset:    int64(headerSize) + int64(hdr.KeyLen) + int64(hdr.SigLen),
	}, nil
}
