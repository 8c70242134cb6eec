package archive

import "io"

// Verifier checks a signed container's signature against its payload.
// Verification is a separately pluggable step: the default host policy
// accepts every container after structurally decoding the header, since
// sideloaded packages have no trust anchor to verify against.
type Verifier interface {
	Verify(c *Container, payload io.ReaderAt, size int64) error
}

type acceptAll struct{}

func (acceptAll) Verify(*Container, io.ReaderAt, int64) error { return nil }

// AcceptAll returns the default verifier, which consumes signature data
// without validating it.
func AcceptAll() Verifier { return acceptAll{} }
