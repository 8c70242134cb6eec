/*
Package archive extracts extension packages into staging directories.

# Container Kinds

Two layouts are accepted, detected by magic bytes rather than file
extension: a plain ZIP archive, and a signed container consisting of a
binary header (magic, format version, length-prefixed public-key and
signature blocks) followed by the ZIP payload. The header is decoded
structurally; signature verification is a pluggable Verifier and the
default policy accepts everything.

# Safety

Extraction defends against hostile packages:

  - Entry paths are re-rooted and checked against the staging directory;
    any escape attempt aborts the whole extraction.
  - Entry count and decompressed size are capped. Declared sizes are
    checked up front and actual output is metered during the copy, so a
    lying archive directory cannot bypass the ceiling.
  - Every failure path removes the partial staging directory via the
    Workdir guard.

# Usage

	ex := archive.NewExtractor(stagingRoot, archive.Limits{
	    MaxEntries: 4096,
	    MaxBytes:   256 << 20,
	}, nil, log)

	pkg, err := ex.Extract(ctx, "/downloads/notes.crx")
	if err != nil {
	    return err
	}
	defer pkg.Workdir.Close()
*/
package archive
