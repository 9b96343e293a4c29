package address

import (
	"crypto/md5"
	"fmt"

	"github.com/mr-tron/base58"
)

// Variant names a rendering of a page image derived from the same source page.
type Variant string

const (
	// VariantMain is the full resolution page image.
	VariantMain Variant = "main"
	// VariantPreview is the downscaled thumbnail.
	VariantPreview Variant = "preview"
)

// Digest computes the content address of a byte buffer: the MD5 of the exact
// encoded bytes, base58 encoded so it is filesystem and URL safe.
func Digest(data []byte) string {
	sum := md5.Sum(data)
	return base58.Encode(sum[:])
}

// Key derives the storage key for a digest and variant. The key is built only
// from the digest and variant, never from the upload identifier, so identical
// page images from different uploads collapse to one stored object.
func Key(digest string, variant Variant) string {
	if variant == VariantPreview {
		return fmt.Sprintf("pages/%s-preview.jpeg", digest)
	}
	return fmt.Sprintf("pages/%s.jpeg", digest)
}
