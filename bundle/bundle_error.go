package bundle

// bundleError is a simple error-struct.
type bundleError struct {
	msg string
}

// newBundleError creates a new bundleError with the given message.
func newBundleError(msg string) *bundleError {
	return &bundleError{msg}
}

func (e bundleError) Error() string {
	return e.msg
}

// Sentinel errors for the decode/encode pipeline.
var (
	// ErrUnsupported is returned by Decode when byte 0 is not the RFC 5050
	// version 0x06.
	ErrUnsupported = &bundleError{"bundle: unsupported version byte"}

	// ErrUnsupportedDict is returned by Decode when the dictionary length
	// field is non-zero; this codec only understands CBHE (no dictionary).
	ErrUnsupportedDict = &bundleError{"bundle: non-zero dictionary length"}

	// ErrTruncated is returned when a declared length runs past the end of
	// the supplied buffer, for both primary-block and extension-block
	// decoding, and EID decoding.
	ErrTruncated = &bundleError{"bundle: truncated input"}

	// ErrLengthMismatch is returned when the primary block's declared
	// block_length does not match the bytes actually consumed.
	ErrLengthMismatch = &bundleError{"bundle: primary block length mismatch"}

	// ErrNoPayload is returned by Encode/checkValid when a bundle has no
	// payload block.
	ErrNoPayload = &bundleError{"bundle: no payload block"}

	// ErrExpired is returned by operations that refuse to act on a bundle
	// whose age has exceeded its lifetime.
	ErrExpired = &bundleError{"bundle: expired"}
)
