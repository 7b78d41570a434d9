package imap

import "github.com/emersion/go-imap/utf7"

// Folder names travel in the modified UTF-7 encoding of RFC 3501.
// These two helpers are the single place the engine converts between
// the wire form and the original characters. Decoding failures fall
// back to the raw encoded name rather than failing the operation.

// EncodeFolderName converts a folder name to its modified UTF-7 wire
// form. Names that cannot be encoded are returned unchanged.
func EncodeFolderName(name string) string {
	encoded, err := utf7.Encoding.NewEncoder().String(name)
	if err != nil {
		return name
	}
	return encoded
}

// DecodeFolderName converts a modified UTF-7 wire name back to the
// original characters, falling back to the raw name when the input is
// not valid modified UTF-7.
func DecodeFolderName(name string) string {
	decoded, err := utf7.Encoding.NewDecoder().String(name)
	if err != nil {
		return name
	}
	return decoded
}
