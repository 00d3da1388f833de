package vectorstore

import (
	"fmt"
	"strconv"
	"strings"
)

// idSeparator joins document id and chunk index in a vector record id.
// Document ids may themselves contain the separator, so decoding always
// splits on the last occurrence.
const idSeparator = ":"

// EncodeVectorID builds the record id for (documentID, chunkIndex).
func EncodeVectorID(documentID string, chunkIndex int) string {
	return documentID + idSeparator + strconv.Itoa(chunkIndex)
}

// DecodeVectorID reverses EncodeVectorID. It fails explicitly when the id
// has no separator or the suffix after the last separator is not a valid
// non-negative integer.
func DecodeVectorID(id string) (documentID string, chunkIndex int, err error) {
	sep := strings.LastIndex(id, idSeparator)
	if sep < 0 {
		return "", 0, fmt.Errorf("vector id %q: missing separator", id)
	}

	suffix := id[sep+len(idSeparator):]
	idx, err := strconv.Atoi(suffix)
	if err != nil || idx < 0 {
		return "", 0, fmt.Errorf("vector id %q: invalid chunk index %q", id, suffix)
	}

	return id[:sep], idx, nil
}
