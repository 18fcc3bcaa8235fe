package tracker

import (
	"net/http"

	"github.com/dunglas/httpsfv"
)

// MarkerHeader tags requests issued by the pipeline itself so the
// interceptor never re-classifies its own follow-up calls.
// The value is an RFC 8941 Dictionary: source=internal.
const MarkerHeader = "Datalayer-Request"

const markerSource = "internal"

// MarkInternal tags req as pipeline-issued.
func MarkInternal(req *http.Request) {
	dict := httpsfv.NewDictionary()
	dict.Add("source", httpsfv.NewItem(httpsfv.Token(markerSource)))

	value, err := httpsfv.Marshal(dict)
	if err != nil {
		// Static dictionary; marshal cannot fail.
		value = "source=" + markerSource
	}
	req.Header.Set(MarkerHeader, value)
}

// IsInternal reports whether req carries the internal marker.
// Malformed marker headers count as not internal.
func IsInternal(req *http.Request) bool {
	header := req.Header.Get(MarkerHeader)
	if header == "" {
		return false
	}

	dict, err := httpsfv.UnmarshalDictionary([]string{header})
	if err != nil {
		return false
	}

	member, ok := dict.Get("source")
	if !ok {
		return false
	}
	item, ok := member.(httpsfv.Item)
	if !ok {
		return false
	}
	token, ok := item.Value.(httpsfv.Token)
	return ok && string(token) == markerSource
}
