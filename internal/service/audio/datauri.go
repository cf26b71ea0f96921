package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"strings"
)

// ErrInvalidDataURI is returned for URIs that are not base64 data URIs.
var ErrInvalidDataURI = errors.New("audio: invalid data URI")

// DataURI encodes data as "data:<mediaType>;base64,<payload>".
func DataURI(mediaType string, data []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// Media is a decoded data URI.
type Media struct {
	MediaType string
	Params    map[string]string
	Data      []byte
}

// ParseDataURI decodes a base64 data URI. The media type is lower-cased and
// its parameters (e.g. "rate=24000") are returned separately.
func ParseDataURI(uri string) (*Media, error) {
	if !strings.HasPrefix(uri, "data:") {
		return nil, fmt.Errorf("%w: missing data: scheme", ErrInvalidDataURI)
	}
	meta, payload, ok := strings.Cut(uri[len("data:"):], ",")
	if !ok {
		return nil, fmt.Errorf("%w: missing payload separator", ErrInvalidDataURI)
	}
	meta, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return nil, fmt.Errorf("%w: payload is not base64", ErrInvalidDataURI)
	}

	m := &Media{Params: map[string]string{}}
	if meta != "" {
		mt, params, err := mime.ParseMediaType(meta)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDataURI, err)
		}
		m.MediaType = mt
		m.Params = params
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataURI, err)
	}
	m.Data = data
	return m, nil
}
