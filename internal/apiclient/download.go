package apiclient

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"strings"
)

var contentTypeExtensions = map[string]string{
	"application/pdf": "pdf",
	"image/png":       "png",
	"image/jpeg":      "jpg",
	"image/gif":       "gif",
	"image/svg+xml":   "svg",
	"video/mp4":       "mp4",
	"application/zip": "zip",
	"text/html":       "html",
}

// UnsupportedContentTypeError is returned when a download's content type has
// no known file extension.
type UnsupportedContentTypeError struct {
	ContentType string
}

func (e *UnsupportedContentTypeError) Error() string {
	return fmt.Sprintf("unsupported content type %q", e.ContentType)
}

// Download is a fetched binary payload
type Download struct {
	Extension   string
	ContentType string
	Data        []byte
}

// ExtensionForContentType maps a Content-Type header value to a file extension
func ExtensionForContentType(contentType string) (string, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	ext, ok := contentTypeExtensions[mediaType]
	if !ok {
		return "", &UnsupportedContentTypeError{ContentType: contentType}
	}
	return ext, nil
}

// Download issues an authorized GET and returns the body together with the
// extension derived from its content type.
func (c *Client) Download(ctx context.Context, url string) (*Download, error) {
	resp, err := c.do(ctx, http.MethodGet, url, nil, "")
	if err != nil {
		return nil, err
	}

	contentType := resp.Header.Get("Content-Type")
	ext, err := ExtensionForContentType(contentType)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}

	data, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("url", url).
		Str("content_type", contentType).
		Int("bytes", len(data)).
		Msg("Downloaded binary payload")

	return &Download{Extension: ext, ContentType: contentType, Data: data}, nil
}
