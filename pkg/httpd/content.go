package httpd

import (
	"errors"
	"io"

	"github.com/shapestone/shape-httpd/pkg/mime"
	"github.com/shapestone/shape-httpd/pkg/resource"
	"github.com/shapestone/shape-httpd/pkg/status"
)

// RedirectResource returns a raw Static resource that answers from with a
// permanent redirect to to, typically "/" to the device's start page.
func RedirectResource(from, to string) Resource {
	data := "HTTP/1.1 301 Moved Permanently\r\n" +
		"Location: " + to + "\r\n" +
		"Content-Length: 0\r\n" +
		"\r\n"
	return Resource{
		Path: from,
		Kind: KindStatic,
		Raw:  true,
		Data: []byte(data),
	}
}

// StoreHandler serves content from store. With an empty key the request
// path is used as the key, so one pattern resource can serve a whole
// directory of stored content. Missing content is answered with 404.
//
// A PUT stores the request body under the key and answers 204, so the
// resource must list MethodPut to accept uploads.
func StoreHandler(store resource.Store, key string) Handler {
	return HandlerFunc(func(req *Request, resp *ResponseStream) error {
		k := key
		if k == "" {
			k = req.Path
		}
		if req.Method == MethodPut {
			data, err := io.ReadAll(req.Body)
			if err != nil {
				return err
			}
			if err := store.Put(k, data); err != nil {
				return err
			}
			return resp.WriteHeader(status.NoContent, 0, CacheDisabled, mime.Plain)
		}
		data, err := store.Get(k)
		if errors.Is(err, resource.ErrNotFound) {
			return status.Errorf(status.NotFound, "content %q not stored", k)
		}
		if err != nil {
			return err
		}
		return resp.WriteContent(data)
	})
}
