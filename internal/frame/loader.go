// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package frame

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"golang.org/x/image/draw"
)

// LoadError is the error returned when a frame could not be fetched or
// decoded.
type LoadError struct {
	URL string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.URL, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Loader loads named frames. A frame's address is
//
//	ResourcePath + name + "." + Extension
//
// resolved against Base if it is not nil. Addresses with an http or https
// scheme are fetched using Client. Addresses without a scheme or with a
// file scheme are read from FS.
type Loader struct {
	// ResourcePath is the prefix for all frame addresses. It is
	// expected to end with a path separator.
	ResourcePath string
	// Extension is the resource extension without a leading dot.
	Extension string

	// Base is the base URL for relative addresses.
	Base *url.URL
	// Client is the HTTP client used for network fetches. If Client
	// is nil, the path of a network address is read from FS.
	Client *http.Client
	// FS is the file system used for plain reads. If FS is nil, the
	// current working directory is used.
	FS fs.FS

	// Element disables conversion of decoded images to *image.RGBA.
	Element bool

	// Upload, if not nil, is called with each decoded image before
	// Load returns. The returned release function is registered with
	// the frame.
	Upload func(image.Image) (release func(), err error)

	Log *slog.Logger
}

// Address returns the unresolved address for the named frame.
func (l *Loader) Address(name string) string {
	return l.ResourcePath + name + "." + l.Extension
}

// Load fetches and fully decodes the named frame. Any error returned is
// a *LoadError.
func (l *Loader) Load(ctx context.Context, name string) (*Frame, error) {
	b, addr, err := l.read(ctx, l.Address(name))
	if err != nil {
		return nil, &LoadError{URL: addr, Err: err}
	}
	img, kind, err := l.decode(b)
	if err != nil {
		return nil, &LoadError{URL: addr, Err: err}
	}
	f := &Frame{Name: name, URL: addr, Image: img, Kind: kind}
	if l.Upload != nil {
		release, err := l.Upload(img)
		if err != nil {
			return nil, &LoadError{URL: addr, Err: fmt.Errorf("upload: %w", err)}
		}
		f.OnRelease(release)
	}
	if l.Log != nil {
		l.Log.LogAttrs(ctx, slog.LevelDebug, "loaded frame", slog.String("url", addr), slog.String("kind", kind.String()), slog.Any("bounds", img.Bounds()))
	}
	return f, nil
}

// read returns the raw bytes held at addr and the resolved address.
func (l *Loader) read(ctx context.Context, addr string) ([]byte, string, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, addr, err
	}
	if l.Base != nil {
		u = l.Base.ResolveReference(u)
	}
	switch u.Scheme {
	case "http", "https":
		if l.Client == nil {
			b, err := l.readFile(u.Path)
			return b, u.String(), err
		}
		b, err := l.fetch(ctx, u)
		return b, u.String(), err
	case "", "file":
		b, err := l.readFile(u.Path)
		return b, u.String(), err
	default:
		return nil, u.String(), fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
}

// fetch performs a GET request for u. No cache directives are set so that
// any HTTP caching in the client's transport path is reused.
func (l *Loader) fetch(ctx context.Context, u *url.URL) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || 300 <= resp.StatusCode {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("unexpected status: %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// readFile reads the file at p from the receiver's FS.
func (l *Loader) readFile(p string) ([]byte, error) {
	fsys := l.FS
	if fsys == nil {
		fsys = os.DirFS(".")
	}
	p = strings.TrimPrefix(path.Clean(p), "/")
	return fs.ReadFile(fsys, p)
}

// decode fully decodes b. Unless the receiver is an element loader, the
// result is converted to *image.RGBA.
func (l *Loader) decode(b []byte) (image.Image, Kind, error) {
	img, _, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, 0, err
	}
	if l.Element {
		return img, Element, nil
	}
	return toRGBA(img), Bitmap, nil
}

// toRGBA returns img as an *image.RGBA with a zero origin.
func toRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	if rgba, ok := img.(*image.RGBA); ok && b.Min == (image.Point{}) {
		return rgba
	}
	dst := image.NewRGBA(image.Rectangle{Max: b.Size()})
	draw.Copy(dst, image.Point{}, img, b, draw.Src, nil)
	return dst
}
