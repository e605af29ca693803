package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"log/slog"
	"path"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	// PhotosDir holds uploaded profile photos.
	PhotosDir = "photos/"
	// ThumbPrefix marks derived thumbnails.
	ThumbPrefix = "thumb_"

	thumbSize   = 200
	jpegQuality = 85
)

// ResourceNotExists is the resource state of deletion events.
const ResourceNotExists = "not_exists"

// Event is an object change notification from the bucket.
type Event struct {
	Name          string `json:"name"`
	ContentType   string `json:"contentType"`
	ResourceState string `json:"resourceState"`
}

// ThumbKey is the key of the thumbnail derived from the photo at key.
func ThumbKey(key string) string {
	dir, file := path.Split(key)
	base := strings.TrimSuffix(file, path.Ext(file))
	return dir + ThumbPrefix + base + ".jpg"
}

// PhotoKey is the key of the profile thumbnail of a member.
func PhotoKey(id string) string {
	return ThumbKey(PhotosDir + id + ".jpg")
}

// Thumbnailer derives square JPEG thumbnails of uploaded photos.
type Thumbnailer struct {
	objects ObjectStore
	logger  *slog.Logger
}

// NewThumbnailer constructs a thumbnailer over objects.
func NewThumbnailer(objects ObjectStore, logger *slog.Logger) *Thumbnailer {
	return &Thumbnailer{objects: objects, logger: logger}
}

// skip returns why ev needs no thumbnail, or "".
func skip(ev Event) string {
	_, file := path.Split(ev.Name)
	switch {
	case !strings.HasPrefix(ev.Name, PhotosDir):
		return "not a photo"
	case !strings.HasPrefix(ev.ContentType, "image/"):
		return "not an image"
	case strings.HasPrefix(file, ThumbPrefix):
		return "already a thumbnail"
	case ev.ResourceState == ResourceNotExists:
		return "deletion event"
	}
	return ""
}

// Process uploads the thumbnail of the photo named by ev and returns its key.
// Events that need no thumbnail return an empty key and no error.
func (t *Thumbnailer) Process(ctx context.Context, ev Event) (string, error) {
	if reason := skip(ev); reason != "" {
		t.logger.Debug("media.skipped", slog.String("object", ev.Name), slog.String("reason", reason))
		return "", nil
	}

	body, err := t.objects.Get(ctx, ev.Name)
	if err != nil {
		return "", err
	}
	defer body.Close()

	src, format, err := image.Decode(body)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", ev.Name, err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Thumbnail(src, thumbSize), &jpeg.Options{Quality: jpegQuality}); err != nil {
		return "", fmt.Errorf("encode thumbnail: %w", err)
	}
	key := ThumbKey(ev.Name)
	if err := t.objects.Put(ctx, key, bytes.NewReader(buf.Bytes()), "image/jpeg"); err != nil {
		return "", err
	}
	t.logger.Info("media.thumbnail_created", slog.String("object", ev.Name), slog.String("format", format), slog.String("thumbnail", key))
	return key, nil
}

// Thumbnail scales src to cover a size×size square and crops the centre.
func Thumbnail(src image.Image, size int) image.Image {
	b := src.Bounds()
	side := min(b.Dx(), b.Dy())
	x0 := b.Min.X + (b.Dx()-side)/2
	y0 := b.Min.Y + (b.Dy()-side)/2
	crop := image.Rect(x0, y0, x0+side, y0+side)

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, crop, draw.Src, nil)
	return dst
}
