package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjects struct {
	buckets map[string]bool
	objects map[string][]byte
	types   map[string]string
	removed []string
	putErr  error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{buckets: map[string]bool{}, objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeObjects) BucketExists(_ context.Context, bucket string) (bool, error) {
	return f.buckets[bucket], nil
}

func (f *fakeObjects) MakeBucket(_ context.Context, bucket string, _ minio.MakeBucketOptions) error {
	f.buckets[bucket] = true
	return nil
}

func (f *fakeObjects) PutObject(_ context.Context, _ string, object string, reader io.Reader, _ int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.objects[object] = data
	f.types[object] = opts.ContentType
	return minio.UploadInfo{Key: object, Size: int64(len(data))}, nil
}

func (f *fakeObjects) PresignedGetObject(_ context.Context, bucket, object string, expiry time.Duration, params url.Values) (*url.URL, error) {
	u := &url.URL{Scheme: "https", Host: "objects.test", Path: "/" + bucket + "/" + object}
	q := url.Values{}
	q.Set("X-Amz-Expires", expiry.String())
	for k, v := range params {
		q[k] = v
	}
	u.RawQuery = q.Encode()
	return u, nil
}

func (f *fakeObjects) RemoveObject(_ context.Context, _ string, object string, _ minio.RemoveObjectOptions) error {
	f.removed = append(f.removed, object)
	delete(f.objects, object)
	return nil
}

func TestEnsureBucketCreatesMissingBucket(t *testing.T) {
	objects := newFakeObjects()
	store := newStore(objects, "attachments")
	require.NoError(t, store.ensureBucket(context.Background()))
	assert.True(t, objects.buckets["attachments"])
}

func TestPutStoresAllowedAttachment(t *testing.T) {
	objects := newFakeObjects()
	store := newStore(objects, "attachments")

	body := []byte("%PDF-1.4 evidence")
	key, err := store.Put(context.Background(), Upload{
		ReportID:    "rep_1",
		Filename:    "bank statement.pdf",
		ContentType: "application/pdf; charset=binary",
		Size:        int64(len(body)),
		Body:        bytes.NewReader(body),
	})
	require.NoError(t, err)
	assert.Equal(t, "reports/rep_1/bank-statement.pdf", key)
	assert.Equal(t, body, objects.objects[key])
	assert.Equal(t, "application/pdf", objects.types[key])
}

func TestPutRejectsOversizedAndUnknownTypes(t *testing.T) {
	store := newStore(newFakeObjects(), "attachments")

	_, err := store.Put(context.Background(), Upload{ReportID: "rep_1", ContentType: "image/png", Size: MaxAttachmentSize + 1, Body: strings.NewReader("")})
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = store.Put(context.Background(), Upload{ReportID: "rep_1", ContentType: "application/x-msdownload", Size: 4, Body: strings.NewReader("MZ..")})
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestPutWrapsBackendError(t *testing.T) {
	objects := newFakeObjects()
	objects.putErr = errors.New("disk full")
	store := newStore(objects, "attachments")

	_, err := store.Put(context.Background(), Upload{ReportID: "rep_1", Filename: "a.txt", ContentType: "text/plain", Size: 1, Body: strings.NewReader("a")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "put attachment")
}

func TestPresignedURL(t *testing.T) {
	store := newStore(newFakeObjects(), "attachments")

	raw, err := store.PresignedURL(context.Background(), "reports/rep_1/photo.png")
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/attachments/reports/rep_1/photo.png", u.Path)
	assert.Equal(t, `attachment; filename="photo.png"`, u.Query().Get("response-content-disposition"))

	empty, err := store.PresignedURL(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestNilStoreIsUnavailable(t *testing.T) {
	var store *Store
	_, err := store.Put(context.Background(), Upload{})
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.NoError(t, store.Remove(context.Background(), "x"))
}

func TestObjectKeySanitizesFilename(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"../../etc/passwd.txt", "reports/rep_9/passwd.txt"},
		{`C:\Users\me\photo 1.png`, "reports/rep_9/photo-1.png"},
		{"???.png", "reports/rep_9/attachment.png"},
	}
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			ext := tt.want[strings.LastIndex(tt.want, "."):]
			assert.Equal(t, tt.want, ObjectKey("rep_9", tt.filename, ext))
		})
	}
}
