package s3store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/phrazzld/report-api/internal/blob"
	"github.com/phrazzld/report-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	objects     map[string][]byte
	contentType string
	fail        error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	f.contentType = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestStore_RoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := &fakeS3{objects: map[string][]byte{}}
	s := NewWithClient(fake, "reports-bucket")

	obj, err := s.Put(ctx, []byte(`{"rows":[]}`), blob.KeyHints{
		ReportType: "activity-export",
		JobID:      uuid.New(),
		Format:     domain.FormatJSON,
	})
	require.NoError(t, err)
	assert.Equal(t, "s3://reports-bucket/"+obj.Key, obj.URL)
	assert.Equal(t, "application/json", fake.contentType)

	data, err := s.Get(ctx, obj.Key)
	require.NoError(t, err)
	assert.Equal(t, `{"rows":[]}`, string(data))

	require.NoError(t, s.Delete(ctx, obj.Key))
	_, err = s.Get(ctx, obj.Key)
	assert.ErrorIs(t, err, blob.ErrObjectNotFound)
}

func TestStore_Errors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := &fakeS3{objects: map[string][]byte{}, fail: errors.New("access denied")}
	s := NewWithClient(fake, "b")

	_, err := s.Put(ctx, []byte("x"), blob.KeyHints{ReportType: "r", JobID: uuid.New(), Format: domain.FormatCSV})
	assert.ErrorContains(t, err, "access denied")

	_, err = s.Get(ctx, "secrets/creds.csv")
	assert.ErrorIs(t, err, blob.ErrInvalidReference)
}
