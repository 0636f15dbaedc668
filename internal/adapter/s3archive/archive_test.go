package s3archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"weatherdash/internal/domain"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUploader struct {
	in   *s3.PutObjectInput
	body []byte
	err  error
}

func (f *fakeUploader) Upload(_ context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	f.in = in
	f.body, _ = io.ReadAll(in.Body)
	if f.err != nil {
		return nil, f.err
	}
	return &manager.UploadOutput{Key: in.Key}, nil
}

func event() domain.SearchEvent {
	return domain.SearchEvent{
		RecordID:  uuid.MustParse("7d444840-9dc0-11d1-b245-5ffdce74fad2"),
		UserID:    12,
		Query:     "Lisbon",
		Result:    domain.AggregateResult{Weather: domain.WeatherReport{City: "Lisbon", Temperature: 19}},
		CreatedAt: time.Unix(1767225600, 0).UTC(),
	}
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "searches/12/1767225600-7d444840-9dc0-11d1-b245-5ffdce74fad2.json", ObjectKey(event()))
}

func TestArchive_Uploads(t *testing.T) {
	up := &fakeUploader{}
	a := &Archive{uploader: up, bucket: "history"}

	require.NoError(t, a.Archive(context.Background(), event()))
	assert.Equal(t, "history", aws.ToString(up.in.Bucket))
	assert.Equal(t, ObjectKey(event()), aws.ToString(up.in.Key))
	assert.Equal(t, "application/json", aws.ToString(up.in.ContentType))

	var got domain.SearchEvent
	require.NoError(t, json.Unmarshal(up.body, &got))
	assert.Equal(t, "Lisbon", got.Query)
	assert.Equal(t, 19, got.Result.Weather.Temperature)
}

func TestArchive_UploadError(t *testing.T) {
	cause := errors.New("access denied")
	a := &Archive{uploader: &fakeUploader{err: cause}, bucket: "history"}

	err := a.Archive(context.Background(), event())
	assert.ErrorIs(t, err, cause)
}
