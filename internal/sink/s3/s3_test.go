package s3

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/patchgridgo/internal/geo"
	"github.com/vk/patchgridgo/internal/imagery"
	"github.com/vk/patchgridgo/internal/metrics"
	"github.com/vk/patchgridgo/internal/sink"
	"github.com/vk/patchgridgo/internal/testutil"
)

type fakeS3 struct {
	mu          sync.Mutex
	objects     map[string][]byte
	types       map[string]string
	headErr     error
	createErr   error
	created     []string
	putFailures map[string]error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte), types: make(map[string]string), putFailures: make(map[string]error)}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Key)
	if err := f.putFailures[key]; err != nil {
		return nil, err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+key] = data
	f.types[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, f.headErr
}

func (f *fakeS3) CreateBucket(_ context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, aws.ToString(in.Bucket))
	return &s3.CreateBucketOutput{}, f.createErr
}

func (f *fakeS3) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.objects))
	for k := range f.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func raster() *imagery.Raster {
	r := imagery.NewRaster(2, 2, []string{"B04"})
	r.Bounds = orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{20, 20}}
	r.CRS = geo.Zone{Number: 33}.CRS()
	return r
}

func TestSave_UploadsPatchObjects(t *testing.T) {
	// Arrange
	ctx, _ := testutil.LogContext(t)
	api := newFakeS3()
	s, err := New(api, "patches", "/runs/2024/", WithMetrics(metrics.New()))
	require.NoError(t, err)

	// Act
	err = s.Save(ctx, "patch_3", raster())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []string{
		"patches/runs/2024/patch_3/B04.tif",
		"patches/runs/2024/patch_3/mask.tif",
		"patches/runs/2024/patch_3/meta.yaml",
	}, api.keys())
	assert.Equal(t, "application/yaml", api.types["runs/2024/patch_3/meta.yaml"])
}

func TestSave_PropagatesUploadErrors(t *testing.T) {
	api := newFakeS3()
	api.putFailures["patch_3/mask.tif"] = errors.New("connection reset")
	s, err := New(api, "patches", "")
	require.NoError(t, err)

	err = s.Save(context.Background(), "patch_3", raster())

	assert.ErrorContains(t, err, "failed to put object patch_3/mask.tif in bucket patches")
	assert.NotContains(t, api.keys(), "patches/patch_3/meta.yaml")
}

func TestSave_RejectsInvalidInput(t *testing.T) {
	s, err := New(newFakeS3(), "patches", "")
	require.NoError(t, err)

	assert.ErrorIs(t, s.Save(context.Background(), "a/b", raster()), sink.ErrInvalidName)
	assert.ErrorIs(t, s.Save(context.Background(), "patch_0", nil), imagery.ErrInvalidRaster)
}

func TestNew_RequiresBucket(t *testing.T) {
	_, err := New(newFakeS3(), "", "x")
	assert.Error(t, err)
}

func TestEnsureBucket(t *testing.T) {
	tests := []struct {
		name        string
		headErr     error
		createErr   error
		wantCreated bool
		wantErr     bool
	}{
		{name: "exists"},
		{name: "missing typed", headErr: &types.NotFound{}, wantCreated: true},
		{name: "missing generic", headErr: &smithy.GenericAPIError{Code: "NoSuchBucket"}, wantCreated: true},
		{name: "already owned", headErr: &types.NotFound{}, createErr: &types.BucketAlreadyOwnedByYou{}, wantCreated: true},
		{name: "create fails", headErr: &types.NotFound{}, createErr: errors.New("denied"), wantCreated: true, wantErr: true},
		{name: "head fails", headErr: &smithy.GenericAPIError{Code: "AccessDenied"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeS3()
			api.headErr = tt.headErr
			api.createErr = tt.createErr
			s, err := New(api, "patches", "")
			require.NoError(t, err)

			err = s.EnsureBucket(context.Background())

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCreated, len(api.created) == 1)
		})
	}
}

func TestIsNotFoundError(t *testing.T) {
	assert.True(t, isNotFoundError(&types.NoSuchBucket{}))
	assert.True(t, isNotFoundError(&smithy.GenericAPIError{Code: "404"}))
	assert.False(t, isNotFoundError(errors.New("boom")))
	assert.False(t, isNotFoundError(nil))
}
