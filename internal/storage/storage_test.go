package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/delivery-stats/internal/domain"
	"github.com/ignite/delivery-stats/internal/session"
)

var (
	_ session.CredentialStore = (*AWSStorage)(nil)
	_ session.CredentialStore = (*FileCredentialStore)(nil)
	_ session.Mirror          = (*CredentialMirror)(nil)
)

var issued = time.Date(2024, time.September, 10, 8, 0, 0, 0, time.UTC)

type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
	err   error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func itemKey(m map[string]types.AttributeValue) string {
	pk := m["PK"].(*types.AttributeValueMemberS).Value
	sk := m["SK"].(*types.AttributeValueMemberS).Value
	return pk + "|" + sk
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &dynamodb.GetItemOutput{Item: f.items[itemKey(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.items[itemKey(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func TestDynamoCredentialRoundTrip(t *testing.T) {
	db := newFakeDynamo()
	st := NewAWSStorageWithClients(db, nil, "credentials", "")
	ctx := context.Background()

	_, found, err := st.Load(ctx, "A", domain.PlatformGrab)
	require.NoError(t, err)
	assert.False(t, found)

	cred := domain.Credential{AccessToken: "at", RefreshToken: "rt", ClientID: "cid", Password: "secret", UpdatedAt: issued}
	require.NoError(t, st.Save(ctx, "A", domain.PlatformGrab, cred))

	got, found, err := st.Load(ctx, "A", domain.PlatformGrab)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "at", got.AccessToken)
	assert.Equal(t, "rt", got.RefreshToken)
	assert.Equal(t, "cid", got.ClientID)
	assert.Empty(t, got.Password)
	assert.True(t, issued.Equal(got.UpdatedAt))

	_, found, err = st.Load(ctx, "A", domain.PlatformGojek)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDynamoErrorsAreWrapped(t *testing.T) {
	db := newFakeDynamo()
	db.err = errors.New("ProvisionedThroughputExceeded")
	st := NewAWSStorageWithClients(db, nil, "credentials", "")

	err := st.Save(context.Background(), "A", domain.PlatformGrab, domain.Credential{})
	assert.ErrorContains(t, err, "ProvisionedThroughputExceeded")
	_, _, err = st.Load(context.Background(), "A", domain.PlatformGrab)
	assert.Error(t, err)
}

func TestS3RoundTrip(t *testing.T) {
	s3c := &fakeS3{objects: make(map[string][]byte)}
	st := NewAWSStorageWithClients(nil, s3c, "", "archive")

	payload := map[string]int{"rows": 3}
	require.NoError(t, st.SaveToS3(context.Background(), "exports/a.json", payload))

	var got map[string]int
	require.NoError(t, st.GetFromS3(context.Background(), "exports/a.json", &got))
	assert.Equal(t, payload, got)

	assert.Error(t, st.GetFromS3(context.Background(), "missing.json", &got))
}

func TestFileCredentialStoreSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "credentials.yaml")
	ctx := context.Background()

	first := NewFileCredentialStore(path)
	_, found, err := first.Load(ctx, "A", domain.PlatformGrab)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, first.Save(ctx, "A", domain.PlatformGrab, domain.Credential{AccessToken: "at", RefreshToken: "rt", Password: "pw", UpdatedAt: issued}))
	require.NoError(t, first.Save(ctx, "A", domain.PlatformGojek, domain.Credential{RefreshToken: "rt2", ClientID: "go-cid"}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "pw")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// A new process sees what the old one saved.
	second := NewFileCredentialStore(path)
	got, found, err := second.Load(ctx, "A", domain.PlatformGrab)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "rt", got.RefreshToken)
	assert.True(t, issued.Equal(got.UpdatedAt))

	got, found, err = second.Load(ctx, "A", domain.PlatformGojek)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "go-cid", got.ClientID)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFileCredentialStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.yaml")
	require.NoError(t, os.WriteFile(path, []byte("::: not yaml"), 0o600))

	_, _, err := NewFileCredentialStore(path).Load(context.Background(), "A", domain.PlatformGrab)
	assert.Error(t, err)
}

func TestCredentialMirror(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	m := NewCredentialMirror(client, time.Hour)
	ctx := context.Background()

	_, found, err := m.Get(ctx, "A", domain.PlatformGojek)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, m.Mirror(ctx, "A", domain.PlatformGojek, domain.Credential{AccessToken: "at", RefreshToken: "rt", Password: "pw"}))

	got, found, err := m.Get(ctx, "A", domain.PlatformGojek)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "rt", got.RefreshToken)
	assert.Empty(t, got.Password)
	assert.Equal(t, time.Hour, mr.TTL("collector:credential:A:gojek"))
}
