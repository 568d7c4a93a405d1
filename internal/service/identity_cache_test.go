package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/school-transfer-api/internal/models"
	appErrors "github.com/noah-isme/school-transfer-api/pkg/errors"
)

type memoryCache struct {
	entries map[string][]byte
}

func (m *memoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.entries[key] = raw
	return nil
}

type brokenStore struct{}

func (brokenStore) Get(ctx context.Context, key string, dest interface{}) error {
	return errors.New("connection refused")
}

func (brokenStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return errors.New("connection refused")
}

func TestCachedIdentityLookupServesRepeatLookupsFromCache(t *testing.T) {
	directory := &identityStub{
		schools:  map[string]models.SchoolIdentity{"school-a": {ID: "school-a", Name: "Lake Secondary", Active: true}},
		students: map[string]models.StudentIdentity{"student-1": {ID: "student-1", FullName: "Jane Doe"}},
	}
	metrics := NewMetricsService()
	lookup := NewCachedIdentityLookup(directory, &memoryCache{entries: map[string][]byte{}}, time.Minute, metrics, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		school, err := lookup.ResolveSchool(ctx, "school-a")
		require.NoError(t, err)
		assert.Equal(t, "Lake Secondary", school.Name)
	}
	assert.Equal(t, 1, directory.calls)

	student, err := lookup.ResolveStudent(ctx, "student-1")
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", student.FullName)
	_, err = lookup.ResolveStudent(ctx, "student-1")
	require.NoError(t, err)
	assert.Equal(t, 2, directory.calls)

	hits := testutil.ToFloat64(metrics.identityHits.WithLabelValues(identityKindSchool, "hit"))
	assert.Equal(t, float64(2), hits)
}

func TestCachedIdentityLookupDoesNotCacheAbsence(t *testing.T) {
	directory := &identityStub{schools: map[string]models.SchoolIdentity{}}
	lookup := NewCachedIdentityLookup(directory, &memoryCache{entries: map[string][]byte{}}, time.Minute, nil, nil)
	ctx := context.Background()

	school, err := lookup.ResolveSchool(ctx, "school-new")
	require.NoError(t, err)
	assert.Nil(t, school)

	directory.schools["school-new"] = models.SchoolIdentity{ID: "school-new", Name: "New School", Active: true}
	school, err = lookup.ResolveSchool(ctx, "school-new")
	require.NoError(t, err)
	require.NotNil(t, school)
	assert.Equal(t, "New School", school.Name)
}

func TestCachedIdentityLookupPassesThrough(t *testing.T) {
	cases := map[string]IdentityStore{
		"no store":     nil,
		"broken store": brokenStore{},
	}
	for name, store := range cases {
		t.Run(name, func(t *testing.T) {
			directory := &identityStub{schools: map[string]models.SchoolIdentity{"school-a": {ID: "school-a", Name: "Lake Secondary"}}}
			lookup := NewCachedIdentityLookup(directory, store, 0, nil, nil)

			for i := 0; i < 2; i++ {
				school, err := lookup.ResolveSchool(context.Background(), "school-a")
				require.NoError(t, err)
				assert.Equal(t, "Lake Secondary", school.Name)
			}
			assert.Equal(t, 2, directory.calls)
		})
	}
}
