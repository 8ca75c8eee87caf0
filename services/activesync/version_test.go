package activesync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect_PicksHighestAdvertisedVersion(t *testing.T) {
	// Arrange
	var probes int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&probes, 1)
		assert.Equal(t, http.MethodOptions, r.Method)
		w.Header().Set("MS-ASProtocolVersions", "2.5,12.0,12.1,14.0,14.1")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(testAccount(server.URL), &fakeNegotiator{}, getLogger())

	// Act
	version, err := client.Detect(context.Background())

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, "14.1", version)
	assert.True(t, client.IsDetected())
	assert.Equal(t, "14.1", client.Version())

	// detection is cached per connection
	_, err = client.Detect(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, int32(1), probes)
}

func TestDetect_MissingHeaderFallsBackConservative(t *testing.T) {
	// Arrange
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(testAccount(server.URL), &fakeNegotiator{}, getLogger())

	// Act
	version, err := client.Detect(context.Background())

	// Assert: the error is reported but the caller can proceed
	assert.Error(t, err)
	assert.Equal(t, ConservativeVersion, version)
	assert.False(t, client.IsDetected())
	assert.Equal(t, ConservativeVersion, client.Version())
}

func TestDetect_UnreachableServerFallsBackConservative(t *testing.T) {
	// Arrange
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := NewClient(testAccount(server.URL), &fakeNegotiator{}, getLogger())

	// Act
	version, err := client.Detect(context.Background())

	// Assert
	assert.Error(t, err)
	assert.Equal(t, ConservativeVersion, version)
}

func TestHighestVersion(t *testing.T) {
	assert.Equal(t, "14.1", highestVersion("2.5,12.0,14.1,14.0"))
	assert.Equal(t, "16.1", highestVersion(" 12.1 , 16.1 "))
	assert.Equal(t, ConservativeVersion, highestVersion("garbage,more garbage"))
	assert.Equal(t, ConservativeVersion, highestVersion(""))
}

func TestSupportsNativeItemSync(t *testing.T) {
	assert.True(t, SupportsNativeItemSync("14.0"))
	assert.True(t, SupportsNativeItemSync("14.1"))
	assert.True(t, SupportsNativeItemSync("16.1"))
	assert.False(t, SupportsNativeItemSync("12.1"))
	assert.False(t, SupportsNativeItemSync("2.5"))
	assert.False(t, SupportsNativeItemSync("not a version"))
}
