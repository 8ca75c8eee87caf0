package activesync

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	syncerrors "exchangesync/internal/errors"
	"exchangesync/internal/models"
)

// fakeNegotiator hands out a fixed session token.
type fakeNegotiator struct {
	session string
	ok      bool
	calls   int32
}

func (f *fakeNegotiator) Negotiate(ctx context.Context, serverURL, username, domain, password string) (string, bool) {
	atomic.AddInt32(&f.calls, 1)
	return f.session, f.ok
}

func testAccount(serverURL string) *models.Account {
	return &models.Account{
		ID:         "acct1",
		ServerURL:  serverURL,
		Username:   "ada",
		Password:   "s3cret",
		Domain:     "CORP",
		DeviceID:   "device1234",
		DeviceType: "GoMail",
	}
}

func TestExecuteCommand_BasicAuthByDefault(t *testing.T) {
	// Arrange
	var gotAuth, gotVersion, gotURL string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotVersion = r.Header.Get("MS-ASProtocolVersion")
		gotURL = r.URL.String()
		w.Write([]byte("<Sync/>"))
	}))
	defer server.Close()

	client := NewClient(testAccount(server.URL), &fakeNegotiator{}, getLogger())

	// Act
	body, err := client.ExecuteCommand(context.Background(), "Sync", "<Sync/>")

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, "<Sync/>", body)
	expected := "Basic " + base64.StdEncoding.EncodeToString([]byte(`CORP\ada:s3cret`))
	assert.Equal(t, expected, gotAuth)
	assert.Equal(t, ConservativeVersion, gotVersion)
	assert.Contains(t, gotURL, "Cmd=Sync")
	assert.Contains(t, gotURL, "DeviceId=device1234")
}

func TestExecuteCommand_DeviceTypeDefaulted(t *testing.T) {
	// Arrange: an account that never set a device type
	var gotURL string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.String()
		w.Write([]byte("<Sync/>"))
	}))
	defer server.Close()

	account := testAccount(server.URL)
	account.DeviceType = ""
	client := NewClient(account, &fakeNegotiator{}, getLogger())

	// Act
	_, err := client.ExecuteCommand(context.Background(), "Sync", "<Sync/>")

	// Assert
	assert.NoError(t, err)
	assert.Contains(t, gotURL, "DeviceType=GoMail")
}

func TestExecuteCommand_NegotiatesOnceOn401(t *testing.T) {
	// Arrange: server rejects basic credentials, accepts the session
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		if r.Header.Get("Authorization") != "NTLM session123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte("<Sync/>"))
	}))
	defer server.Close()

	negotiator := &fakeNegotiator{session: "session123", ok: true}
	client := NewClient(testAccount(server.URL), negotiator, getLogger())

	// Act
	body, err := client.ExecuteCommand(context.Background(), "Sync", "<Sync/>")

	// Assert: exactly one negotiation, exactly one retry
	assert.NoError(t, err)
	assert.Equal(t, "<Sync/>", body)
	assert.Equal(t, int32(1), negotiator.calls)
	assert.Equal(t, int32(2), requests)

	// the session is reused on the next command without negotiating again
	_, err = client.ExecuteCommand(context.Background(), "Sync", "<Sync/>")
	assert.NoError(t, err)
	assert.Equal(t, int32(1), negotiator.calls)
}

func TestExecuteCommand_NegotiationFailureIsTerminal(t *testing.T) {
	// Arrange
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(testAccount(server.URL), &fakeNegotiator{ok: false}, getLogger())

	// Act
	_, err := client.ExecuteCommand(context.Background(), "Sync", "<Sync/>")

	// Assert
	assert.True(t, errors.Is(err, syncerrors.ErrAuthFailed))
}

func TestExecuteCommand_SecondRejectionIsTerminal(t *testing.T) {
	// Arrange: server rejects even the negotiated session
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	negotiator := &fakeNegotiator{session: "session123", ok: true}
	client := NewClient(testAccount(server.URL), negotiator, getLogger())

	// Act
	_, err := client.ExecuteCommand(context.Background(), "Sync", "<Sync/>")

	// Assert: one retry, then terminal, no retry loop
	assert.True(t, errors.Is(err, syncerrors.ErrAuthFailed))
	assert.Equal(t, int32(2), requests)
	assert.Equal(t, int32(1), negotiator.calls)

	// the rejected session is not kept around
	_, ok := client.session()
	assert.False(t, ok)

	// the rejection is terminal for the session: the next command fails
	// fast without another wire exchange or negotiation
	_, err = client.ExecuteCommand(context.Background(), "Sync", "<Sync/>")
	assert.True(t, errors.Is(err, syncerrors.ErrAuthFailed))
	assert.Equal(t, int32(2), requests)
	assert.Equal(t, int32(1), negotiator.calls)

	// Close resets the guard for a fresh session
	client.Close()
	_, err = client.ExecuteCommand(context.Background(), "Sync", "<Sync/>")
	assert.Error(t, err)
	assert.Equal(t, int32(4), requests)
}

func TestExecuteCommand_ServerErrorIsTransportFailure(t *testing.T) {
	// Arrange
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(testAccount(server.URL), &fakeNegotiator{}, getLogger())

	// Act
	_, err := client.ExecuteCommand(context.Background(), "Sync", "<Sync/>")

	// Assert
	assert.True(t, errors.Is(err, syncerrors.ErrTransportFailure))
	assert.NotContains(t, err.Error(), "authentication")
}

func TestExecuteCommand_ConnectionRefusedIsTransportFailure(t *testing.T) {
	// Arrange: a server that is not listening
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := NewClient(testAccount(server.URL), &fakeNegotiator{}, getLogger())

	// Act
	_, err := client.ExecuteCommand(context.Background(), "Sync", "<Sync/>")

	// Assert
	assert.Error(t, err)
	assert.True(t,
		errors.Is(err, syncerrors.ErrTransportFailure) || errors.Is(err, syncerrors.ErrConnectionTimeout))
}

func TestExecuteSOAP_HeadersAndEndpoint(t *testing.T) {
	// Arrange
	var gotAction, gotContentType, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAction = r.Header.Get("SOAPAction")
		gotContentType = r.Header.Get("Content-Type")
		gotPath = r.URL.Path
		w.Write([]byte("<Envelope/>"))
	}))
	defer server.Close()

	client := NewClient(testAccount(server.URL), &fakeNegotiator{}, getLogger())

	// Act
	body, err := client.ExecuteSOAP(context.Background(), "CreateItemAction", "<Envelope/>")

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, "<Envelope/>", body)
	assert.Equal(t, "CreateItemAction", gotAction)
	assert.Equal(t, "text/xml; charset=utf-8", gotContentType)
	assert.Equal(t, "/EWS/Exchange.asmx", gotPath)
}
