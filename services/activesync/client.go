package activesync

import (
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"exchangesync/interfaces"
	"exchangesync/internal/logger"
	"exchangesync/internal/models"
	"exchangesync/internal/utils"
)

const (
	easEndpointPath = "/Microsoft-Server-ActiveSync"
	userAgent       = "ExchangeSync/1.0"

	// defaultDeviceType is presented when the account does not carry one.
	defaultDeviceType = "GoMail"

	connectTimeout = 30 * time.Second
	requestTimeout = 2 * time.Minute
)

// Client is the connection context for one account: endpoint, credentials,
// detected protocol version and negotiated auth session. It is owned by
// exactly one account session and is not safe for use across accounts.
// Callers serialize operations against the same collection; the client
// itself guards only its own cached state.
type Client struct {
	account    *models.Account
	httpClient *http.Client
	log        logger.Logger
	negotiator interfaces.AuthNegotiator

	mu          sync.Mutex
	version     string
	detected    bool
	ntlmSession string
	authFailed  bool
}

func NewClient(account *models.Account, negotiator interfaces.AuthNegotiator, log logger.Logger) *Client {
	dialer := &net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: requestTimeout,
	}
	if account.AllowInsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Client{
		account: account,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   requestTimeout,
		},
		log:        log,
		negotiator: negotiator,
	}
}

// Account returns the owned connection configuration.
func (c *Client) Account() *models.Account {
	return c.account
}

// commandURL builds the ActiveSync endpoint URL for a command.
func (c *Client) commandURL(command string) string {
	base := strings.TrimSuffix(c.account.ServerURL, "/")
	q := url.Values{}
	q.Set("Cmd", command)
	q.Set("User", c.account.Username)
	q.Set("DeviceId", c.account.DeviceID)
	q.Set("DeviceType", utils.FirstNonEmpty(c.account.DeviceType, defaultDeviceType))
	return base + easEndpointPath + "?" + q.Encode()
}

// ewsURL resolves the SOAP fallback endpoint from the account server URL.
func (c *Client) ewsURL() string {
	base := strings.TrimSuffix(c.account.ServerURL, "/")
	return base + "/EWS/Exchange.asmx"
}

// qualifiedUsername renders domain\user when a domain is configured.
func (c *Client) qualifiedUsername() string {
	if c.account.Domain != "" {
		return c.account.Domain + "\\" + c.account.Username
	}
	return c.account.Username
}

// session returns the cached negotiated auth session, if any.
func (c *Client) session() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ntlmSession, c.ntlmSession != ""
}

func (c *Client) setSession(session string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ntlmSession = session
}

// authTerminal reports whether the server already rejected a negotiated
// session on this connection. Retrying the same credentials is pointless
// until the session is closed and reopened.
func (c *Client) authTerminal() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authFailed
}

func (c *Client) markAuthTerminal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authFailed = true
}

// Close discards cached session and version state. The connection context
// must not be reused after logout.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ntlmSession = ""
	c.version = ""
	c.detected = false
	c.authFailed = false
	c.httpClient.CloseIdleConnections()
}
