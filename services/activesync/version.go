package activesync

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/opentracing/opentracing-go"
	tracingLog "github.com/opentracing/opentracing-go/log"
	"github.com/pkg/errors"

	"exchangesync/internal/tracing"
)

const (
	// ConservativeVersion is assumed when detection fails: the oldest
	// protocol level every supported server speaks.
	ConservativeVersion = "12.1"

	// nativeNotesThreshold is the minimum protocol version with native
	// Notes/Tasks collection sync; older servers go through EWS.
	nativeNotesThreshold = 14.0
)

// Detect probes the server with an OPTIONS request and caches the highest
// advertised protocol version for the connection's lifetime. A failed
// probe returns the error but leaves Version at the conservative default,
// so callers can proceed.
func (c *Client) Detect(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.detected {
		version := c.version
		c.mu.Unlock()
		return version, nil
	}
	c.mu.Unlock()

	span, ctx := opentracing.StartSpanFromContext(ctx, "Client.Detect")
	defer span.Finish()
	tracing.TagComponentTransport(span)
	tracing.TagAccount(span, c.account.ID)

	req, err := http.NewRequestWithContext(ctx, http.MethodOptions, c.commandURL("Options"), nil)
	if err != nil {
		tracing.TraceErr(span, err)
		return ConservativeVersion, err
	}
	c.applyAuthHeader(req)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		tracing.TraceErr(span, err)
		return ConservativeVersion, errors.Wrap(err, "version probe failed")
	}
	defer resp.Body.Close()

	versions := resp.Header.Get("MS-ASProtocolVersions")
	if versions == "" {
		err := errors.New("server did not advertise MS-ASProtocolVersions")
		tracing.TraceErr(span, err)
		return ConservativeVersion, err
	}

	highest := highestVersion(versions)
	span.LogFields(
		tracingLog.String("server.versions", versions),
		tracingLog.String("server.selected", highest),
	)

	c.mu.Lock()
	c.version = highest
	c.detected = true
	c.mu.Unlock()

	return highest, nil
}

// IsDetected reports whether a probe has succeeded on this connection.
func (c *Client) IsDetected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.detected
}

// Version returns the detected protocol version, falling back to the
// conservative default when no probe has succeeded.
func (c *Client) Version() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.detected {
		return ConservativeVersion
	}
	return c.version
}

// highestVersion picks the numerically highest entry of a comma-separated
// MS-ASProtocolVersions header.
func highestVersion(header string) string {
	best := ConservativeVersion
	bestVal := 0.0
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		val, err := strconv.ParseFloat(part, 64)
		if err != nil {
			continue
		}
		if val > bestVal {
			bestVal = val
			best = part
		}
	}
	return best
}

// SupportsNativeItemSync reports whether the version carries native
// Notes/Tasks collection sync.
func SupportsNativeItemSync(version string) bool {
	val, err := strconv.ParseFloat(strings.TrimSpace(version), 64)
	if err != nil {
		return false
	}
	return val >= nativeNotesThreshold
}
