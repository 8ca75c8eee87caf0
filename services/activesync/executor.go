package activesync

import (
	"context"
	"encoding/base64"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/opentracing/opentracing-go"
	tracingLog "github.com/opentracing/opentracing-go/log"
	"github.com/pkg/errors"

	syncerrors "exchangesync/internal/errors"
	"exchangesync/internal/tracing"
)

// ExecuteCommand posts one ActiveSync command body and returns the raw
// response. On a 401 it negotiates a session exactly once and retries the
// same request once; a second rejection is terminal for the whole session,
// not just the operation.
func (c *Client) ExecuteCommand(ctx context.Context, command string, body string) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Client.ExecuteCommand")
	defer span.Finish()
	tracing.TagComponentTransport(span)
	tracing.TagAccount(span, c.account.ID)
	span.SetTag("command", command)

	return c.post(ctx, span, c.commandURL(command), body, map[string]string{
		"Content-Type":         "text/xml",
		"MS-ASProtocolVersion": c.Version(),
	})
}

// ExecuteSOAP posts an EWS envelope to the resolved Exchange.asmx
// endpoint through the same authenticated transport.
func (c *Client) ExecuteSOAP(ctx context.Context, soapAction string, envelope string) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Client.ExecuteSOAP")
	defer span.Finish()
	tracing.TagComponentTransport(span)
	tracing.TagAccount(span, c.account.ID)
	span.SetTag("soap.action", soapAction)

	return c.post(ctx, span, c.ewsURL(), envelope, map[string]string{
		"Content-Type": `text/xml; charset=utf-8`,
		"SOAPAction":   soapAction,
	})
}

func (c *Client) post(ctx context.Context, span opentracing.Span, url, body string, headers map[string]string) (string, error) {
	if c.authTerminal() {
		err := errors.Wrap(syncerrors.ErrAuthFailed, "session already rejected by server")
		tracing.TraceErr(span, err)
		return "", err
	}

	resp, respBody, err := c.doOnce(ctx, url, body, headers)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		span.LogFields(tracingLog.String("auth", "challenge received, negotiating"))

		if c.negotiator == nil {
			err := errors.Wrap(syncerrors.ErrAuthFailed, "credentials rejected and no negotiator configured")
			tracing.TraceErr(span, err)
			return "", err
		}

		session, ok := c.negotiator.Negotiate(ctx, c.account.ServerURL, c.account.Username, c.account.Domain, c.account.Password)
		if !ok {
			err := errors.Wrap(syncerrors.ErrAuthFailed, "negotiation failed")
			tracing.TraceErr(span, err)
			return "", err
		}
		c.setSession(session)

		// one retry with the new session, then give up
		resp, respBody, err = c.doOnce(ctx, url, body, headers)
		if err != nil {
			tracing.TraceErr(span, err)
			return "", err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			c.setSession("")
			c.markAuthTerminal()
			err := errors.Wrap(syncerrors.ErrAuthFailed, "server rejected negotiated session")
			tracing.TraceErr(span, err)
			return "", err
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := errors.Wrapf(syncerrors.ErrTransportFailure, "server returned HTTP %d", resp.StatusCode)
		tracing.TraceErr(span, err)
		return "", err
	}

	return respBody, nil
}

// doOnce performs a single HTTP exchange and drains the body.
func (c *Client) doOnce(ctx context.Context, url, body string, headers map[string]string) (*http.Response, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return nil, "", errors.Wrap(err, "building request")
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("User-Agent", userAgent)
	c.applyAuthHeader(req)

	if span := opentracing.SpanFromContext(ctx); span != nil {
		req = tracing.InjectSpanContextIntoHTTPRequest(req, span)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, "", errors.Wrap(syncerrors.ErrConnectionTimeout, err.Error())
		}
		return nil, "", errors.Wrap(syncerrors.ErrTransportFailure, err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", errors.Wrap(syncerrors.ErrTransportFailure, "reading response body")
	}

	return resp, string(respBody), nil
}

// applyAuthHeader attaches the negotiated session when one exists,
// otherwise basic credentials.
func (c *Client) applyAuthHeader(req *http.Request) {
	if session, ok := c.session(); ok {
		req.Header.Set("Authorization", "NTLM "+session)
		return
	}
	creds := c.qualifiedUsername() + ":" + c.account.Password
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(creds)))
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
