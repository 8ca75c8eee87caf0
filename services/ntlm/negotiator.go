package ntlm

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"net/http"
	"strings"
	"time"

	"github.com/opentracing/opentracing-go"
	"golang.org/x/crypto/md4"

	"exchangesync/internal/logger"
	"exchangesync/internal/tracing"
)

const (
	signature = "NTLMSSP\x00"

	messageTypeNegotiate    = 1
	messageTypeChallenge    = 2
	messageTypeAuthenticate = 3

	// negotiate flags: Unicode, NTLM, Always Sign, Extended Session
	// Security, Target Info
	negotiateFlags = 0x00000001 | 0x00000200 | 0x00008000 | 0x00080000 | 0x00800000

	negotiateTimeout = 30 * time.Second
)

// Negotiator performs the three-message NTLM exchange used when basic
// credentials are rejected. Any step failure yields ok=false, never a
// panic or an error value: the caller treats the connection as
// unauthenticated.
type Negotiator struct {
	httpClient *http.Client
	log        logger.Logger
}

func NewNegotiator(httpClient *http.Client, log logger.Logger) *Negotiator {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: negotiateTimeout}
	}
	return &Negotiator{httpClient: httpClient, log: log}
}

// Negotiate runs negotiate → challenge → authenticate against the server
// and returns the authenticate token to attach to subsequent requests.
func (n *Negotiator) Negotiate(ctx context.Context, serverURL, username, domain, password string) (string, bool) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Negotiator.Negotiate")
	defer span.Finish()
	tracing.TagComponentTransport(span)

	endpoint := strings.TrimSuffix(serverURL, "/") + "/Microsoft-Server-ActiveSync"

	challenge, ok := n.requestChallenge(ctx, endpoint)
	if !ok {
		span.SetTag("ntlm.step", "challenge")
		span.SetTag("error", true)
		return "", false
	}

	authenticate, err := authenticateMessage(challenge, username, domain, password)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", false
	}

	token := base64.StdEncoding.EncodeToString(authenticate)
	if !n.verify(ctx, endpoint, token) {
		span.SetTag("ntlm.step", "verify")
		span.SetTag("error", true)
		return "", false
	}

	return token, true
}

// requestChallenge sends the negotiate message and extracts the server's
// challenge from the WWW-Authenticate header.
func (n *Negotiator) requestChallenge(ctx context.Context, endpoint string) ([]byte, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodOptions, endpoint, nil)
	if err != nil {
		return nil, false
	}
	req.Header.Set("Authorization", "NTLM "+base64.StdEncoding.EncodeToString(negotiateMessage()))

	resp, err := n.httpClient.Do(req)
	if err != nil {
		if n.log != nil {
			n.log.Warnf("ntlm negotiate request failed: %v", err)
		}
		return nil, false
	}
	defer resp.Body.Close()

	header := resp.Header.Get("WWW-Authenticate")
	if !strings.HasPrefix(header, "NTLM ") {
		return nil, false
	}
	challenge, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, "NTLM "))
	if err != nil || len(challenge) < 48 {
		return nil, false
	}
	return challenge, true
}

// verify confirms the authenticate token is accepted before it is cached.
func (n *Negotiator) verify(ctx context.Context, endpoint, token string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodOptions, endpoint, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "NTLM "+token)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode != http.StatusUnauthorized
}

// negotiateMessage builds the type 1 message.
func negotiateMessage() []byte {
	msg := make([]byte, 32)
	copy(msg, signature)
	binary.LittleEndian.PutUint32(msg[8:], messageTypeNegotiate)
	binary.LittleEndian.PutUint32(msg[12:], negotiateFlags)
	// empty domain and workstation security buffers point past the header
	binary.LittleEndian.PutUint32(msg[16:], 0)
	binary.LittleEndian.PutUint32(msg[20:], 32)
	binary.LittleEndian.PutUint32(msg[24:], 0)
	binary.LittleEndian.PutUint32(msg[28:], 32)
	return msg
}

// authenticateMessage builds the type 3 message with an NTLMv2 response
// derived from the server challenge.
func authenticateMessage(challenge []byte, username, domain, password string) ([]byte, error) {
	if binary.LittleEndian.Uint32(challenge[8:12]) != messageTypeChallenge {
		return nil, errUnexpectedMessage
	}
	serverChallenge := challenge[24:32]
	targetInfo := extractTargetInfo(challenge)

	clientNonce := make([]byte, 8)
	if _, err := rand.Read(clientNonce); err != nil {
		return nil, err
	}

	hash := ntlmV2Hash(username, domain, password)
	ntResponse := ntlmV2Response(hash, serverChallenge, clientNonce, targetInfo, time.Now())
	lmResponse := lmV2Response(hash, serverChallenge, clientNonce)

	domainUTF16 := utf16LE(domain)
	userUTF16 := utf16LE(username)
	workstationUTF16 := utf16LE("")

	const headerLen = 64
	offset := headerLen

	msg := make([]byte, 0, headerLen+len(lmResponse)+len(ntResponse)+len(domainUTF16)+len(userUTF16))
	header := make([]byte, headerLen)
	copy(header, signature)
	binary.LittleEndian.PutUint32(header[8:], messageTypeAuthenticate)

	offset = putSecurityBuffer(header, 12, lmResponse, offset)
	offset = putSecurityBuffer(header, 20, ntResponse, offset)
	offset = putSecurityBuffer(header, 28, domainUTF16, offset)
	offset = putSecurityBuffer(header, 36, userUTF16, offset)
	offset = putSecurityBuffer(header, 44, workstationUTF16, offset)
	putSecurityBuffer(header, 52, nil, offset) // session key, unused
	binary.LittleEndian.PutUint32(header[60:], negotiateFlags)

	msg = append(msg, header...)
	msg = append(msg, lmResponse...)
	msg = append(msg, ntResponse...)
	msg = append(msg, domainUTF16...)
	msg = append(msg, userUTF16...)
	msg = append(msg, workstationUTF16...)
	return msg, nil
}

var errUnexpectedMessage = errorString("unexpected NTLM message type")

type errorString string

func (e errorString) Error() string { return string(e) }

// putSecurityBuffer writes len/maxlen/offset at pos and returns the next
// payload offset.
func putSecurityBuffer(header []byte, pos int, payload []byte, offset int) int {
	binary.LittleEndian.PutUint16(header[pos:], uint16(len(payload)))
	binary.LittleEndian.PutUint16(header[pos+2:], uint16(len(payload)))
	binary.LittleEndian.PutUint32(header[pos+4:], uint32(offset))
	return offset + len(payload)
}

// extractTargetInfo pulls the target info block a v2 response must echo.
func extractTargetInfo(challenge []byte) []byte {
	if len(challenge) < 48 {
		return nil
	}
	infoLen := binary.LittleEndian.Uint16(challenge[40:42])
	infoOffset := binary.LittleEndian.Uint32(challenge[44:48])
	if int(infoOffset)+int(infoLen) > len(challenge) {
		return nil
	}
	return challenge[infoOffset : infoOffset+uint32(infoLen)]
}

// ntlmV2Hash is HMAC-MD5 of the uppercased user + domain keyed with the
// MD4 of the UTF-16LE password.
func ntlmV2Hash(username, domain, password string) []byte {
	ntHash := md4.New()
	ntHash.Write(utf16LE(password))

	mac := hmac.New(md5.New, ntHash.Sum(nil))
	mac.Write(utf16LE(strings.ToUpper(username) + domain))
	return mac.Sum(nil)
}

// ntlmV2Response is the blob-based response proving knowledge of the
// password against the server challenge.
func ntlmV2Response(hash, serverChallenge, clientNonce, targetInfo []byte, now time.Time) []byte {
	// 100ns intervals since 1601-01-01
	timestamp := uint64(now.UnixNano()/100) + 116444736000000000

	blob := make([]byte, 0, 28+len(targetInfo)+4)
	blob = append(blob, 0x01, 0x01, 0x00, 0x00) // blob signature
	blob = append(blob, 0x00, 0x00, 0x00, 0x00) // reserved
	ts := make([]byte, 8)
	binary.LittleEndian.PutUint64(ts, timestamp)
	blob = append(blob, ts...)
	blob = append(blob, clientNonce...)
	blob = append(blob, 0x00, 0x00, 0x00, 0x00) // unknown
	blob = append(blob, targetInfo...)
	blob = append(blob, 0x00, 0x00, 0x00, 0x00) // terminator

	mac := hmac.New(md5.New, hash)
	mac.Write(serverChallenge)
	mac.Write(blob)
	return append(mac.Sum(nil), blob...)
}

// lmV2Response is the short-form response some servers still require.
func lmV2Response(hash, serverChallenge, clientNonce []byte) []byte {
	mac := hmac.New(md5.New, hash)
	mac.Write(serverChallenge)
	mac.Write(clientNonce)
	return append(mac.Sum(nil), clientNonce...)
}

// utf16LE encodes a string as UTF-16 little endian, as every NTLM string
// field requires.
func utf16LE(s string) []byte {
	out := make([]byte, 0, len(s)*2)
	for _, r := range s {
		if r > 0xffff {
			// encode as surrogate pair
			r -= 0x10000
			hi := 0xd800 + (r >> 10)
			lo := 0xdc00 + (r & 0x3ff)
			out = append(out, byte(hi), byte(hi>>8), byte(lo), byte(lo>>8))
			continue
		}
		out = append(out, byte(r), byte(r>>8))
	}
	return out
}
