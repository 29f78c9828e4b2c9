package twilio

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/insight-intelligence/call-relay-service/pkg/logger"
	twilioclient "github.com/twilio/twilio-go/client"
	"go.uber.org/zap"
)

const (
	// HeaderIdempotencyToken is set by Twilio on every webhook delivery.
	HeaderIdempotencyToken = "I-Twilio-Idempotency-Token"
	// HeaderSignature carries Twilio's HMAC signature of the request.
	HeaderSignature = "X-Twilio-Signature"

	// proxyUserAgentPrefix is the User-Agent all Twilio webhooks arrive with.
	proxyUserAgentPrefix = "TwilioProxy/"

	formContentType = "application/x-www-form-urlencoded"
)

var (
	accountSIDPattern = regexp.MustCompile(`^AC[a-zA-Z0-9]{32}$`)
	callSIDPattern    = regexp.MustCompile(`^CA[a-zA-Z0-9]{32}$`)
)

// Verdict is the outcome of verifying one inbound webhook. Reason names the
// first failing check when OK is false.
type Verdict struct {
	OK     bool
	Reason string
}

func pass() Verdict { return Verdict{OK: true} }

func reject(format string, a ...any) Verdict {
	return Verdict{Reason: fmt.Sprintf(format, a...)}
}

// Authenticator verifies that an inbound webhook genuinely originated from
// Twilio. It layers header, identifier-format and timing checks that hold up
// even when an upstream gateway mutates the request, plus an optional
// cryptographic signature check that is logged but never rejects on its own
// (gateway transformations routinely break signature computation).
type Authenticator struct {
	maxRequestAge time.Duration
	validator     twilioclient.RequestValidator
	hasSecret     bool
}

// NewAuthenticator builds an Authenticator. authToken may be empty, in which
// case the signature check is skipped entirely.
func NewAuthenticator(authToken string, maxRequestAge time.Duration) *Authenticator {
	a := &Authenticator{maxRequestAge: maxRequestAge}
	if authToken != "" {
		a.validator = twilioclient.NewRequestValidator(authToken)
		a.hasSecret = true
	}
	return a
}

// Verify checks one request. It is pure with respect to its inputs apart
// from logging, so it can be exercised with synthetic fixtures; requestTime
// is the moment the request entered the system and now() is the wall clock.
func (a *Authenticator) Verify(body []byte, header http.Header, requestURL string, requestTime time.Time) Verdict {
	// 1. Required Twilio headers.
	for _, name := range []string{"User-Agent", HeaderIdempotencyToken, HeaderSignature} {
		if header.Get(name) == "" {
			return reject("missing required header %s", name)
		}
	}

	// 2. User-Agent must be Twilio's proxy.
	if ua := header.Get("User-Agent"); !strings.HasPrefix(ua, proxyUserAgentPrefix) {
		return reject("unexpected User-Agent %q", ua)
	}

	// 3. Twilio always posts form-urlencoded data.
	if ct := header.Get("Content-Type"); !strings.Contains(ct, formContentType) {
		return reject("unexpected Content-Type %q", ct)
	}

	// 4. Core identifiers must be present in the body.
	params, err := url.ParseQuery(string(body))
	if err != nil {
		return reject("unparseable form body: %v", err)
	}
	accountSID := params.Get("AccountSid")
	callSID := params.Get("CallSid")
	if accountSID == "" {
		return reject("missing AccountSid parameter")
	}
	if callSID == "" {
		return reject("missing CallSid parameter")
	}

	// 5. Identifier formats: AC/CA followed by exactly 32 alphanumerics.
	if !accountSIDPattern.MatchString(accountSID) {
		return reject("invalid AccountSid format %q", accountSID)
	}
	if !callSIDPattern.MatchString(callSID) {
		return reject("invalid CallSid format %q", callSID)
	}

	// 6. Replay window.
	age := time.Since(requestTime)
	if age < 0 {
		age = -age
	}
	if age > a.maxRequestAge {
		return reject("request too old (%s ago, max %s)", age.Round(time.Second), a.maxRequestAge)
	}

	// 7. Signature check, non-blocking: logged for observability but a
	// failure never rejects the request on its own.
	a.checkSignature(requestURL, params, header.Get(HeaderSignature))

	return pass()
}

func (a *Authenticator) checkSignature(requestURL string, params url.Values, signature string) {
	if !a.hasSecret || signature == "" {
		return
	}

	flat := make(map[string]string, len(params))
	for key := range params {
		flat[key] = params.Get(key)
	}

	if a.validator.Validate(requestURL, flat, signature) {
		logger.Base().Info("security: signature validation passed",
			zap.String("url", requestURL))
	} else {
		logger.Base().Warn("security: signature validation failed (non-blocking, likely gateway rewrite)",
			zap.String("url", requestURL))
	}
}
