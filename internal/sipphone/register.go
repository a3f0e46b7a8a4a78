package sipphone

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/dialcore/dialcore/internal/telephony"
)

// startRegistration launches the registration loop. Runs on the
// dispatch queue (Start, SetRadioPower).
func (p *Phone) startRegistration() {
	ctx, cancel := context.WithCancel(context.Background())
	p.regCancel = cancel
	go p.registrationLoop(ctx)
}

// registrationLoop keeps the line registered: initial REGISTER, then
// refresh at 80% of the server-granted expiry. Failures back off
// exponentially and read as out of service until the registrar
// answers again.
func (p *Phone) registrationLoop(ctx context.Context) {
	expiry := p.cfg.Expiry

	p.logger.Info("starting registration",
		"server", p.cfg.Server,
		"port", p.cfg.Port,
		"transport", p.cfg.Transport,
		"expiry", expiry,
	)

	b := newBackoff()

	for {
		granted, err := p.sendRegister(ctx, expiry)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			retryDelay := b.next()
			p.logger.Error("registration failed",
				"error", err,
				"attempt", b.attempt,
				"retry_in", retryDelay.String(),
			)
			p.setService(telephony.ServiceOutOfService)

			select {
			case <-ctx.Done():
				return
			case <-time.After(retryDelay):
				continue
			}
		}

		b.reset()
		if granted != expiry {
			p.logger.Info("registered (server adjusted expiry)",
				"requested_expiry", expiry,
				"granted_expiry", granted,
			)
		} else {
			p.logger.Info("registered", "expires_in", granted)
		}
		p.setService(telephony.ServiceInService)

		// Refresh before expiry to absorb network delays.
		refreshInterval := time.Duration(float64(granted)*0.8) * time.Second

		select {
		case <-ctx.Done():
			return
		case <-time.After(refreshInterval):
			p.logger.Debug("re-registering")
		}
	}
}

// sendRegister sends one REGISTER with digest auth handling. On
// success it returns the server-granted expiry; when the server does
// not state one, the requested expiry.
func (p *Phone) sendRegister(ctx context.Context, expiry int) (int, error) {
	recipientStr := p.serverURI()
	var recipient sip.Uri
	if err := sip.ParseUri(recipientStr, &recipient); err != nil {
		return 0, fmt.Errorf("parsing recipient uri: %w", err)
	}

	req := sip.NewRequest(sip.REGISTER, recipient)
	req.SetTransport(p.transport())

	aor := fmt.Sprintf("<sip:%s@%s>", p.cfg.Username, p.cfg.Server)
	req.AppendHeader(sip.NewHeader("From", aor))
	req.AppendHeader(sip.NewHeader("To", aor))

	contactURI := fmt.Sprintf("<sip:%s@%s>", p.cfg.Username, p.ua.Hostname())
	req.AppendHeader(sip.NewHeader("Contact", contactURI))
	req.AppendHeader(sip.NewHeader("Expires", strconv.Itoa(expiry)))

	tx, err := p.client.TransactionRequest(ctx, req, sipgo.ClientRequestRegisterBuild)
	if err != nil {
		return 0, fmt.Errorf("sending register: %w", err)
	}

	res, err := getResponse(ctx, tx)
	tx.Terminate()
	if err != nil {
		return 0, fmt.Errorf("waiting for register response: %w", err)
	}

	if res.StatusCode == 401 || res.StatusCode == 407 {
		_, authTx, err := p.answerChallenge(ctx, req, res, recipientStr)
		if err != nil {
			return 0, err
		}

		res, err = getResponse(ctx, authTx)
		authTx.Terminate()
		if err != nil {
			return 0, fmt.Errorf("waiting for authenticated register response: %w", err)
		}
	}

	if res.StatusCode != 200 {
		return 0, fmt.Errorf("register failed with status %d %s", res.StatusCode, res.Reason)
	}

	// The registrar may shorten the requested expiry: Contact expires
	// param wins over the Expires header.
	grantedExpiry := expiry
	if contactHdr := res.GetHeader("Contact"); contactHdr != nil {
		if parsed := parseContactExpires(contactHdr.Value()); parsed > 0 {
			grantedExpiry = parsed
		}
	} else if expiresHdr := res.GetHeader("Expires"); expiresHdr != nil {
		if parsed := parseExpiresHeader(expiresHdr.Value()); parsed > 0 {
			grantedExpiry = parsed
		}
	}

	return grantedExpiry, nil
}

// getResponse waits for the first response from a SIP client transaction.
func getResponse(ctx context.Context, tx sip.ClientTransaction) (*sip.Response, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-tx.Done():
		return nil, fmt.Errorf("transaction terminated: %w", tx.Err())
	case res := <-tx.Responses():
		return res, nil
	}
}

// parseContactExpires extracts the expires parameter from a Contact
// header value such as <sip:user@host>;expires=3600. Returns 0 when
// the parameter is absent or malformed.
func parseContactExpires(contactValue string) int {
	lower := strings.ToLower(contactValue)
	idx := strings.Index(lower, ";expires=")
	if idx < 0 {
		return 0
	}
	rest := contactValue[idx+len(";expires="):]

	end := strings.IndexAny(rest, ";,> \t")
	if end > 0 {
		rest = rest[:end]
	}

	val, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return 0
	}
	return val
}

// parseExpiresHeader parses an Expires header value, a plain integer of
// seconds. Returns 0 when parsing fails.
func parseExpiresHeader(value string) int {
	val, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return val
}

// backoff implements exponential backoff with jitter for registration
// retries. Jitter spreads retries when several lines fail together.
type backoff struct {
	attempt   int
	baseDelay time.Duration
	maxDelay  time.Duration
}

func newBackoff() *backoff {
	return &backoff{
		baseDelay: 5 * time.Second,
		maxDelay:  5 * time.Minute,
	}
}

func (b *backoff) next() time.Duration {
	d := b.current()
	b.attempt++
	return d
}

func (b *backoff) current() time.Duration {
	d := b.baseDelay
	for i := 0; i < b.attempt; i++ {
		d *= 2
		if d > b.maxDelay {
			d = b.maxDelay
			break
		}
	}
	// ±20% jitter.
	jitter := float64(d) * 0.2 * (2*rand.Float64() - 1)
	d += time.Duration(jitter)
	if d < 0 {
		d = b.baseDelay
	}
	return d
}

func (b *backoff) reset() {
	b.attempt = 0
}
