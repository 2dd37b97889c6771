package payments

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	protocolVersion = "2.1.0"
	commandPay      = "pay"
	currencyCode    = "VND"
	timestampLayout = "20060102150405"

	paramSecureHash     = "vnp_SecureHash"
	paramSecureHashType = "vnp_SecureHashType"

	// ResponseCodeSuccess is the gateway response code for a captured payment.
	ResponseCodeSuccess = "00"
)

// Gateway timestamps are expressed in Indochina time regardless of server locale.
var defaultLocation = time.FixedZone("ICT", 7*60*60)

var (
	// ErrMissingSignature indicates the callback carried no secure hash.
	ErrMissingSignature = errors.New("vnpay: missing signature")
	// ErrInvalidSignature indicates the recomputed digest does not match the callback.
	ErrInvalidSignature = errors.New("vnpay: invalid signature")
	// ErrInvalidRequest indicates the pay URL request is incomplete.
	ErrInvalidRequest = errors.New("vnpay: invalid request")
)

// GatewayConfig carries the merchant parameters shared with the gateway.
type GatewayConfig struct {
	Endpoint   string
	TmnCode    string
	HashSecret string
	ReturnURL  string
	Locale     string
	OrderType  string
	Expiry     time.Duration
}

// Gateway builds signed redirect URLs and verifies return callbacks for the
// VNPay payment protocol.
type Gateway struct {
	cfg GatewayConfig
	now func() time.Time
	loc *time.Location
}

// GatewayOption customises gateway behaviour.
type GatewayOption func(*Gateway)

// WithClock injects a deterministic clock, primarily for tests.
func WithClock(clock func() time.Time) GatewayOption {
	return func(g *Gateway) {
		if clock != nil {
			g.now = clock
		}
	}
}

// WithLocation overrides the timezone used for gateway timestamps.
func WithLocation(loc *time.Location) GatewayOption {
	return func(g *Gateway) {
		if loc != nil {
			g.loc = loc
		}
	}
}

// NewGateway constructs a Gateway from merchant configuration.
func NewGateway(cfg GatewayConfig, opts ...GatewayOption) (*Gateway, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("vnpay: endpoint is required")
	}
	if strings.TrimSpace(cfg.TmnCode) == "" {
		return nil, errors.New("vnpay: tmn code is required")
	}
	if strings.TrimSpace(cfg.HashSecret) == "" {
		return nil, errors.New("vnpay: hash secret is required")
	}
	if strings.TrimSpace(cfg.ReturnURL) == "" {
		return nil, errors.New("vnpay: return url is required")
	}
	if cfg.Locale == "" {
		cfg.Locale = "vn"
	}
	if cfg.OrderType == "" {
		cfg.OrderType = "other"
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = 15 * time.Minute
	}

	g := &Gateway{
		cfg: cfg,
		now: time.Now,
		loc: defaultLocation,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

// PayURLRequest describes a single payment attempt to redirect to the gateway.
type PayURLRequest struct {
	OrderNumber string
	// Amount is the order total in VND; the gateway wire format multiplies by 100.
	Amount    int64
	OrderInfo string
	ClientIP  string
	BankCode  string
}

// PayURL is the signed redirect target plus the expiry recorded on the order.
type PayURL struct {
	URL       string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// BuildPayURL assembles, signs, and renders the gateway redirect URL.
func (g *Gateway) BuildPayURL(req PayURLRequest) (PayURL, error) {
	if g == nil {
		return PayURL{}, errors.New("vnpay: gateway is nil")
	}
	if strings.TrimSpace(req.OrderNumber) == "" {
		return PayURL{}, fmt.Errorf("%w: order number is required", ErrInvalidRequest)
	}
	if req.Amount <= 0 {
		return PayURL{}, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}

	createdAt := g.now().In(g.loc)
	expiresAt := createdAt.Add(g.cfg.Expiry)

	info := NormalizeOrderInfo(req.OrderInfo)
	if info == "" {
		info = "Thanh toan don hang " + req.OrderNumber
	}

	params := map[string]string{
		"vnp_Version":    protocolVersion,
		"vnp_Command":    commandPay,
		"vnp_TmnCode":    g.cfg.TmnCode,
		"vnp_Locale":     g.cfg.Locale,
		"vnp_CurrCode":   currencyCode,
		"vnp_TxnRef":     req.OrderNumber,
		"vnp_OrderInfo":  info,
		"vnp_OrderType":  g.cfg.OrderType,
		"vnp_Amount":     strconv.FormatInt(req.Amount*100, 10),
		"vnp_ReturnUrl":  g.cfg.ReturnURL,
		"vnp_IpAddr":     normalizeClientIP(req.ClientIP),
		"vnp_CreateDate": createdAt.Format(timestampLayout),
		"vnp_ExpireDate": expiresAt.Format(timestampLayout),
	}
	if bank := strings.TrimSpace(req.BankCode); bank != "" {
		params["vnp_BankCode"] = bank
	}

	query := canonicalQuery(params)
	signature := g.sign(query)

	return PayURL{
		URL:       g.cfg.Endpoint + "?" + query + "&" + paramSecureHash + "=" + signature,
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	}, nil
}

// VerifyReturn recomputes the signature over the callback parameters and
// compares it to the received secure hash.
func (g *Gateway) VerifyReturn(values url.Values) error {
	if g == nil {
		return errors.New("vnpay: gateway is nil")
	}
	received := strings.TrimSpace(values.Get(paramSecureHash))
	if received == "" {
		return ErrMissingSignature
	}

	params := make(map[string]string, len(values))
	for key := range values {
		if key == paramSecureHash || key == paramSecureHashType {
			continue
		}
		params[key] = values.Get(key)
	}

	expected := g.sign(canonicalQuery(params))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(received))) {
		return ErrInvalidSignature
	}
	return nil
}

// ReturnParams normalises the fields extracted from a verified callback.
type ReturnParams struct {
	OrderNumber   string
	Amount        int64
	TransactionNo string
	BankCode      string
	ResponseCode  string
	PayDate       *time.Time
}

// Succeeded reports whether the gateway captured the payment.
func (p ReturnParams) Succeeded() bool {
	return p.ResponseCode == ResponseCodeSuccess
}

// ParseReturn extracts the gateway fields from callback parameters. It does not
// verify the signature; callers must run VerifyReturn first.
func (g *Gateway) ParseReturn(values url.Values) (ReturnParams, error) {
	orderNumber := strings.TrimSpace(values.Get("vnp_TxnRef"))
	if orderNumber == "" {
		return ReturnParams{}, errors.New("vnpay: callback missing transaction reference")
	}

	params := ReturnParams{
		OrderNumber:   orderNumber,
		TransactionNo: strings.TrimSpace(values.Get("vnp_TransactionNo")),
		BankCode:      strings.TrimSpace(values.Get("vnp_BankCode")),
		ResponseCode:  strings.TrimSpace(values.Get("vnp_ResponseCode")),
	}

	if raw := strings.TrimSpace(values.Get("vnp_Amount")); raw != "" {
		amount, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return ReturnParams{}, fmt.Errorf("vnpay: malformed amount %q", raw)
		}
		params.Amount = amount / 100
	}

	if raw := strings.TrimSpace(values.Get("vnp_PayDate")); raw != "" {
		loc := defaultLocation
		if g != nil && g.loc != nil {
			loc = g.loc
		}
		payDate, err := time.ParseInLocation(timestampLayout, raw, loc)
		if err == nil {
			params.PayDate = &payDate
		}
	}

	return params, nil
}

func (g *Gateway) sign(data string) string {
	mac := hmac.New(sha512.New, []byte(g.cfg.HashSecret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// canonicalQuery renders params sorted by URL-encoded key with form-encoded
// values (encoded spaces become literal plus signs). The gateway computes its
// signature over exactly this rendering.
func canonicalQuery(params map[string]string) string {
	type pair struct {
		encodedKey   string
		encodedValue string
	}

	pairs := make([]pair, 0, len(params))
	for key, value := range params {
		if value == "" {
			continue
		}
		pairs = append(pairs, pair{
			encodedKey:   url.QueryEscape(key),
			encodedValue: url.QueryEscape(value),
		})
	}
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].encodedKey < pairs[j].encodedKey
	})

	var builder strings.Builder
	for i, p := range pairs {
		if i > 0 {
			builder.WriteByte('&')
		}
		builder.WriteString(p.encodedKey)
		builder.WriteByte('=')
		builder.WriteString(p.encodedValue)
	}
	return builder.String()
}

// normalizeClientIP maps absent and IPv6 addresses to the IPv4 loopback so the
// gateway always receives a dotted-quad address.
func normalizeClientIP(raw string) string {
	const loopback = "127.0.0.1"

	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return loopback
	}
	if host, _, err := net.SplitHostPort(trimmed); err == nil {
		trimmed = host
	}
	ip := net.ParseIP(trimmed)
	if ip == nil {
		return loopback
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.String()
	}
	return loopback
}
