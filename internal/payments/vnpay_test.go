package payments

import (
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"
)

func testGateway(t *testing.T) *Gateway {
	t.Helper()
	clock := func() time.Time {
		return time.Date(2026, time.May, 20, 10, 30, 0, 0, defaultLocation)
	}
	gateway, err := NewGateway(GatewayConfig{
		Endpoint:   "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		TmnCode:    "SGMTEST1",
		HashSecret: "QWERTYUIOPASDFGHJKLZXCVBNM123456",
		ReturnURL:  "https://shop.example.com/api/v1/payments/vnpay/return",
	}, WithClock(clock))
	if err != nil {
		t.Fatalf("NewGateway returned error: %v", err)
	}
	return gateway
}

func TestBuildPayURLParameters(t *testing.T) {
	gateway := testGateway(t)

	payURL, err := gateway.BuildPayURL(PayURLRequest{
		OrderNumber: "SG-20260520-000042",
		Amount:      6_600_000,
		OrderInfo:   "Thanh toán đơn hàng #42",
		ClientIP:    "203.113.0.5",
		BankCode:    "NCB",
	})
	if err != nil {
		t.Fatalf("BuildPayURL returned error: %v", err)
	}

	parsed, err := url.Parse(payURL.URL)
	if err != nil {
		t.Fatalf("pay URL does not parse: %v", err)
	}
	values := parsed.Query()

	expectations := map[string]string{
		"vnp_Version":    "2.1.0",
		"vnp_Command":    "pay",
		"vnp_TmnCode":    "SGMTEST1",
		"vnp_Locale":     "vn",
		"vnp_CurrCode":   "VND",
		"vnp_TxnRef":     "SG-20260520-000042",
		"vnp_OrderInfo":  "Thanh toan don hang 42",
		"vnp_OrderType":  "other",
		"vnp_Amount":     "660000000",
		"vnp_IpAddr":     "203.113.0.5",
		"vnp_BankCode":   "NCB",
		"vnp_CreateDate": "20260520103000",
		"vnp_ExpireDate": "20260520104500",
	}
	for key, want := range expectations {
		if got := values.Get(key); got != want {
			t.Errorf("param %s = %q, want %q", key, got, want)
		}
	}
	if values.Get(paramSecureHash) == "" {
		t.Error("expected secure hash appended to pay URL")
	}
	if got := payURL.ExpiresAt.Sub(payURL.CreatedAt); got != 15*time.Minute {
		t.Errorf("expiry window = %s, want 15m", got)
	}
}

func TestBuildPayURLRejectsInvalidRequests(t *testing.T) {
	gateway := testGateway(t)

	if _, err := gateway.BuildPayURL(PayURLRequest{Amount: 1000}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for missing order number, got %v", err)
	}
	if _, err := gateway.BuildPayURL(PayURLRequest{OrderNumber: "SG-1", Amount: 0}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for zero amount, got %v", err)
	}
}

func TestVerifyReturnRoundTrip(t *testing.T) {
	gateway := testGateway(t)

	payURL, err := gateway.BuildPayURL(PayURLRequest{
		OrderNumber: "SG-20260520-000042",
		Amount:      3_000_000,
		OrderInfo:   "don hang 42",
		ClientIP:    "10.0.0.9",
	})
	if err != nil {
		t.Fatalf("BuildPayURL returned error: %v", err)
	}

	parsed, err := url.Parse(payURL.URL)
	if err != nil {
		t.Fatalf("pay URL does not parse: %v", err)
	}
	values := parsed.Query()

	if err := gateway.VerifyReturn(values); err != nil {
		t.Fatalf("expected signed parameters to verify, got %v", err)
	}

	// Tampering with any parameter must invalidate the signature.
	tampered := url.Values{}
	for key := range values {
		tampered.Set(key, values.Get(key))
	}
	tampered.Set("vnp_Amount", "100")
	if err := gateway.VerifyReturn(tampered); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature after tamper, got %v", err)
	}

	// Flipping a single byte of the hash must invalidate it too.
	flipped := url.Values{}
	for key := range values {
		flipped.Set(key, values.Get(key))
	}
	hash := flipped.Get(paramSecureHash)
	var replacement byte = 'a'
	if hash[0] == 'a' {
		replacement = 'b'
	}
	flipped.Set(paramSecureHash, string(replacement)+hash[1:])
	if err := gateway.VerifyReturn(flipped); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for flipped hash, got %v", err)
	}
}

func TestVerifyReturnMissingSignature(t *testing.T) {
	gateway := testGateway(t)

	values := url.Values{}
	values.Set("vnp_TxnRef", "SG-1")
	if err := gateway.VerifyReturn(values); !errors.Is(err, ErrMissingSignature) {
		t.Fatalf("expected ErrMissingSignature, got %v", err)
	}
}

func TestVerifyReturnIgnoresHashTypeParam(t *testing.T) {
	gateway := testGateway(t)

	payURL, err := gateway.BuildPayURL(PayURLRequest{
		OrderNumber: "SG-20260520-000099",
		Amount:      500_000,
	})
	if err != nil {
		t.Fatalf("BuildPayURL returned error: %v", err)
	}
	parsed, _ := url.Parse(payURL.URL)
	values := parsed.Query()
	values.Set(paramSecureHashType, "HmacSHA512")

	if err := gateway.VerifyReturn(values); err != nil {
		t.Fatalf("hash type parameter must be excluded from signing, got %v", err)
	}
}

func TestParseReturn(t *testing.T) {
	gateway := testGateway(t)

	values := url.Values{}
	values.Set("vnp_TxnRef", "SG-20260520-000042")
	values.Set("vnp_Amount", "660000000")
	values.Set("vnp_TransactionNo", "14422574")
	values.Set("vnp_BankCode", "NCB")
	values.Set("vnp_ResponseCode", "00")
	values.Set("vnp_PayDate", "20260520103500")

	params, err := gateway.ParseReturn(values)
	if err != nil {
		t.Fatalf("ParseReturn returned error: %v", err)
	}
	if params.OrderNumber != "SG-20260520-000042" {
		t.Errorf("unexpected order number %s", params.OrderNumber)
	}
	if params.Amount != 6_600_000 {
		t.Errorf("amount = %d, want 6600000", params.Amount)
	}
	if params.TransactionNo != "14422574" {
		t.Errorf("unexpected transaction no %s", params.TransactionNo)
	}
	if !params.Succeeded() {
		t.Error("expected response code 00 to report success")
	}
	if params.PayDate == nil || params.PayDate.Minute() != 35 {
		t.Errorf("unexpected pay date %v", params.PayDate)
	}

	values.Set("vnp_ResponseCode", "24")
	params, err = gateway.ParseReturn(values)
	if err != nil {
		t.Fatalf("ParseReturn returned error: %v", err)
	}
	if params.Succeeded() {
		t.Error("expected response code 24 to report failure")
	}
}

func TestParseReturnRequiresTxnRef(t *testing.T) {
	gateway := testGateway(t)
	if _, err := gateway.ParseReturn(url.Values{}); err == nil {
		t.Fatal("expected error for callback without transaction reference")
	}
}

func TestCanonicalQueryOrderingAndEncoding(t *testing.T) {
	query := canonicalQuery(map[string]string{
		"vnp_OrderInfo": "don hang 42",
		"vnp_Amount":    "100",
		"vnp_ReturnUrl": "https://shop.example.com/return",
		"vnp_Empty":     "",
	})

	want := "vnp_Amount=100&vnp_OrderInfo=don+hang+42&vnp_ReturnUrl=https%3A%2F%2Fshop.example.com%2Freturn"
	if query != want {
		t.Fatalf("canonical query mismatch:\n got %s\nwant %s", query, want)
	}
	if strings.Contains(query, "%20") {
		t.Fatal("encoded spaces must be rendered as literal plus signs")
	}
}

func TestNormalizeOrderInfo(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Thanh toán đơn hàng #123", "Thanh toan don hang 123"},
		{"Đặt hàng: áo sơ-mi  (size L)!!", "Dat hang ao so mi size L"},
		{"  plain ascii  ", "plain ascii"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizeOrderInfo(tc.in); got != tc.want {
			t.Errorf("NormalizeOrderInfo(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeClientIP(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "127.0.0.1"},
		{"::1", "127.0.0.1"},
		{"2001:db8::2", "127.0.0.1"},
		{"::ffff:192.168.1.10", "192.168.1.10"},
		{"10.0.0.1:51234", "10.0.0.1"},
		{"203.113.0.5", "203.113.0.5"},
		{"not-an-ip", "127.0.0.1"},
	}
	for _, tc := range cases {
		if got := normalizeClientIP(tc.in); got != tc.want {
			t.Errorf("normalizeClientIP(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
