package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"polyatop/backend/internal/auth"
	"polyatop/backend/internal/config"
	"polyatop/backend/internal/http/middleware"
	"polyatop/backend/internal/integrations"
	"polyatop/backend/internal/models"
	"polyatop/backend/internal/payments"
	"polyatop/backend/internal/repository"

	"golang.org/x/crypto/bcrypt"
)

const (
	testJWTSecret     = "test-jwt-secret"
	testBotToken      = "123456:TEST-token"
	testWebhookSecret = "hook-secret"
)

type botCalls struct {
	mu    sync.Mutex
	forms map[string][]url.Values
}

func (b *botCalls) count(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.forms[method])
}

func (b *botCalls) last(method string) url.Values {
	b.mu.Lock()
	defer b.mu.Unlock()
	forms := b.forms[method]
	if len(forms) == 0 {
		return nil
	}
	return forms[len(forms)-1]
}

func newBotServer(t *testing.T) (string, *botCalls) {
	t.Helper()
	calls := &botCalls{forms: make(map[string][]url.Values)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		calls.mu.Lock()
		calls.forms[method] = append(calls.forms[method], r.PostForm)
		calls.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if method == "answerPreCheckoutQuery" {
			_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":1,"type":"private"}}}`))
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/bot%s/%s", calls
}

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret:      testJWTSecret,
		TelegramToken:  testBotToken,
		WebhookSecret:  testWebhookSecret,
		InitDataMaxAge: time.Hour,
		BaseURL:        "https://app.polyatop.test",
		Timezone:       time.FixedZone("UZT", 5*3600),
		AdminTGIDs:     map[int64]struct{}{900: {}},
		Payments:       config.PaymentsConfig{ProviderToken: "provider-token", Currency: "UZS"},
		Click: config.ClickConfig{
			ServiceID:  "111",
			MerchantID: "222",
			SecretKey:  "click-secret",
		},
	}
}

// newTestHandler wires a Handler against repo, which may wrap a nil pool for
// paths that must not reach the database.
func newTestHandler(t *testing.T, repo *repository.Repository, cfg *config.Config) (*Handler, http.Handler, *botCalls) {
	t.Helper()
	endpoint, calls := newBotServer(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	telegram := integrations.NewTelegramClient(cfg.TelegramToken, cfg.Payments.ProviderToken, endpoint)
	h := New(Deps{
		Repo:     repo,
		Payments: payments.NewService(repo, telegram, cfg, logger),
		Telegram: telegram,
		Config:   cfg,
		Logger:   logger,
	})
	return h, NewRouter(h, logger), calls
}

func doJSON(t *testing.T, router http.Handler, method, target, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func bearer(t *testing.T, userID, telegramID int64, role string) string {
	t.Helper()
	token, err := auth.SignAccessToken(testJWTSecret, userID, telegramID, role)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func postWebhook(router http.Handler, secret, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(webhookSecretHeader, secret)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestHealthz(t *testing.T) {
	_, router, _ := newTestHandler(t, repository.New(nil), testConfig())
	rr := doJSON(t, router, http.MethodGet, "/healthz", "", nil)
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("unexpected healthz response %d %q", rr.Code, rr.Body.String())
	}
}

func TestWebhookRejectsWrongSecret(t *testing.T) {
	_, router, calls := newTestHandler(t, repository.New(nil), testConfig())
	body := `{"update_id":1,"pre_checkout_query":{"id":"q1","from":{"id":5,"is_bot":false,"first_name":"A"},"currency":"UZS","total_amount":100,"invoice_payload":"x"}}`

	if rr := postWebhook(router, "", body); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without secret, got %d", rr.Code)
	}
	if rr := postWebhook(router, "wrong", body); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong secret, got %d", rr.Code)
	}
	if calls.count("answerPreCheckoutQuery") != 0 {
		t.Fatalf("rejected updates must not reach the Bot API")
	}
}

func TestWebhookRejectsMalformedJSON(t *testing.T) {
	_, router, _ := newTestHandler(t, repository.New(nil), testConfig())
	if rr := postWebhook(router, testWebhookSecret, `{"update_id":`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestWebhookPreCheckoutUnknownPayloadIsDeclined(t *testing.T) {
	_, router, calls := newTestHandler(t, repository.New(nil), testConfig())
	body := `{"update_id":2,"pre_checkout_query":{"id":"q2","from":{"id":5,"is_bot":false,"first_name":"A"},"currency":"UZS","total_amount":100,"invoice_payload":"garbage"}}`

	rr := postWebhook(router, testWebhookSecret, body)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	form := calls.last("answerPreCheckoutQuery")
	if form == nil {
		t.Fatalf("expected pre-checkout answer")
	}
	if form.Get("pre_checkout_query_id") != "q2" || form.Get("ok") == "true" || form.Get("error_message") == "" {
		t.Fatalf("expected a declined answer, got %v", form)
	}
}

func TestWebhookDeduplicatesUpdateID(t *testing.T) {
	_, router, calls := newTestHandler(t, repository.New(nil), testConfig())
	body := `{"update_id":3,"pre_checkout_query":{"id":"q3","from":{"id":5,"is_bot":false,"first_name":"A"},"currency":"UZS","total_amount":100,"invoice_payload":"garbage"}}`

	for i := 0; i < 3; i++ {
		if rr := postWebhook(router, testWebhookSecret, body); rr.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected 200, got %d", i, rr.Code)
		}
	}
	if n := calls.count("answerPreCheckoutQuery"); n != 1 {
		t.Fatalf("expected a single answer, got %d", n)
	}
}

func TestWebhookSuccessfulPaymentUnknownPayload(t *testing.T) {
	_, router, _ := newTestHandler(t, repository.New(nil), testConfig())
	body := `{"update_id":4,"message":{"message_id":1,"date":0,"chat":{"id":5,"type":"private"},` +
		`"successful_payment":{"currency":"UZS","total_amount":100,"invoice_payload":"nope",` +
		`"telegram_payment_charge_id":"tg-1","provider_payment_charge_id":"pr-1"}}}`

	if rr := postWebhook(router, testWebhookSecret, body); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestWebhookStartSendsAppLink(t *testing.T) {
	_, router, calls := newTestHandler(t, repository.New(nil), testConfig())
	body := `{"update_id":5,"message":{"message_id":1,"date":0,"chat":{"id":5,"type":"private"},` +
		`"text":"/start","entities":[{"type":"bot_command","offset":0,"length":6}]}}`

	if rr := postWebhook(router, testWebhookSecret, body); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	form := calls.last("sendMessage")
	if form == nil || form.Get("chat_id") != "5" {
		t.Fatalf("expected welcome message, got %v", form)
	}
	if !strings.Contains(form.Get("reply_markup"), "https://app.polyatop.test") {
		t.Fatalf("expected web app link, got %q", form.Get("reply_markup"))
	}
}

func TestClickPrepareRejectsBadSignature(t *testing.T) {
	_, router, _ := newTestHandler(t, repository.New(nil), testConfig())
	form := url.Values{}
	form.Set("click_trans_id", "1001")
	form.Set("service_id", "111")
	form.Set("click_paydoc_id", "2002")
	form.Set("merchant_trans_id", "booking_1_abc")
	form.Set("amount", "1000")
	form.Set("action", "0")
	form.Set("error", "0")
	form.Set("sign_time", "2026-10-20 12:00:00")
	form.Set("sign_string", "deadbeef")

	req := httptest.NewRequest(http.MethodPost, "/payments/click/prepare", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("Click callbacks always get 200, got %d", rr.Code)
	}
	var resp payments.ClickResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error != payments.ClickSignFailed || resp.ClickTransID != 1001 || resp.MerchantTransID != "booking_1_abc" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestAuthTelegramRejectsInvalidInitData(t *testing.T) {
	_, router, _ := newTestHandler(t, repository.New(nil), testConfig())

	values := url.Values{}
	values.Set("user", `{"id":42,"first_name":"A"}`)
	values.Set("auth_date", "1760000000")
	values.Set("hash", auth.SignInitData(values, "999:other-token"))

	rr := doJSON(t, router, http.MethodPost, "/auth/telegram", "", map[string]string{"initData": values.Encode()})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	rr = doJSON(t, router, http.MethodPost, "/auth/telegram", "", map[string]string{})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing initData, got %d", rr.Code)
	}
}

func TestAuthAdminChecksCredentials(t *testing.T) {
	cfg := testConfig()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	cfg.AdminLogin = "ops"
	cfg.AdminPassHash = string(hash)
	_, router, _ := newTestHandler(t, repository.New(nil), cfg)

	rr := doJSON(t, router, http.MethodPost, "/auth/admin", "", map[string]string{"username": "ops", "password": "wrong"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", rr.Code)
	}
	rr = doJSON(t, router, http.MethodPost, "/auth/admin", "", map[string]interface{}{"username": "ops", "password": "s3cret", "telegramId": 12345})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a non-admin telegram id, got %d", rr.Code)
	}
}

func TestCreateBookingRejectsInvertedIntervalWithoutDB(t *testing.T) {
	_, router, _ := newTestHandler(t, repository.New(nil), testConfig())
	token := bearer(t, 1, 5001, models.RoleCustomer)
	start := time.Now().Add(48 * time.Hour).Truncate(time.Hour)

	rr := doJSON(t, router, http.MethodPost, "/bookings", token, map[string]interface{}{
		"venueId":       1,
		"startTime":     start,
		"endTime":       start.Add(-time.Hour),
		"paymentMethod": models.PaymentMethodCash,
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = doJSON(t, router, http.MethodPost, "/bookings", token, map[string]interface{}{
		"venueId":       1,
		"startTime":     start,
		"endTime":       start,
		"paymentMethod": models.PaymentMethodCash,
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an empty interval, got %d", rr.Code)
	}
}

func TestCreateBookingRequiresAuth(t *testing.T) {
	_, router, _ := newTestHandler(t, repository.New(nil), testConfig())
	rr := doJSON(t, router, http.MethodPost, "/bookings", "", map[string]interface{}{"venueId": 1})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestCreateBookingRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.BookingRateLimit = 1
	_, router, _ := newTestHandler(t, repository.New(nil), cfg)
	token := bearer(t, 1, 5001, models.RoleCustomer)
	start := time.Now().Add(48 * time.Hour).Truncate(time.Hour)
	body := map[string]interface{}{
		"venueId":       1,
		"startTime":     start,
		"endTime":       start.Add(-time.Hour),
		"paymentMethod": models.PaymentMethodCash,
	}

	if rr := doJSON(t, router, http.MethodPost, "/bookings", token, body); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected first attempt to reach validation, got %d", rr.Code)
	}
	if rr := doJSON(t, router, http.MethodPost, "/bookings", token, body); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	other := bearer(t, 2, 5002, models.RoleCustomer)
	if rr := doJSON(t, router, http.MethodPost, "/bookings", other, body); rr.Code != http.StatusBadRequest {
		t.Fatalf("limits are per user, got %d", rr.Code)
	}
}

func TestCreateBookingRejectsUnknownPaymentMethod(t *testing.T) {
	_, router, _ := newTestHandler(t, repository.New(nil), testConfig())
	token := bearer(t, 1, 5001, models.RoleCustomer)
	start := time.Now().Add(48 * time.Hour).Truncate(time.Hour)
	rr := doJSON(t, router, http.MethodPost, "/bookings", token, map[string]interface{}{
		"venueId":       1,
		"startTime":     start,
		"endTime":       start.Add(time.Hour),
		"paymentMethod": "barter",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestAvailabilityValidatesDate(t *testing.T) {
	h, router, _ := newTestHandler(t, repository.New(nil), testConfig())
	h.now = func() time.Time { return time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC) }

	if rr := doJSON(t, router, http.MethodGet, "/venues/1/availability?date=20.10.2026", "", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed date, got %d", rr.Code)
	}
	if rr := doJSON(t, router, http.MethodGet, "/venues/1/availability?date=2026-10-19", "", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a past date, got %d", rr.Code)
	}
	if rr := doJSON(t, router, http.MethodGet, "/venues/abc/availability?date=2026-10-21", "", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad venue id, got %d", rr.Code)
	}
}

func TestStatsRange(t *testing.T) {
	h, _, _ := newTestHandler(t, repository.New(nil), testConfig())
	now := time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }

	cases := []struct {
		query    string
		wantDays float64
		wantErr  bool
	}{
		{"period=day", 1, false},
		{"period=week", 7, false},
		{"", 30, false},
		{"from=2026-10-01&to=2026-10-10", 10, false},
		{"period=year", 0, true},
		{"from=2026-10-10&to=2026-10-01", 0, true},
		{"from=2026-10-10", 0, true},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/owner/stats/finance?"+tc.query, nil)
		from, to, err := h.statsRange(r)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", tc.query)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: unexpected error %v", tc.query, err)
		}
		if days := to.Sub(from).Hours() / 24; days != tc.wantDays {
			t.Fatalf("%q: expected %v days, got %v", tc.query, tc.wantDays, days)
		}
	}
}

func TestOwnerScope(t *testing.T) {
	h, _, _ := newTestHandler(t, repository.New(nil), testConfig())
	cases := []struct {
		role string
		want int64
	}{
		{models.RoleOwner, 7},
		{models.RoleSupport, 0},
		{models.RoleSuperadmin, 0},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/owner/bookings", nil)
		r = r.WithContext(middleware.WithIdentity(r.Context(), 7, 5007, tc.role))
		if got := h.ownerScope(r); got != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.role, tc.want, got)
		}
	}
}

func TestFavoritesValidateInput(t *testing.T) {
	_, router, _ := newTestHandler(t, repository.New(nil), testConfig())
	token := bearer(t, 1, 5001, models.RoleCustomer)

	if rr := doJSON(t, router, http.MethodGet, "/me/favorites", "", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
	cases := []struct {
		method, path string
		body         interface{}
	}{
		{http.MethodPost, "/me/favorites", map[string]interface{}{}},
		{http.MethodPost, "/me/favorites", map[string]interface{}{"venueId": -3}},
		{http.MethodPost, "/me/favorites", "{"},
		{http.MethodDelete, "/me/favorites/abc", nil},
	}
	for _, tc := range cases {
		if rr := doJSON(t, router, tc.method, tc.path, token, tc.body); rr.Code != http.StatusBadRequest {
			t.Fatalf("%s %s %v: expected 400, got %d", tc.method, tc.path, tc.body, rr.Code)
		}
	}
}

func TestVenueRemovalValidatesInput(t *testing.T) {
	_, router, _ := newTestHandler(t, repository.New(nil), testConfig())
	admin := bearer(t, 1, 900, models.RoleCustomer)

	cases := []struct {
		path string
		body interface{}
	}{
		{"/owner/venues/zero", nil},
		{"/owner/venues/1/images", map[string]string{}},
		{"/owner/venues/1/images", map[string]string{"url": "not a url"}},
		{"/owner/venues/x/images", map[string]string{"url": "https://cdn.polyatop.test/a.jpg"}},
	}
	for _, tc := range cases {
		if rr := doJSON(t, router, http.MethodDelete, tc.path, admin, tc.body); rr.Code != http.StatusBadRequest {
			t.Fatalf("DELETE %s %v: expected 400, got %d", tc.path, tc.body, rr.Code)
		}
	}
}

func TestPresignVenueImageRejectsBadUpload(t *testing.T) {
	h, router, _ := newTestHandler(t, repository.New(nil), testConfig())
	s3, err := integrations.NewS3(context.Background(), config.S3Config{Bucket: "polyatop", PublicEndpoint: "https://cdn.polyatop.test"})
	if err != nil {
		t.Fatalf("NewS3: %v", err)
	}
	h.s3 = s3
	admin := bearer(t, 1, 900, models.RoleCustomer)

	cases := []map[string]interface{}{
		{"fileName": "a.gif", "contentType": "image/gif"},
		{"fileName": "a.jpg", "contentType": "image/jpeg", "sizeBytes": integrations.MaxVenueImageBytes + 1},
	}
	for _, body := range cases {
		if rr := doJSON(t, router, http.MethodPost, "/owner/venues/1/images/presign", admin, body); rr.Code != http.StatusBadRequest {
			t.Fatalf("%v: expected 400, got %d %s", body, rr.Code, rr.Body.String())
		}
	}
}
