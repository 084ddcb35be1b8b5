package transfer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmathis/riskgate/internal/account"
	"github.com/kmathis/riskgate/internal/auth"
	"github.com/kmathis/riskgate/internal/logging"
	"github.com/kmathis/riskgate/internal/mfa"
	"github.com/kmathis/riskgate/internal/risk"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type handlerFixture struct {
	router *gin.Engine
	svc    *Service
	scorer *stubScorer

	senderUser   *account.User
	senderAcct   *account.Account
	receiverAcct *account.Account

	// now is read by both the service and MFA engine clocks; tests
	// advance it to move time forward.
	now time.Time
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	ctx := context.Background()

	f := &handlerFixture{now: time.Now().UTC()}
	clock := func() time.Time { return f.now }

	accounts := account.NewService(account.NewMemoryStore(),
		account.WithDefaults("RSKGT", "USD", 1000))
	senderUser, senderAcct, err := accounts.GetOrCreateUser(ctx, "sender@example.com", "Sam Sender")
	require.NoError(t, err)
	_, receiverAcct, err := accounts.GetOrCreateUser(ctx, "receiver@example.com", "Rae Receiver")
	require.NoError(t, err)

	engine, err := mfa.NewEngine(mfa.NewMemoryStore(), mfa.Config{
		CodeTTL:       5 * time.Minute,
		MaxAttempts:   3,
		CodeLength:    6,
		SigningSecret: "test-secret",
	})
	require.NoError(t, err)
	engine.WithClock(clock)

	thresholds, err := risk.NewThresholds(0.10, 0.50)
	require.NoError(t, err)

	scorer := &stubScorer{p: 0.45}
	svc := NewService(NewMemoryStore(), accounts, scorer, engine, thresholds, "USD").
		WithClock(clock)

	logger := logging.New("error", "text")
	accountHandler := account.NewHandler(accounts, logger)
	handler := NewHandler(svc, accountHandler, nil, logger, true, false)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(auth.ContextKeyIdentity, &auth.Identity{
			Method:    "api_key",
			Principal: "test",
			Email:     "sender@example.com",
			FullName:  "Sam Sender",
		})
		c.Next()
	})
	handler.RegisterRoutes(router.Group("/v1"))

	f.router = router
	f.svc = svc
	f.scorer = scorer
	f.senderUser = senderUser
	f.senderAcct = senderAcct
	f.receiverAcct = receiverAcct
	return f
}

func (f *handlerFixture) postJSON(t *testing.T, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *handlerFixture) parkedTransfer(t *testing.T) (transferID, code string) {
	t.Helper()
	ctx := context.Background()

	result, err := f.svc.Initiate(ctx, InitiateRequest{
		Sender:           f.senderAcct,
		SenderUserID:     f.senderUser.ID,
		ReceiverBankCode: f.receiverAcct.BankCode,
		ReceiverNumber:   f.receiverAcct.Number,
		Amount:           200,
	})
	require.NoError(t, err)
	require.Equal(t, StatusMfaRequired, result.Transfer.Status)

	_, code, _, err = f.svc.IssueChallenge(ctx, result.Transfer.ID, f.senderUser.ID)
	require.NoError(t, err)
	return result.Transfer.ID, code
}

func TestVerifyExpiredChallengeIsUnauthorized(t *testing.T) {
	f := newHandlerFixture(t)
	transferID, code := f.parkedTransfer(t)

	// The code's lifetime has lapsed by the time it is presented.
	f.now = f.now.Add(10 * time.Minute)

	w := f.postJSON(t, "/v1/banking/transfers/"+transferID+"/mfa/verify",
		`{"code":"`+code+`"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "challenge_expired", body["error"])

	// The transfer stays parked; a fresh challenge can still complete it.
	stored, err := f.svc.Get(context.Background(), transferID, f.senderUser.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusMfaRequired, stored.Status)
}

func TestVerifyLockedChallengeIsForbidden(t *testing.T) {
	f := newHandlerFixture(t)
	transferID, code := f.parkedTransfer(t)

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	for i := 0; i < 3; i++ {
		f.postJSON(t, "/v1/banking/transfers/"+transferID+"/mfa/verify",
			`{"code":"`+wrong+`"}`)
	}

	w := f.postJSON(t, "/v1/banking/transfers/"+transferID+"/mfa/verify",
		`{"code":"`+code+`"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "challenge_locked", body["error"])
}
