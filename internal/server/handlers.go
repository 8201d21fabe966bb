package server

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"mealsub-backend/internal/domain"
	"mealsub-backend/internal/infrastructure/provider"
	"mealsub-backend/internal/metrics"
	"mealsub-backend/internal/usecase"
)

const maxWebhookBody = 1 << 20

type createOrderReq struct {
	DeliveryDate  *domain.Date              `json:"deliveryDate"`
	Items         []usecase.CreateOrderItem `json:"items"`
	PaymentMethod string                    `json:"paymentMethod"`
	CustomerID    string                    `json:"customerId"`
}

func (s *Server) handleCreateOrder(c *gin.Context) {
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "invalid json: "+err.Error())
		return
	}
	var errs []string
	if req.DeliveryDate == nil {
		errs = append(errs, "deliveryDate required")
	}
	var method domain.PaymentMethod
	if req.PaymentMethod != "" {
		m, ok := domain.ParsePaymentMethod(req.PaymentMethod)
		if !ok {
			errs = append(errs, "unknown paymentMethod "+req.PaymentMethod)
		}
		method = m
	}
	if len(errs) > 0 {
		s.badRequest(c, errs...)
		return
	}
	view, err := s.Orders.Create(c.Request.Context(), actorOf(c), usecase.CreateOrderInput{
		CustomerID:    req.CustomerID,
		DeliveryDate:  *req.DeliveryDate,
		Items:         req.Items,
		PaymentMethod: method,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (s *Server) handleListOrders(c *gin.Context) {
	page, _ := strconv.Atoi(c.Query("page"))
	size, _ := strconv.Atoi(c.Query("pageSize"))
	items, total, err := s.Orders.List(c.Request.Context(), actorOf(c), page, size)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": total})
}

func (s *Server) handleGetOrder(c *gin.Context) {
	view, err := s.Orders.Get(c.Request.Context(), actorOf(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type statusReq struct {
	Status      string  `json:"status"`
	ProviderRef *string `json:"providerRef"`
}

func (s *Server) handleOrderStatus(c *gin.Context) {
	var req statusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "invalid json: "+err.Error())
		return
	}
	next, ok := domain.ParseOrderStatus(req.Status)
	if !ok {
		s.badRequest(c, "unknown order status "+req.Status)
		return
	}
	o, err := s.Orders.Transition(c.Request.Context(), c.Param("id"), next, actorOf(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) handleGetPayment(c *gin.Context) {
	p, err := s.Payments.Get(c.Request.Context(), actorOf(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handlePaymentStatus(c *gin.Context) {
	var req statusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "invalid json: "+err.Error())
		return
	}
	next, ok := domain.ParsePaymentStatus(req.Status)
	if !ok {
		s.badRequest(c, "unknown payment status "+req.Status)
		return
	}
	p, err := s.Payments.UpdateStatus(c.Request.Context(), actorOf(c), c.Param("id"), usecase.PaymentUpdate{
		Status:      next,
		ProviderRef: req.ProviderRef,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleCreateIntent(c *gin.Context) {
	ch, ok := domain.ParseChannel(c.GetHeader("X-Client-Channel"))
	if !ok {
		s.badRequest(c, "X-Client-Channel must be web or mobile")
		return
	}
	in, created, err := s.Intents.GetOrCreate(c.Request.Context(), actorOf(c), usecase.IntentRequest{
		PaymentID:      c.Param("id"),
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
		Channel:        ch,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, in)
}

func (s *Server) handleLatestIntent(c *gin.Context) {
	in, err := s.Intents.Latest(c.Request.Context(), actorOf(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, in)
}

func (s *Server) handleWebhook(c *gin.Context) {
	name, ok := domain.ParseProviderName(c.Param("provider"))
	if !ok {
		metrics.RecordWebhook(c.Param("provider"), "not_found")
		s.fail(c, domain.ErrNotFound("provider"))
		return
	}
	adapter, ok := s.Providers.Get(name)
	if !ok {
		metrics.RecordWebhook(string(name), "not_found")
		s.fail(c, domain.ErrNotFound("provider"))
		return
	}
	if err := s.authenticateWebhook(c, name, adapter); err != nil {
		metrics.RecordWebhook(string(name), "unauthorized")
		s.fail(c, err)
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		s.badRequest(c, "cannot read body")
		return
	}

	ctx := c.Request.Context()
	notice, err := adapter.ParseWebhook(ctx, c.Request.Header, body)
	if err != nil {
		metrics.RecordWebhook(string(name), webhookOutcome(err))
		s.fail(c, err)
		return
	}
	notice.Provider = name
	ev, isNew, err := s.Webhooks.Process(ctx, notice, body)
	if err != nil {
		metrics.RecordWebhook(string(name), webhookOutcome(err))
		s.fail(c, err)
		return
	}
	status, outcome := http.StatusOK, "replay"
	if isNew {
		status, outcome = http.StatusCreated, "processed"
	}
	metrics.RecordWebhook(string(name), outcome)
	c.JSON(status, gin.H{"event": ev, "wasNewEvent": isNew})
}

// authenticateWebhook requires the shared token when one is configured. A
// provider without a token is accepted only if its adapter verifies the
// sender itself.
func (s *Server) authenticateWebhook(c *gin.Context, name domain.ProviderName, adapter provider.Gateway) error {
	if want := s.WebhookTokens[name]; want != "" {
		got := c.GetHeader("X-Webhook-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			return errBadWebhookToken
		}
		return nil
	}
	if !adapter.VerifiesWebhooks() {
		return errWebhookUnauthenticated
	}
	return nil
}

func webhookOutcome(err error) string {
	var (
		verr domain.ErrValidation
		nerr domain.ErrNotFound
	)
	switch {
	case errors.As(err, &verr):
		return "invalid"
	case errors.As(err, &nerr):
		return "not_found"
	case isUnauthorized(err):
		return "unauthorized"
	}
	return "error"
}

type loginReq struct {
	Code string `json:"code"`
}

func (s *Server) handleWechatLogin(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "invalid json: "+err.Error())
		return
	}
	token, actor, err := s.Login.Login(c.Request.Context(), req.Code)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "customerId": actor.CustomerID, "openId": actor.OpenID})
}
