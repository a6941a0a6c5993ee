package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"checkout-service/internal/dto"
	"checkout-service/internal/gateway"
	"checkout-service/internal/model"
	"checkout-service/internal/service"
)

type PaymentController struct {
	Service     *service.PaymentService
	FrontendURL string
}

func NewPaymentController(s *service.PaymentService, frontendURL string) *PaymentController {
	return &PaymentController{Service: s, FrontendURL: strings.TrimRight(frontendURL, "/")}
}

// POST /payments/initiate
func (ctl *PaymentController) Initiate(c *gin.Context) {
	var req dto.InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	in := service.InitiateInput{OrderRef: req.OrderRef, Method: req.Method, Amount: req.Amount}
	if req.Contact != nil {
		in.Contact = &model.Contact{Name: req.Contact.Name, Email: req.Contact.Email, Phone: req.Contact.Phone}
	}

	session, err := ctl.Service.InitiatePayment(c.Request.Context(), in)
	ctl.respondSession(c, session, err)
}

// POST /payments/retry/:orderRef
func (ctl *PaymentController) Retry(c *gin.Context) {
	var req dto.RetryPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := ctl.Service.RetryPayment(c.Request.Context(), c.Param("orderRef"), req.Method)
	ctl.respondSession(c, session, err)
}

func (ctl *PaymentController) respondSession(c *gin.Context, session *service.PaymentSession, err error) {
	if errors.Is(err, gateway.ErrCODUnavailable) && session != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "cod": session.COD})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

// POST /payments/cod/check-availability
func (ctl *PaymentController) CheckCOD(c *gin.Context) {
	var req dto.CODCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, ctl.Service.CheckCOD(req.City, req.Amount))
}

// GET /orders/:orderRef/status
func (ctl *PaymentController) GetStatus(c *gin.Context) {
	v, err := ctl.Service.GetStatus(c.Request.Context(), c.Param("orderRef"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// POST /payments/jazzcash/verify - el cliente vuelve del portal con el form firmado
func (ctl *PaymentController) JazzCashVerify(c *gin.Context) {
	ctl.redirectCallback(c, model.GatewayJazzCash)
}

// POST /payments/bank/callback
func (ctl *PaymentController) BankCallback(c *gin.Context) {
	ctl.redirectCallback(c, model.GatewayBank)
}

func (ctl *PaymentController) redirectCallback(c *gin.Context, g model.Gateway) {
	fields, err := callbackFields(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out, err := ctl.Service.HandleVerification(c.Request.Context(), g, gateway.Callback{Fields: fields, Header: c.Request.Header})
	if err != nil {
		respondError(c, err)
		return
	}

	success := out.PaymentStatus == model.PaymentCompleted
	c.JSON(http.StatusOK, gin.H{
		"success":     success,
		"status":      out.PaymentStatus,
		"orderRef":    out.OrderRef,
		"duplicate":   out.Duplicate,
		"redirectUrl": ctl.resultURL(out.OrderRef, success),
	})
}

func (ctl *PaymentController) resultURL(orderRef string, success bool) string {
	path := "/payment/failed"
	if success {
		path = "/payment/success"
	}
	return ctl.FrontendURL + path + "?orderRef=" + url.QueryEscape(orderRef)
}

// POST /payments/easypaisa/callback - notificación servidor a servidor
func (ctl *PaymentController) EasyPaisaCallback(c *gin.Context) {
	fields, err := callbackFields(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := ctl.Service.HandleVerification(c.Request.Context(), model.GatewayEasyPaisa, gateway.Callback{Fields: fields, Header: c.Request.Header}); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// POST /payments/stripe/webhook - la firma cubre el body crudo
func (ctl *PaymentController) StripeWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read body"})
		return
	}

	if _, err := ctl.Service.HandleVerification(c.Request.Context(), model.GatewayStripe, gateway.Callback{Body: body, Header: c.Request.Header}); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// POST /payments/paypal/capture - el frontend avisa que el comprador aprobó
func (ctl *PaymentController) PayPalCapture(c *gin.Context) {
	var req dto.PayPalCaptureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out, err := ctl.Service.HandleVerification(c.Request.Context(), model.GatewayPayPal, gateway.Callback{
		Fields: map[string]string{"paypalOrderId": req.PayPalOrderID},
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   out.PaymentStatus == model.PaymentCompleted,
		"status":    out.PaymentStatus,
		"orderRef":  out.OrderRef,
		"reason":    out.Reason,
		"duplicate": out.Duplicate,
	})
}

// callbackFields acepta form-urlencoded o JSON plano.
func callbackFields(c *gin.Context) (map[string]string, error) {
	if strings.HasPrefix(c.ContentType(), "application/json") {
		var raw map[string]any
		dec := json.NewDecoder(c.Request.Body)
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("invalid callback body: %w", err)
		}
		fields := make(map[string]string, len(raw))
		for k, v := range raw {
			if v == nil {
				continue
			}
			fields[k] = fmt.Sprint(v)
		}
		return fields, nil
	}

	if err := c.Request.ParseForm(); err != nil {
		return nil, fmt.Errorf("invalid callback form: %w", err)
	}
	fields := make(map[string]string, len(c.Request.PostForm))
	for k := range c.Request.PostForm {
		fields[k] = c.Request.PostForm.Get(k)
	}
	return fields, nil
}
