package handler

import (
	"errors"
	"net/http"
	"strconv"

	. "accounts/internal/adapter/http/helper"
	. "accounts/internal/adapter/http/validation"
	"accounts/internal/core/domain"
	"accounts/internal/core/model/request"
	"accounts/internal/core/port"
	"accounts/internal/core/util"
	"accounts/pkg/auth"
	"accounts/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type AccountHandler struct {
	svc    port.AccountService
	logger *otelzap.Logger
}

func NewAccountHandler(svc port.AccountService, logger *otelzap.Logger) *AccountHandler {
	return &AccountHandler{
		svc:    svc,
		logger: logger,
	}
}

func (h *AccountHandler) Register(c *gin.Context) {
	ctx := c.Request.Context()

	params, err := util.ParamsToMap[request.RegisterRequest](c)

	if err != nil {
		SendBadRequestError(c, "request", "Invalid request parameters")
		return
	}

	if err := Validator.Struct(params); err != nil {
		SendValidationError(c, err)
		return
	}

	view, err := h.svc.Register(ctx, &params)

	if err != nil {
		h.fail(c, "Register", err)
		return
	}

	SendSuccess(c, http.StatusCreated, view, "Account created")
}

func (h *AccountHandler) Login(c *gin.Context) {
	ctx, span := tracing.CreateChildSpan(c.Request.Context(), "handler.account.Login", []attribute.KeyValue{
		attribute.String("handler.operation", "Login"),
		attribute.String("handler.path", c.FullPath()),
	})

	defer span.End()

	params, err := util.ParamsToMap[request.LoginRequest](c)

	if err != nil {
		SendBadRequestError(c, "request", "Invalid request parameters")
		return
	}

	if err := Validator.Struct(params); err != nil {
		SendValidationError(c, err)
		return
	}

	account, err := h.svc.Authenticate(ctx, params.Email, params.Password)

	if err != nil {
		h.fail(c, "Login", err)
		return
	}

	session, err := h.svc.IssueSession(ctx, account)

	if err != nil {
		h.fail(c, "Login", err)
		return
	}

	span.SetAttributes(attribute.String("account.id", account.ID))

	SendSuccess(c, http.StatusOK, session, "Welcome "+account.Name)
}

func (h *AccountHandler) GetByAPIKey(c *gin.Context) {
	view, err := h.svc.LookupByAPIKey(c.Request.Context(), c.Param("apiKey"))

	if err != nil {
		h.fail(c, "GetByAPIKey", err)
		return
	}

	SendSuccess(c, http.StatusOK, view)
}

func (h *AccountHandler) List(c *gin.Context) {
	limit := 0

	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)

		if err != nil {
			SendBadRequestError(c, "limit", "limit must be a number")
			return
		}

		limit = parsed
	}

	ctx, span := tracing.CreateChildSpan(c.Request.Context(), "handler.account.List", []attribute.KeyValue{
		attribute.Int("account.limit", limit),
		attribute.Bool("account.has_cursor", c.Query("cursor") != ""),
	})

	defer span.End()

	page, err := h.svc.List(ctx, limit, c.Query("cursor"))

	if err != nil {
		h.fail(c, "List", err)
		return
	}

	tracing.AddHTTPAttributes(span, c.Request.Method, c.FullPath(), http.StatusOK)

	c.JSON(http.StatusOK, page)
}

func (h *AccountHandler) GetByID(c *gin.Context) {
	view, err := h.svc.GetByID(c.Request.Context(), c.Param("id"))

	if err != nil {
		h.fail(c, "GetByID", err)
		return
	}

	SendSuccess(c, http.StatusOK, view)
}

func (h *AccountHandler) UpdateProfile(c *gin.Context) {
	if !h.ownsAccount(c) {
		return
	}

	params, err := util.ParamsToMap[request.UpdateProfileRequest](c)

	if err != nil {
		SendBadRequestError(c, "request", "Invalid request parameters")
		return
	}

	if err := Validator.Struct(params); err != nil {
		SendValidationError(c, err)
		return
	}

	view, err := h.svc.UpdateProfile(c.Request.Context(), c.Param("id"), &params)

	if err != nil {
		h.fail(c, "UpdateProfile", err)
		return
	}

	SendSuccess(c, http.StatusOK, view)
}

// UpdateUsage is open to any authenticated caller; metering services report
// usage on behalf of other accounts.
func (h *AccountHandler) UpdateUsage(c *gin.Context) {
	params, err := util.ParamsToMap[request.UpdateUsageRequest](c)

	if err != nil {
		SendBadRequestError(c, "request", "Invalid request parameters")
		return
	}

	if err := Validator.Struct(params); err != nil {
		SendValidationError(c, err)
		return
	}

	view, err := h.svc.UpdateUsageAndPermissions(c.Request.Context(), c.Param("id"), params.UsageCounters, params.PermissionMatrix)

	if err != nil {
		h.fail(c, "UpdateUsage", err)
		return
	}

	SendSuccess(c, http.StatusOK, view)
}

func (h *AccountHandler) ChangePassword(c *gin.Context) {
	if !h.ownsAccount(c) {
		return
	}

	params, err := util.ParamsToMap[request.ChangePasswordRequest](c)

	if err != nil {
		SendBadRequestError(c, "request", "Invalid request parameters")
		return
	}

	if err := Validator.Struct(params); err != nil {
		SendValidationError(c, err)
		return
	}

	if err := h.svc.ChangePassword(c.Request.Context(), c.Param("id"), params.OldPassword, params.NewPassword); err != nil {
		h.fail(c, "ChangePassword", err)
		return
	}

	SendSuccess(c, http.StatusOK, nil, "Password updated")
}

func (h *AccountHandler) ownsAccount(c *gin.Context) bool {
	if c.GetString(auth.AccountIDKey) == c.Param("id") {
		return true
	}

	SendForbiddenError(c, "You can only modify your own account")
	return false
}

// fail logs unexpected errors and renders every error through the domain
// mapping. Expected outcomes (conflicts, bad credentials) log at debug.
func (h *AccountHandler) fail(c *gin.Context, operation string, err error) {
	ctx := c.Request.Context()
	log := h.logger.Ctx(ctx)

	tracing.AddSpanError(trace.SpanFromContext(ctx), err)

	if isExpected(err) {
		log.Debug("request rejected", zap.String("operation", operation), zap.Error(err))
	} else {
		log.Error("request failed", zap.String("operation", operation), zap.Error(err))
	}

	SendDomainError(c, err)
}

func isExpected(err error) bool {
	return errors.Is(err, domain.ErrConflict) ||
		errors.Is(err, domain.ErrUnauthorized) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrValidation)
}
