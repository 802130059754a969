package httpapi

import (
	"net/http"

	"license-controlplane/pkg/config"
	"license-controlplane/pkg/db/pagination"
	"license-controlplane/pkg/health"
	"license-controlplane/pkg/middleware"
	"license-controlplane/services/catalog"
	"license-controlplane/services/subscriptions"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

type Handler struct {
	subscriptions *subscriptions.Service
	catalog       *catalog.Service
}

type Params struct {
	fx.In
	Config        *config.Config
	Health        health.HealthService
	Subscriptions *subscriptions.Service
	Catalog       *catalog.Service `optional:"true"`
}

// ProvideRouter wires the REST surface onto a gin engine.
func ProvideRouter(p Params) http.Handler {
	if p.Config.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	h := &Handler{
		subscriptions: p.Subscriptions,
		catalog:       p.Catalog,
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.Error())

	r.GET("/healthz", p.Health.Liveness)
	r.GET("/readyz", p.Health.Readiness)

	api := r.Group("/api/v1")
	{
		api.POST("/subscriptions", h.CreatePlan)
		api.GET("/subscriptions/:plan_id", h.GetPlan)
		api.GET("/subscriptions/:plan_id/licenses", h.ListLicenses)
		api.GET("/subscriptions/:plan_id/contains-content", h.ContainsContent)
		api.POST("/subscriptions/:plan_id/licenses/assign", h.Assign)
		api.POST("/subscriptions/:plan_id/licenses/revoke", h.Revoke)
		api.POST("/subscriptions/:plan_id/licenses/revoke-all", h.RevokeAll)
		api.POST("/license-activation", h.Activate)
		api.POST("/customer-agreements", h.CreateAgreement)
		api.GET("/customer-agreements/:agreement_id", h.GetAgreement)
		api.POST("/customer-agreements/:agreement_id/auto-scale", h.AutoScale)
		api.POST("/plan-renewals/:renewal_id/process", h.ProcessRenewal)
		api.POST("/subscriptions/:plan_id/expire", h.ExpirePlan)
	}

	return r
}

type createPlanRequest struct {
	AgreementID            string `json:"agreement_id" binding:"required,uuid"`
	Title                  string `json:"title" binding:"required"`
	StartDate              string `json:"start_date" binding:"required,datetime=2006-01-02"`
	ExpirationDate         string `json:"expiration_date" binding:"required,datetime=2006-01-02"`
	DesiredNumLicenses     int    `json:"desired_num_licenses" binding:"required,gte=1"`
	EnterpriseCatalogUUID  string `json:"enterprise_catalog_uuid" binding:"omitempty,uuid"`
	IsActive               bool   `json:"is_active"`
	ForInternalUseOnly     bool   `json:"for_internal_use_only"`
	IsRevocationCapEnabled bool   `json:"is_revocation_cap_enabled"`
	RevokeMaxPercentage    int    `json:"revoke_max_percentage" binding:"omitempty,gte=0,lte=100"`
}

func (h *Handler) CreatePlan(c *gin.Context) {
	var req createPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(invalidRequest(err))
		return
	}

	plan, err := h.subscriptions.CreatePlan(c.Request.Context(), subscriptions.CreatePlanInput{
		AgreementID:            req.AgreementID,
		Title:                  req.Title,
		StartDate:              mustDate(req.StartDate),
		ExpirationDate:         mustDate(req.ExpirationDate),
		DesiredNumLicenses:     req.DesiredNumLicenses,
		EnterpriseCatalogUUID:  req.EnterpriseCatalogUUID,
		IsActive:               req.IsActive,
		ForInternalUseOnly:     req.ForInternalUseOnly,
		IsRevocationCapEnabled: req.IsRevocationCapEnabled,
		RevokeMaxPercentage:    req.RevokeMaxPercentage,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, plan)
}

// planResponse decorates the stored plan with its computed pool counts.
// The counts are never persisted; they are derived on every read.
type planResponse struct {
	*subscriptions.SubscriptionPlan
	NumLicenses             int64 `json:"num_licenses"`
	NumAllocatedLicenses    int64 `json:"num_allocated_licenses"`
	NumRevocationsRemaining int   `json:"num_revocations_remaining"`
}

func (h *Handler) GetPlan(c *gin.Context) {
	ctx := c.Request.Context()

	plan, err := h.subscriptions.GetPlan(ctx, c.Param("plan_id"))
	if err != nil {
		c.Error(err)
		return
	}

	numLicenses, err := h.subscriptions.NumLicenses(ctx, plan.ID)
	if err != nil {
		c.Error(err)
		return
	}
	numAllocated, err := h.subscriptions.NumAllocatedLicenses(ctx, plan.ID)
	if err != nil {
		c.Error(err)
		return
	}
	remaining, err := h.subscriptions.NumRevocationsRemaining(ctx, plan)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, planResponse{
		SubscriptionPlan:        plan,
		NumLicenses:             numLicenses,
		NumAllocatedLicenses:    numAllocated,
		NumRevocationsRemaining: remaining,
	})
}

func (h *Handler) ListLicenses(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		c.Error(invalidRequest(err))
		return
	}

	licenses, pageInfo, err := h.subscriptions.ListLicenses(c.Request.Context(), c.Param("plan_id"), page)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"licenses":  licenses,
		"page_info": pageInfo,
	})
}

type assignRequest struct {
	Emails        []string `json:"user_emails" binding:"required,min=1,dive,email"`
	CustomMessage string   `json:"custom_message"`
	NotifyUsers   *bool    `json:"notify_users"`
}

func (h *Handler) Assign(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(invalidRequest(err))
		return
	}

	notify := true
	if req.NotifyUsers != nil {
		notify = *req.NotifyUsers
	}

	result, err := h.subscriptions.Assign(c.Request.Context(), c.Param("plan_id"), subscriptions.AssignRequest{
		Emails:        req.Emails,
		CustomMessage: req.CustomMessage,
		NotifyUsers:   notify,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"num_assigned":              result.NumAssigned,
		"num_already_associated":    result.NumAlreadyAssociated,
		"already_associated_emails": result.AlreadyAssociatedEmails,
		"activation_links":          result.ActivationLinks,
	})
}

type revokeRequest struct {
	Email string `json:"user_email" binding:"required,email"`
}

func (h *Handler) Revoke(c *gin.Context) {
	var req revokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(invalidRequest(err))
		return
	}

	result, err := h.subscriptions.Revoke(c.Request.Context(), c.Param("plan_id"), req.Email)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"revoked_license_id": result.License.ID,
		"original_status":    result.OriginalStatus,
	})
}

func (h *Handler) RevokeAll(c *gin.Context) {
	n, err := h.subscriptions.RevokeAll(c.Request.Context(), c.Param("plan_id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"num_revoked": n})
}

type activateRequest struct {
	ActivationKey string `json:"activation_key" binding:"required,uuid"`
	Email         string `json:"user_email" binding:"required,email"`
	LmsUserID     int64  `json:"lms_user_id" binding:"required"`
}

func (h *Handler) Activate(c *gin.Context) {
	var req activateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(invalidRequest(err))
		return
	}

	lic, err := h.subscriptions.Activate(c.Request.Context(), req.ActivationKey, req.Email, req.LmsUserID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, lic)
}

type createAgreementRequest struct {
	EnterpriseCustomerUUID   string `json:"enterprise_customer_uuid" binding:"required,uuid"`
	EnterpriseCustomerName   string `json:"enterprise_customer_name" binding:"required"`
	EnterpriseCustomerSlug   string `json:"enterprise_customer_slug"`
	DefaultCatalogUUID       string `json:"default_enterprise_catalog_uuid" binding:"omitempty,uuid"`
	DisableOnboardingNotices bool   `json:"disable_onboarding_notifications"`
}

func (h *Handler) CreateAgreement(c *gin.Context) {
	var req createAgreementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(invalidRequest(err))
		return
	}

	agreement, err := h.subscriptions.CreateAgreement(c.Request.Context(), subscriptions.CreateAgreementInput{
		EnterpriseCustomerUUID:   req.EnterpriseCustomerUUID,
		EnterpriseCustomerName:   req.EnterpriseCustomerName,
		EnterpriseCustomerSlug:   req.EnterpriseCustomerSlug,
		DefaultCatalogUUID:       req.DefaultCatalogUUID,
		DisableOnboardingNotices: req.DisableOnboardingNotices,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, agreement)
}

func (h *Handler) GetAgreement(c *gin.Context) {
	agreement, err := h.subscriptions.GetAgreement(c.Request.Context(), c.Param("agreement_id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, agreement)
}

func (h *Handler) AutoScale(c *gin.Context) {
	size, err := h.subscriptions.AutoScaleAgreement(c.Request.Context(), c.Param("agreement_id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"pool_size": size})
}

func (h *Handler) ProcessRenewal(c *gin.Context) {
	if err := h.subscriptions.ProcessRenewal(c.Request.Context(), c.Param("renewal_id")); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"processed": true})
}

func (h *Handler) ExpirePlan(c *gin.Context) {
	if err := h.subscriptions.ExpirePlanPostRenewal(c.Request.Context(), c.Param("plan_id")); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"expiration_processed": true})
}

func (h *Handler) ContainsContent(c *gin.Context) {
	ctx := c.Request.Context()

	plan, err := h.subscriptions.GetPlan(ctx, c.Param("plan_id"))
	if err != nil {
		c.Error(err)
		return
	}

	if h.catalog == nil {
		c.Error(errNotConfigured)
		return
	}

	contains, err := h.catalog.ContainsContent(ctx, plan.EnterpriseCatalogUUID, c.QueryArray("course_run_ids"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"contains_content_items": contains})
}
