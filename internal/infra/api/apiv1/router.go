package apiv1

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	"novacv/internal/domain"
	"novacv/internal/infra/api"
)

// ServerInterface has one method per operation in api/openapi.yaml. Path
// parameters arrive already bound.
type ServerInterface interface {
	Health(w http.ResponseWriter, r *http.Request)
	ListPlans(w http.ResponseWriter, r *http.Request)
	HandleWebhook(w http.ResponseWriter, r *http.Request, provider string)
	GetSubscription(w http.ResponseWriter, r *http.Request)
	GetFeatures(w http.ResponseWriter, r *http.Request)
	CreateCheckout(w http.ResponseWriter, r *http.Request)
	CancelSubscription(w http.ResponseWriter, r *http.Request)
	RecordUsage(w http.ResponseWriter, r *http.Request)
	Generate(w http.ResponseWriter, r *http.Request)
	GetUserSubscriptions(w http.ResponseWriter, r *http.Request, userID string)
	ReconcileUser(w http.ResponseWriter, r *http.Request, userID string)
}

type RouterOptions struct {
	UserAuth     api.Middleware
	AdminAuth    api.Middleware
	ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)
}

type wrapper struct {
	si      ServerInterface
	onError func(w http.ResponseWriter, r *http.Request, err error)
}

var pathParam = runtime.BindStyledParameterOptions{
	ParamLocation: runtime.ParamLocationPath,
	Explode:       false,
	Required:      true,
}

func (sw *wrapper) bindPath(w http.ResponseWriter, r *http.Request, name string, dst *string) bool {
	if err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), dst, pathParam); err != nil {
		sw.onError(w, r, fmt.Errorf("%w: parameter %s: %v", domain.ErrInvalidArgument, name, err))
		return false
	}
	if *dst == "" {
		sw.onError(w, r, fmt.Errorf("%w: parameter %s is empty", domain.ErrInvalidArgument, name))
		return false
	}
	return true
}

func (sw *wrapper) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	var provider string
	if !sw.bindPath(w, r, "provider", &provider) {
		return
	}
	sw.si.HandleWebhook(w, r, provider)
}

func (sw *wrapper) GetUserSubscriptions(w http.ResponseWriter, r *http.Request) {
	var userID string
	if !sw.bindPath(w, r, "userID", &userID) {
		return
	}
	sw.si.GetUserSubscriptions(w, r, userID)
}

func (sw *wrapper) ReconcileUser(w http.ResponseWriter, r *http.Request) {
	var userID string
	if !sw.bindPath(w, r, "userID", &userID) {
		return
	}
	sw.si.ReconcileUser(w, r, userID)
}

func passthrough(next http.Handler) http.Handler { return next }

// RegisterAPIV1 mounts every operation on r.
func RegisterAPIV1(r chi.Router, si ServerInterface, opts RouterOptions) {
	sw := &wrapper{si: si, onError: opts.ErrorHandler}
	if sw.onError == nil {
		sw.onError = func(w http.ResponseWriter, r *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}
	userAuth, adminAuth := opts.UserAuth, opts.AdminAuth
	if userAuth == nil {
		userAuth = passthrough
	}
	if adminAuth == nil {
		adminAuth = passthrough
	}

	r.Get("/health", si.Health)
	r.Get("/plans", si.ListPlans)
	r.Post("/payments/webhook/{provider}", sw.HandleWebhook)

	r.Group(func(r chi.Router) {
		r.Use(userAuth)
		r.Get("/payments/subscription", si.GetSubscription)
		r.Get("/payments/features", si.GetFeatures)
		r.Post("/payments/checkout", si.CreateCheckout)
		r.Post("/payments/cancel", si.CancelSubscription)
		r.Post("/payments/usage", si.RecordUsage)
		r.Post("/ai/generate", si.Generate)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(adminAuth)
		r.Get("/users/{userID}/subscriptions", sw.GetUserSubscriptions)
		r.Post("/users/{userID}/reconcile", sw.ReconcileUser)
	})
}
