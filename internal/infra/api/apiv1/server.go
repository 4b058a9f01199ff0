package apiv1

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"novacv/internal/domain"
	"novacv/internal/domain/model"
	"novacv/internal/domain/ports/adapter"
	"novacv/internal/infra/adapters/payment"
	"novacv/internal/infra/api"
	"novacv/internal/infra/logging"
	"novacv/internal/usecase"
)

var _ ServerInterface = (*Server)(nil)

const maxRequestBody = 64 << 10

type Deps struct {
	Plans        usecase.PlanUseCase
	Users        usecase.UserUseCase
	Entitlements usecase.EntitlementUseCase
	Checkout     usecase.CheckoutUseCase
	Webhooks     usecase.WebhookUseCase
	AI           usecase.AIUseCase
	Ledger       usecase.LedgerUseCase
	Reconcile    usecase.ReconcileUseCase
	Provider     adapter.PaymentProvider
}

type Options struct {
	JWTSecret       string
	AdminAPIKey     string
	MaxWebhookBytes int64
	RequestTimeout  time.Duration
	Dev             bool
}

type Server struct {
	d        Deps
	opts     Options
	validate *validator.Validate
	log      *zerolog.Logger
}

func NewServer(d Deps, opts Options, logger *zerolog.Logger) *Server {
	if opts.MaxWebhookBytes <= 0 {
		opts.MaxWebhookBytes = 1 << 20
	}
	l := logger.With().Str("component", "HTTP").Logger()
	return &Server{d: d, opts: opts, validate: validator.New(), log: &l}
}

// Handler returns the full router with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.fail(w, r, fmt.Errorf("%w: no route for %s", domain.ErrNotFound, r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		api.WriteJSON(w, http.StatusMethodNotAllowed, api.ErrorResponse{Error: api.ErrorBody{Code: "method_not_allowed", Message: r.Method + " not allowed"}})
	})
	r.Handle("/metrics", promhttp.Handler())
	RegisterAPIV1(r, s, RouterOptions{
		UserAuth:     api.RequireUser(api.NewJWTAuth(s.opts.JWTSecret), s.d.Users, s.log, s.opts.Dev),
		AdminAuth:    api.RequireAdmin(s.opts.AdminAPIKey, s.log, s.opts.Dev),
		ErrorHandler: s.fail,
	})
	return api.Chain(r,
		api.TraceID(),
		api.RequestLog(s.log),
		api.Recover(s.log, s.opts.Dev),
		api.Timeout(s.opts.RequestTimeout),
	)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	api.WriteError(w, r, s.log, s.opts.Dev, err)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return err
		}
		return fmt.Errorf("%w: malformed body: %v", domain.ErrInvalidArgument, err)
	}
	if err := s.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}

func principal(r *http.Request) (api.Principal, error) {
	p, ok := api.PrincipalFrom(r.Context())
	if !ok {
		return p, fmt.Errorf("%w: no authenticated user", domain.ErrUnauthorized)
	}
	return p, nil
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, Health{Status: "ok"})
}

func (s *Server) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans := s.d.Plans.List(r.Context())
	out := PlanList{Plans: make([]Plan, 0, len(plans))}
	for _, p := range plans {
		out.Plans = append(out.Plans, toPlan(p))
	}
	api.WriteJSON(w, http.StatusOK, out)
}

// HandleWebhook answers non-2xx on every failure so the provider redelivers.
func (s *Server) HandleWebhook(w http.ResponseWriter, r *http.Request, provider string) {
	if s.d.Provider == nil || provider != s.d.Provider.Name() {
		s.fail(w, r, fmt.Errorf("%w: unknown payment provider %q", domain.ErrNotFound, provider))
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxWebhookBytes))
	if err != nil {
		var mbe *http.MaxBytesError
		if !errors.As(err, &mbe) {
			err = fmt.Errorf("%w: read body: %v", domain.ErrInvalidArgument, err)
		}
		s.fail(w, r, err)
		return
	}
	env, err := s.d.Provider.VerifyAndUnmarshalWebhook(r.Context(), body, r.Header.Get(payment.SignatureHeader))
	if err != nil {
		l := logging.With(r.Context(), s.log)
		l.Warn().Err(err).Str("provider", provider).Msg("webhook rejected")
		s.fail(w, r, err)
		return
	}
	r = r.WithContext(logging.WithEventID(r.Context(), env.EventID))
	res, err := s.d.Webhooks.Process(r.Context(), env)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, WebhookResponse{Status: string(res.Status)})
}

func (s *Server) GetSubscription(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	v, err := s.d.Entitlements.Get(r.Context(), p.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, v)
}

func (s *Server) GetFeatures(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	v, err := s.d.Entitlements.Features(r.Context(), p.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, v)
}

func (s *Server) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req CheckoutRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.d.Checkout.Checkout(r.Context(), p.ID, p.Email, model.PlanID(req.PlanID))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	v, err := s.d.Entitlements.Cancel(r.Context(), p.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, v)
}

func (s *Server) RecordUsage(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req UsageRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Amount == 0 {
		req.Amount = 1
	}
	d, err := s.d.Entitlements.IncrementUsage(r.Context(), p.ID, model.Feature(req.Feature), req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, d)
}

func (s *Server) Generate(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req GenerateRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	g, err := s.d.AI.Generate(r.Context(), p.ID, req.Section, req.Prompt)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, g)
}

func (s *Server) GetUserSubscriptions(w http.ResponseWriter, r *http.Request, userID string) {
	recs, err := s.d.Ledger.History(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if recs == nil {
		recs = []*model.SubscriptionRecord{}
	}
	api.WriteJSON(w, http.StatusOK, SubscriptionHistory{UserID: userID, Subscriptions: recs})
}

func (s *Server) ReconcileUser(w http.ResponseWriter, r *http.Request, userID string) {
	res, err := s.d.Reconcile.ReconcileUser(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, res)
}
