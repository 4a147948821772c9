package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/credgate/credgate/internal/apikey"
	apikeydomain "github.com/credgate/credgate/internal/apikey/domain"
	"github.com/credgate/credgate/internal/audit"
	auditdomain "github.com/credgate/credgate/internal/audit/domain"
	"github.com/credgate/credgate/internal/budget"
	budgetdomain "github.com/credgate/credgate/internal/budget/domain"
	"github.com/credgate/credgate/internal/config"
	"github.com/credgate/credgate/internal/credential"
	credentialdomain "github.com/credgate/credgate/internal/credential/domain"
	"github.com/credgate/credgate/internal/gateway"
	gatewaydomain "github.com/credgate/credgate/internal/gateway/domain"
	"github.com/credgate/credgate/internal/hierarchy"
	hierarchydomain "github.com/credgate/credgate/internal/hierarchy/domain"
	"github.com/credgate/credgate/internal/ledger"
	ledgerdomain "github.com/credgate/credgate/internal/ledger/domain"
	"github.com/credgate/credgate/internal/observability"
	obslogger "github.com/credgate/credgate/internal/observability/logger"
	obsmetrics "github.com/credgate/credgate/internal/observability/metrics"
	obstracing "github.com/credgate/credgate/internal/observability/tracing"
	"github.com/credgate/credgate/internal/policy"
	policydomain "github.com/credgate/credgate/internal/policy/domain"
	"github.com/credgate/credgate/internal/pricing"
	pricingdomain "github.com/credgate/credgate/internal/pricing/domain"
	"github.com/credgate/credgate/internal/provider"
	"github.com/credgate/credgate/internal/ratelimit"
	"github.com/credgate/credgate/internal/usage"
	usagedomain "github.com/credgate/credgate/internal/usage/domain"
	"github.com/credgate/credgate/internal/worker"
)

var Module = fx.Module("http.server",
	config.Module,
	fx.Provide(registerGin),
	audit.Module,
	apikey.Module,
	budget.Module,
	credential.Module,
	gateway.Module,
	hierarchy.Module,
	ledger.Module,
	policy.Module,
	pricing.Module,
	provider.Module,
	ratelimit.Module,
	usage.Module,
	worker.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	db            *gorm.DB
	genID         *snowflake.Node
	hierarchySvc  hierarchydomain.Service
	ledgerSvc     ledgerdomain.Service
	apiKeySvc     apikeydomain.Service
	policySvc     policydomain.Service
	budgetSvc     budgetdomain.Service
	pricingSvc    pricingdomain.Service
	credentialSvc credentialdomain.Service
	usageSvc      usagedomain.Service
	auditSvc      auditdomain.Service
	gatewaySvc    gatewaydomain.Service
	usageQueue    *worker.Queue
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	DB            *gorm.DB
	GenID         *snowflake.Node
	HierarchySvc  hierarchydomain.Service
	LedgerSvc     ledgerdomain.Service
	APIKeySvc     apikeydomain.Service
	PolicySvc     policydomain.Service
	BudgetSvc     budgetdomain.Service
	PricingSvc    pricingdomain.Service
	CredentialSvc credentialdomain.Service
	UsageSvc      usagedomain.Service
	AuditSvc      auditdomain.Service
	GatewaySvc    gatewaydomain.Service
	UsageQueue    *worker.Queue
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		db:            p.DB,
		genID:         p.GenID,
		hierarchySvc:  p.HierarchySvc,
		ledgerSvc:     p.LedgerSvc,
		apiKeySvc:     p.APIKeySvc,
		policySvc:     p.PolicySvc,
		budgetSvc:     p.BudgetSvc,
		pricingSvc:    p.PricingSvc,
		credentialSvc: p.CredentialSvc,
		usageSvc:      p.UsageSvc,
		auditSvc:      p.AuditSvc,
		gatewaySvc:    p.GatewaySvc,
		usageQueue:    p.UsageQueue,
	}

	svc.registerGatewayRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerGatewayRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/chat/completions", s.ChatCompletions)
}

func (s *Server) registerAdminRoutes() {
	api := s.engine.Group("/api")

	// -------- Hierarchy --------
	api.POST("/orgs", s.CreateOrg)
	api.GET("/orgs", s.ListOrgs)
	api.GET("/orgs/:id", s.GetOrgByID)
	api.POST("/workspaces", s.CreateWorkspace)
	api.POST("/agent_groups", s.CreateAgentGroup)
	api.POST("/agents", s.CreateAgent)
	api.GET("/agents/:id", s.GetAgentByID)
	api.PUT("/agents/:id/status", s.SetAgentStatus)

	// -------- Credits --------
	api.GET("/orgs/:id/credits", s.GetCreditBalance)
	api.POST("/orgs/:id/credits/purchase", s.PurchaseCredits)
	api.GET("/orgs/:id/credits/history", s.ListLedgerEntries)

	// -------- API Keys --------
	api.POST("/api_keys", s.IssueAPIKey)
	api.GET("/api_keys", s.ListAPIKeys)
	api.DELETE("/api_keys/:id", s.RevokeAPIKey)

	// -------- Policies --------
	api.POST("/policies", s.CreatePolicy)
	api.GET("/policies", s.ListPolicies)
	api.DELETE("/policies/:id", s.DeletePolicy)
	api.GET("/agents/:id/effective_policy", s.GetEffectivePolicy)

	// -------- Budgets --------
	api.POST("/budgets", s.CreateBudget)
	api.GET("/budgets", s.ListBudgets)
	api.DELETE("/budgets/:id", s.DeleteBudget)

	// -------- Pricing --------
	api.PUT("/pricing", s.UpsertPricingRule)
	api.GET("/pricing", s.ListPricingRules)

	// -------- Provider Credentials --------
	api.PUT("/orgs/:id/credentials", s.UpsertCredential)
	api.GET("/orgs/:id/credentials", s.ListCredentials)
	api.DELETE("/credentials/:id", s.DeleteCredential)

	// -------- Usage --------
	api.GET("/usage", s.ListUsageEvents)
	api.POST("/usage", s.EnqueueUsageEvent)

	// -------- Audit --------
	api.GET("/audit_logs", s.ListAuditLogs)
}
