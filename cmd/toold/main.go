package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mind-engage/lti-tool/internal/admin"
	api "github.com/mind-engage/lti-tool/internal/api/http"
	"github.com/mind-engage/lti-tool/internal/config"
	"github.com/mind-engage/lti-tool/internal/db"
	"github.com/mind-engage/lti-tool/pkg/tool/deeplink"
	"github.com/mind-engage/lti-tool/pkg/tool/keyset"
	"github.com/mind-engage/lti-tool/pkg/tool/launch"
	"github.com/mind-engage/lti-tool/pkg/tool/platformkeys"
	"github.com/mind-engage/lti-tool/pkg/tool/registry"
	"github.com/mind-engage/lti-tool/pkg/tool/reply"
	"github.com/mind-engage/lti-tool/pkg/tool/resources"
)

func main() {
	cfg := config.FromEnv()

	// --- DB ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}
	platforms := registry.NewSQLStore(dbh)
	keyStorage := db.NewKeyStorage(dbh)

	// --- Tool keys ---
	keys := keyset.New(keyStorage)
	rows, err := keyStorage.LoadAll(ctx)
	if err != nil {
		log.Fatalf("load tool keys: %v", err)
	}
	for _, row := range rows {
		if row.PrivatePEM == "" {
			continue
		}
		key, err := keyset.ImportPEM(row.PrivatePEM)
		if err != nil {
			log.Fatalf("import tool key %s: %v", row.KID, err)
		}
		if err := keys.Add(ctx, key); err != nil {
			log.Fatalf("restore tool key %s: %v", row.KID, err)
		}
	}
	log.Printf("tool keys loaded: %d", len(rows))

	// --- Protocol engine ---
	var platformKeys platformkeys.KeySource = platformkeys.NewFetcher()
	if cfg.PlatformKeyTTL > 0 {
		platformKeys = platformkeys.NewCachingFetcher(platformKeys, cfg.PlatformKeyTTL)
	}
	pending := launch.NewMemoryPendingStore(cfg.PendingLoginTTL)

	initiator := &launch.Initiator{
		Platforms: platforms,
		Pending:   pending,
		LaunchURL: cfg.PublicURL + "/lti/launch",
	}
	validator := &launch.Validator{
		Platforms: platforms,
		Keys:      platformKeys,
		Pending:   pending,
	}
	responder := &deeplink.Responder{Reply: &reply.Builder{Keys: keys}}

	resourceRegistry := resources.NewRegistry(cfg.PublicURL)
	resourceRegistry.DeepLinkPath = "/lti/deep-link"
	if len(cfg.Resources) > 0 {
		known := make(map[string]bool, len(cfg.Resources))
		for _, id := range cfg.Resources {
			known[id] = true
		}
		err := resourceRegistry.Register(resources.Descriptor{
			Kind:       "resource",
			PathPrefix: "/launch/resource/",
			Find: func(_ context.Context, id string) (resources.Resource, error) {
				if !known[id] {
					return resources.Resource{}, resources.ErrUnknownResource
				}
				return resources.Resource{Kind: "resource", ID: id, Title: id}, nil
			},
		})
		if err != nil {
			log.Fatalf("register resources: %v", err)
		}
	}

	handlers := api.NewHandlers(api.Deps{
		Initiator:         initiator,
		Validator:         validator,
		Platforms:         platforms,
		Resources:         resourceRegistry,
		Responder:         responder,
		Users:             launch.NewMemoryUserStore(),
		Contexts:          launch.NewMemoryContextStore(),
		DeepLinkPickerURL: cfg.PublicURL + "/picker",
	})

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Method(http.MethodGet, "/.well-known/jwks.json", &keyset.Handler{
		Keys:        keys,
		CacheMaxAge: cfg.JWKSMaxAge,
	})

	r.Route("/lti", handlers.Mount)

	r.Mount("/admin", admin.Routes(admin.Deps{
		Platforms:  platforms,
		Keys:       keys,
		KeyStorage: keyStorage,
		User:       cfg.AdminUser,
		PassHash:   cfg.AdminPassHash,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	log.Printf("listening on %s (db=%s, public=%s)", cfg.HTTPAddr, cfg.DBDriver, cfg.PublicURL)
	log.Fatal(http.ListenAndServe(cfg.HTTPAddr, r))
}
