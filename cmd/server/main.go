package main

import (
	"flag"
	"net/http"
	"os"

	"github.com/golang/glog"
	"github.com/gorilla/handlers"

	"gradebook/internal/config"
	"gradebook/internal/database"
	"gradebook/internal/handler"
	"gradebook/internal/policy"
	"gradebook/internal/service"
)

func main() {
	// glog reads its flags (-v, -logtostderr) from the command line
	flag.Parse()
	defer glog.Flush()

	cfg, err := config.Load()
	if err != nil {
		glog.Exitf("config: %s", err)
	}

	// Initialize database
	db, err := database.InitDB(cfg)
	if err != nil {
		glog.Exitf("database: %s", err)
	}

	rules := policy.Gradebook()
	if cfg.PolicyFile != "" {
		if rules, err = policy.Load(cfg.PolicyFile); err != nil {
			glog.Exitf("policy: %s", err)
		}
	}

	documentService := service.NewDocumentService(db,
		service.WithPolicy(rules),
		service.WithMaxBatchWrites(cfg.MaxBatchWrites),
	)
	defer documentService.Close()

	r := handler.NewRouter(documentService, handler.RouterOptions{
		JWTSecret:      []byte(cfg.JWTSecret),
		AllowedOrigins: cfg.AllowedOrigins,
	})

	cors := handlers.CORS(
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
	)
	h := handlers.RecoveryHandler()(handlers.CombinedLoggingHandler(os.Stdout, cors(r)))

	if cfg.JWTSecret == "" {
		glog.Warningf("[main]JWT_SECRET is not set; every caller is anonymous\n")
	}
	glog.Infof("[main]server running on %s\n", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, h); err != nil {
		glog.Exitf("listen: %s", err)
	}
}
