package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openchw/meshdoc/internal/config"
	"github.com/openchw/meshdoc/internal/core/authorize"
	"github.com/openchw/meshdoc/internal/core/store"
	"github.com/openchw/meshdoc/internal/core/store/persist"
	"github.com/openchw/meshdoc/internal/identity"
	"github.com/openchw/meshdoc/internal/logging"
	meshsync "github.com/openchw/meshdoc/internal/sync"
	"github.com/openchw/meshdoc/internal/transport/natscell"
	"github.com/openchw/meshdoc/internal/transport/proximity"
	"github.com/openchw/meshdoc/internal/transport/sms"
	"github.com/openchw/meshdoc/pkg/model"
)

func main() {
	configDir := flag.String("config", "config", "Configuration directory")
	metricsAddr := flag.String("metrics", ":9600", "Metrics listen address (empty to disable)")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	if err := logging.Initialize(cfg.Logging); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	logger := slog.Default()

	// 2. Identity and keyring
	author, err := identity.FromSecret(cfg.Identity.AuthorAddress, cfg.Identity.AuthorSecret)
	if err != nil {
		logger.Error("Invalid author identity", "error", err)
		os.Exit(1)
	}
	ring := identity.NewKeyring(author)
	for _, sk := range cfg.Identity.Shares {
		kp := identity.Keypair{Address: sk.Address}
		if sk.Secret != "" {
			kp, err = identity.FromSecret(sk.Address, sk.Secret)
			if err != nil {
				logger.Error("Invalid share key", "share", sk.Name, "error", err)
				os.Exit(1)
			}
		}
		ring.AddShare(sk.Name, kp)
	}
	logger.Info("Identity loaded", "author", author.Address, "shares", ring.ShareNames())

	// 3. Store and durable layer
	authz, err := authorize.New(cfg.Authorize, nil)
	if err != nil {
		logger.Error("Failed to build authorization engine", "error", err)
		os.Exit(1)
	}
	st := store.New(cfg.Store, authz, logger)

	db, err := persist.Open(cfg.Persist, logger)
	if err != nil {
		logger.Error("Failed to open document database", "error", err)
		os.Exit(1)
	}

	// Replay persisted documents before the acceptance hook is wired so
	// startup does not re-escalate old emergencies.
	docs, err := db.Documents()
	if err != nil {
		logger.Error("Failed to load persisted documents", "error", err)
		os.Exit(1)
	}
	for _, doc := range docs {
		st.Ingest(doc)
	}
	logger.Info("Document store loaded", "documents", st.Len())

	// 4. Transports
	cell, err := natscell.Connect(cfg.Transport.NATS, logger)
	if err != nil {
		logger.Error("Failed to set up cellular transport", "error", err)
		os.Exit(1)
	}
	prox := proximity.New(cfg.Transport.Proximity, logger)

	var smsT *sms.Transport
	if cfg.Transport.SMS.Recipient != "" {
		smsT = sms.New(cfg.Transport.SMS, spoolGateway{dir: "spool/sms"}, logger)
	}

	// 5. Sync coordinator and emergency escalation
	coord := meshsync.NewCoordinator(cfg.Sync, st, logger, cell, prox)
	var esc *meshsync.Escalator
	if smsT != nil {
		esc = meshsync.NewEscalator(cfg.Sync, coord, smsT, db, logger)
	} else {
		esc = meshsync.NewEscalator(cfg.Sync, coord, nil, db, logger)
	}
	if err := esc.ResumePending(); err != nil {
		logger.Error("Failed to resume pending emergencies", "error", err)
		os.Exit(1)
	}

	st.OnAccept(func(doc model.Document) {
		if err := db.PutDocument(doc); err != nil {
			logger.Error("Failed to persist document", "path", doc.Path, "error", err)
		}
		esc.HandleAccepted(doc)
	})

	// 6. Start background work
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	if err := cell.Subscribe(bgCtx, st.Ingest); err != nil {
		logger.Warn("Inbound subscription unavailable", "error", err)
	}

	var peerSrv *http.Server
	if cfg.Transport.Proximity.ListenAddr != "" {
		peerSrv = &http.Server{
			Addr:    cfg.Transport.Proximity.ListenAddr,
			Handler: proximity.NewServer(st.Ingest, logger),
		}
		go func() {
			if err := peerSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Peer listener failed", "error", err)
			}
		}()
	}

	coord.Start(bgCtx)

	var metricsSrv *http.Server
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	logger.Info("meshdoc started", "author", author.Address)

	// 7. Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down...")

	bgCancel()
	coord.Close()
	esc.Close()
	cell.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if peerSrv != nil {
		if err := peerSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Peer listener shutdown failed", "error", err)
		}
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Metrics server shutdown failed", "error", err)
		}
	}
	if err := db.Close(); err != nil {
		logger.Error("Database close failed", "error", err)
	}
	if err := logging.Shutdown(); err != nil {
		log.Printf("Logging shutdown failed: %v", err)
	}
}

// spoolGateway drops outbound text messages into a spool directory for
// the modem daemon to pick up.
type spoolGateway struct {
	dir string
}

func (g spoolGateway) SendText(_ context.Context, to, body string) error {
	if err := os.MkdirAll(g.dir, 0755); err != nil {
		return err
	}
	name := fmt.Sprintf("%s-%d.msg", to, time.Now().UnixNano())
	return os.WriteFile(filepath.Join(g.dir, name), []byte(body), 0644)
}
