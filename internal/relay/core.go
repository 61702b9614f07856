package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/ilnaes/hyperpad/internal/config"
	"github.com/ilnaes/hyperpad/internal/discovery"
	"github.com/ilnaes/hyperpad/internal/store"
)

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/ws", s.ws)
	r.HandleFunc("/keys", s.keysHandler).Methods("POST")
	r.HandleFunc("/docs/{doc}", s.reload).Methods("GET")
	r.HandleFunc("/docs/{doc}", s.save).Methods("POST")
	r.HandleFunc("/docs/{doc}/{locale}", s.reload).Methods("GET")
	r.HandleFunc("/docs/{doc}/{locale}", s.save).Methods("POST")
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	})
	return r
}

// Start runs the background work of the server: pruning stale channels and
// receiving broker frames. It returns when ctx is done.
func (s *Server) Start(ctx context.Context) {
	if s.broker != nil {
		go func() {
			if err := s.broker.Subscribe(ctx, s.deliver); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Printf("broker subscription ended: %v", err)
			}
		}()
	}
	s.update(ctx)
}

// Run serves the relay described by cfg until ctx is done.
func Run(ctx context.Context, cfg config.Config) error {
	logger := log.New(log.Writer(), "[Relay] ", log.LstdFlags)

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close(context.Background())

	opts := []Option{WithLogger(logger)}
	if cfg.RedisAddr != "" {
		broker, err := NewRedisBroker(ctx, cfg.RedisAddr)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer broker.Close()
		opts = append(opts, WithBroker(broker))
	}

	server := NewServer(st, opts...)
	go server.Start(ctx)

	if cfg.MDNS {
		if _, port, err := net.SplitHostPort(cfg.Addr); err == nil {
			p, _ := strconv.Atoi(port)
			shutdown, err := discovery.Advertise(p)
			if err != nil {
				logger.Printf("mdns: %v", err)
			} else {
				defer shutdown()
			}
		}
	}

	srv := &http.Server{
		Handler:      server.Router(),
		Addr:         cfg.Addr,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Printf("listening on %s (store %s)", cfg.Addr, cfg.Store.Kind)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
