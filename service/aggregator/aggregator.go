// Package aggregator supervises the resource workers of one process. On a
// fixed tick it reconciles the catalog against the running worker set:
// resources added to the configuration get a worker, removed ones get theirs
// stopped, and a worker whose loop died is restarted. The aggregator also
// watches the store liveness sentinel; a store that lost its state makes
// every in-flight assumption stale, so that is treated as fatal.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/viant/labq/model"
	"github.com/viant/labq/service/catalog"
	"github.com/viant/labq/service/store"
	"github.com/viant/labq/service/usage"
	"github.com/viant/labq/service/worker"
)

// ErrStoreReset indicates the store lost its state since this process
// started. The process has to be restarted to rebuild a consistent view.
var ErrStoreReset = errors.New("store was reset")

// Config represents aggregator configuration
type Config struct {
	// Tick is the reconcile interval
	Tick time.Duration `yaml:"tick" json:"tick"`

	// Worker configures every supervised worker
	Worker worker.Config `yaml:"worker" json:"worker"`
}

// DefaultConfig returns the default aggregator configuration
func DefaultConfig() Config {
	return Config{
		Tick:   10 * time.Second,
		Worker: worker.DefaultConfig(),
	}
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	if c.Tick <= 0 {
		return fmt.Errorf("tick must be positive")
	}
	return c.Worker.Validate()
}

type runningWorker struct {
	worker *worker.Worker
	cancel context.CancelFunc
}

// Service owns the set of running resource workers.
type Service struct {
	config     Config
	catalog    *catalog.Service
	store      store.Store
	recorder   usage.Recorder
	httpClient *http.Client
	logger     *zap.Logger

	mux     sync.Mutex
	workers map[string]*runningWorker
}

// Workers returns the identifiers of the resources with a running worker.
func (s *Service) Workers() []string {
	s.mux.Lock()
	defer s.mux.Unlock()
	result := make([]string, 0, len(s.workers))
	for identifier := range s.workers {
		result = append(result, identifier)
	}
	sort.Strings(result)
	return result
}

// New creates an aggregator supervising workers for the catalog's resources.
func New(config Config, aCatalog *catalog.Service, aStore store.Store, recorder usage.Recorder, httpClient *http.Client, logger *zap.Logger) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if aCatalog == nil {
		return nil, fmt.Errorf("catalog was nil")
	}
	if aStore == nil {
		return nil, fmt.Errorf("store was nil")
	}
	if recorder == nil {
		recorder = usage.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		config:     config,
		catalog:    aCatalog,
		store:      aStore,
		recorder:   recorder,
		httpClient: httpClient,
		logger:     logger,
		workers:    map[string]*runningWorker{},
	}, nil
}

// Run supervises workers until the context is cancelled or the store reports
// it was reset. On return every worker has been stopped and has drained.
func (s *Service) Run(ctx context.Context) error {
	defer s.stopAll()
	if err := s.reconcile(ctx); err != nil {
		return err
	}
	ticker := time.NewTicker(s.config.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("shutting down workers")
			return nil
		case <-ticker.C:
			if err := s.reconcile(ctx); err != nil {
				if errors.Is(err, ErrStoreReset) {
					s.logger.Error("store was reset, shutting down")
					return err
				}
				s.logger.Error("reconcile failed", zap.Error(err))
			}
		}
	}
}

// reconcile aligns the running worker set with the current catalog.
func (s *Service) reconcile(ctx context.Context) error {
	alive, err := s.store.Running(ctx)
	if err != nil {
		return fmt.Errorf("failed to check store liveness: %w", err)
	}
	if !alive {
		return ErrStoreReset
	}
	snapshot, err := s.catalog.Reload(ctx)
	if err != nil {
		// Keep driving the previous inventory while the configuration is
		// broken.
		s.logger.Error("failed to reload catalog", zap.Error(err))
		if snapshot, err = s.catalog.Snapshot(ctx); err != nil {
			return err
		}
	}

	desired := map[string]*model.Resource{}
	for _, resource := range snapshot.Resources() {
		desired[resource.Identifier] = resource
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	for identifier, running := range s.workers {
		if _, ok := desired[identifier]; ok {
			continue
		}
		s.logger.Info("stopping worker for removed resource", zap.String("resource", identifier))
		running.cancel()
		<-running.worker.Done()
		delete(s.workers, identifier)
	}
	for identifier, resource := range desired {
		if running, ok := s.workers[identifier]; ok {
			select {
			case <-running.worker.Done():
				s.logger.Warn("restarting dead worker", zap.String("resource", identifier))
				running.cancel()
				delete(s.workers, identifier)
			default:
				continue
			}
		}
		if err := s.startWorker(ctx, resource); err != nil {
			s.logger.Error("failed to start worker",
				zap.String("resource", identifier), zap.Error(err))
		}
	}
	return nil
}

func (s *Service) startWorker(ctx context.Context, resource *model.Resource) error {
	aWorker, err := worker.New(s.config.Worker, resource, s.store, s.recorder, s.httpClient, s.logger)
	if err != nil {
		return err
	}
	workerCtx, cancel := context.WithCancel(ctx)
	s.workers[resource.Identifier] = &runningWorker{worker: aWorker, cancel: cancel}
	go aWorker.Run(workerCtx)
	return nil
}

func (s *Service) stopAll() {
	s.mux.Lock()
	defer s.mux.Unlock()
	for identifier, running := range s.workers {
		running.cancel()
		<-running.worker.Done()
		delete(s.workers, identifier)
	}
}
