// Package rpc implements the JSON-RPC 2.0 server for a locksmith ledger node.
//
// The API follows Solana naming where a Solana method exists and adds
// locksmith-specific queries.
//
// Supported methods:
//   - Account: getAccountInfo, getBalance, getMultipleAccounts, getProgramAccounts,
//     getTokenAccountBalance
//   - Locksmith: getLocksmithConfig, getLock, getLocksByOwner
//   - History: getJournal, getJournalEntry
//   - Cluster: getHealth, getVersion, getSlot, getMinimumBalanceForRentExemption
//   - Write (when enabled): sendTransaction, requestAirdrop
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/fortiblox/locksmith/internal/types"
	"github.com/fortiblox/locksmith/pkg/journal"
	"github.com/fortiblox/locksmith/pkg/svm"
)

// Config holds RPC server configuration.
type Config struct {
	// Addr is the listen address (host:port).
	Addr string

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeout time.Duration

	// MaxRequestSize is the maximum allowed request body size in bytes.
	MaxRequestSize int64

	// EnableCORS enables CORS headers for browser access.
	EnableCORS bool

	// AllowedOrigins specifies allowed CORS origins (empty means all).
	AllowedOrigins []string

	// LogRequests enables request logging.
	LogRequests bool

	// EnableSendTransaction turns on sendTransaction. Signer flags in
	// submitted transactions are trusted, so only enable it on a node
	// reachable by its operator.
	EnableSendTransaction bool

	// Faucet, when set, funds requestAirdrop. Zero disables airdrops.
	Faucet types.Pubkey

	// MaxAirdropLamports caps a single airdrop.
	MaxAirdropLamports uint64
}

// DefaultConfig returns a default RPC server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:               "127.0.0.1:8899",
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       30 * time.Second,
		MaxRequestSize:     50 * 1024, // 50KB
		EnableCORS:         true,
		MaxAirdropLamports: 10_000_000_000,
	}
}

// History is the transaction journal read by the history methods.
type History interface {
	Get(seq uint64) (*journal.Entry, error)
	Recent(limit int) ([]*journal.Entry, error)
	ForAccount(account types.Pubkey, limit int) ([]*journal.Entry, error)
}

// Submitter executes transactions and records them.
type Submitter interface {
	Submit(ctx context.Context, tx *svm.Transaction) (*journal.Entry, error)
}

// Server is the JSON-RPC 2.0 server.
type Server struct {
	config Config
	log    *logrus.Entry

	runtime   *svm.Runtime
	history   History
	submitter Submitter

	healthy  bool
	healthMu sync.RWMutex

	server   *http.Server
	handlers map[string]handlerFunc

	mu      sync.RWMutex
	running bool
}

// handlerFunc is a JSON-RPC method handler.
type handlerFunc func(ctx context.Context, params json.RawMessage) (interface{}, *RPCError)

// New creates a new RPC server. history and submitter may be nil, which
// disables the methods that need them.
func New(config Config, runtime *svm.Runtime, history History, submitter Submitter) *Server {
	s := &Server{
		config:    config,
		log:       logrus.StandardLogger().WithField("type", "rpc/server"),
		runtime:   runtime,
		history:   history,
		submitter: submitter,
		healthy:   true,
		handlers:  make(map[string]handlerFunc),
	}

	s.registerHandlers()

	return s
}

func (s *Server) registerHandlers() {
	// Account methods
	s.handlers["getAccountInfo"] = s.getAccountInfo
	s.handlers["getBalance"] = s.getBalance
	s.handlers["getMultipleAccounts"] = s.getMultipleAccounts
	s.handlers["getProgramAccounts"] = s.getProgramAccounts
	s.handlers["getTokenAccountBalance"] = s.getTokenAccountBalance

	// Locksmith methods
	s.handlers["getLocksmithConfig"] = s.getLocksmithConfig
	s.handlers["getLock"] = s.getLock
	s.handlers["getLocksByOwner"] = s.getLocksByOwner

	// History methods
	s.handlers["getJournal"] = s.getJournal
	s.handlers["getJournalEntry"] = s.getJournalEntry

	// Cluster methods
	s.handlers["getHealth"] = s.getHealth
	s.handlers["getVersion"] = s.getVersion
	s.handlers["getSlot"] = s.getSlot
	s.handlers["getMinimumBalanceForRentExemption"] = s.getMinimumBalanceForRentExemption

	// Write methods
	s.handlers["sendTransaction"] = s.sendTransaction
	s.handlers["requestAirdrop"] = s.requestAirdrop
}

// Handler returns the HTTP handler serving JSON-RPC requests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRPC)
	return s.corsMiddleware(mux)
}

// Start starts the RPC server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		s.mu.Unlock()
		return errors.Wrapf(err, "listen on %s", s.config.Addr)
	}
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	s.running = true
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.log.WithField("addr", ln.Addr().String()).Info("rpc server listening")

	err = s.server.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop stops the RPC server.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.running = false
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// SetHealthy sets the server health status.
func (s *Server) SetHealthy(healthy bool) {
	s.healthMu.Lock()
	s.healthy = healthy
	s.healthMu.Unlock()
}

// IsHealthy returns the current health status.
func (s *Server) IsHealthy() bool {
	s.healthMu.RLock()
	defer s.healthMu.RUnlock()
	return s.healthy
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	if !s.config.EnableCORS {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			allowed := len(s.config.AllowedOrigins) == 0
			for _, allowedOrigin := range s.config.AllowedOrigins {
				if allowedOrigin == origin || allowedOrigin == "*" {
					allowed = true
					break
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Max-Age", "3600")
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType != "" && contentType != "application/json" {
		s.writeError(w, nil, ErrInvalidRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxRequestSize))
	if err != nil {
		s.writeError(w, nil, ErrParseError)
		return
	}

	if len(body) > 0 && body[0] == '[' {
		s.handleBatchRequest(r.Context(), w, body)
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, nil, ErrParseError)
		return
	}
	if req.JSONRPC != JSONRPCVersion {
		s.writeError(w, req.ID, ErrInvalidRequest)
		return
	}

	result, rpcErr := s.dispatch(r.Context(), req.Method, req.Params)
	if rpcErr != nil {
		s.writeError(w, req.ID, rpcErr)
		return
	}
	s.writeResult(w, req.ID, result)
}

func (s *Server) handleBatchRequest(ctx context.Context, w http.ResponseWriter, body []byte) {
	var requests []Request
	if err := json.Unmarshal(body, &requests); err != nil {
		s.writeError(w, nil, ErrParseError)
		return
	}

	if len(requests) == 0 {
		s.writeError(w, nil, ErrInvalidRequest)
		return
	}

	responses := make([]Response, len(requests))
	for i, req := range requests {
		responses[i] = Response{JSONRPC: JSONRPCVersion, ID: req.ID}
		if req.JSONRPC != JSONRPCVersion {
			responses[i].Error = ErrInvalidRequest
			continue
		}

		result, rpcErr := s.dispatch(ctx, req.Method, req.Params)
		if rpcErr != nil {
			responses[i].Error = rpcErr
		} else {
			responses[i].Result = result
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(responses)
}

func (s *Server) dispatch(ctx context.Context, method string, params json.RawMessage) (interface{}, *RPCError) {
	log := s.log.WithField("method", method)

	handler, ok := s.handlers[method]
	if !ok {
		log.Debug("method not found")
		return nil, NewRPCError(MethodNotFound, fmt.Sprintf("Method not found: %s", method))
	}

	start := time.Now()
	result, rpcErr := handler(ctx, params)
	if s.config.LogRequests {
		entry := log.WithField("duration", time.Since(start))
		if rpcErr != nil {
			entry = entry.WithField("code", rpcErr.Code)
		}
		entry.Info("handled request")
	}
	if rpcErr != nil && rpcErr.Code == InternalError {
		log.WithField("message", rpcErr.Message).Warn("internal error")
	}
	return result, rpcErr
}

func (s *Server) writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  result,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) writeError(w http.ResponseWriter, id interface{}, err *RPCError) {
	resp := Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   err,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
