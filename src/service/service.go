package service

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Jimmyu2foru18/Blockchain-Gossip-Network/src/crypto"
	"github.com/Jimmyu2foru18/Blockchain-Gossip-Network/src/node"
)

// Service exposes a read-only HTTP API over a running node.
type Service struct {
	sync.Mutex

	bindAddress string
	node        *node.Node
	logger      *logrus.Entry
}

// NewService ...
func NewService(bindAddress string, n *node.Node, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		node:        n,
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

// registerHandlers registers the API handlers with the DefaultServerMux of
// the http package. It is possible that another server in the same process is
// simultaneously using the DefaultServerMux. In which case, the handlers will
// be accessible from both servers.
func (s *Service) registerHandlers() {
	s.logger.Debug("Registering API handlers")
	http.HandleFunc("/stats", s.makeHandler(s.GetStats))
	http.HandleFunc("/peers", s.makeHandler(s.GetPeers))
	http.HandleFunc("/chain", s.makeHandler(s.GetChain))
	http.HandleFunc("/block/", s.makeHandler(s.GetBlock))
	http.HandleFunc("/balance/", s.makeHandler(s.GetBalance))
	http.HandleFunc("/history/", s.makeHandler(s.GetHistory))
	http.HandleFunc("/pending", s.makeHandler(s.GetPending))
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Serve calls ListenAndServe. This is a blocking call.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving API")

	// Use the DefaultServerMux
	err := http.ListenAndServe(s.bindAddress, nil)
	if err != nil {
		s.logger.Error(err)
	}
}

func (s *Service) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// GetStats ...
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.node.Stats())
}

// GetPeers ...
func (s *Service) GetPeers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.node.Registry().ActivePeers())
}

// GetChain returns the full chain.
func (s *Service) GetChain(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.node.Chain().Blocks())
}

// GetBlock returns one block by index.
func (s *Service) GetBlock(w http.ResponseWriter, r *http.Request) {
	param := r.URL.Path[len("/block/"):]

	blockIndex, err := strconv.Atoi(param)
	if err != nil {
		s.logger.WithError(err).Errorf("Parsing block_index parameter %s", param)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	block := s.node.Chain().Block(blockIndex)
	if block == nil {
		http.Error(w, "block not found", http.StatusNotFound)
		return
	}

	s.writeJSON(w, map[string]interface{}{
		"block":       block,
		"merkle_root": block.MerkleRoot(),
	})
}

// GetBalance returns the confirmed balance of an address.
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Path[len("/balance/"):]

	if !crypto.ValidAddress(address) {
		http.Error(w, "invalid address", http.StatusBadRequest)
		return
	}

	s.writeJSON(w, map[string]interface{}{
		"address": address,
		"balance": s.node.Chain().Balance(address),
	})
}

// GetHistory returns the committed transactions touching an address.
func (s *Service) GetHistory(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Path[len("/history/"):]

	if !crypto.ValidAddress(address) {
		http.Error(w, "invalid address", http.StatusBadRequest)
		return
	}

	s.writeJSON(w, s.node.Chain().TransactionHistory(address))
}

// GetPending returns the transactions waiting in the pool.
func (s *Service) GetPending(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.node.Chain().PendingTransactions())
}
