package chain

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Jimmyu2foru18/Blockchain-Gossip-Network/src/crypto"
)

// DefaultMaxNonce bounds the nonce search of the standalone ProofOfWork
// helper. The chain mining path is unbounded; only this helper gives up.
const DefaultMaxNonce = 1000000

// ProofOfWork is a standalone nonce-search helper over arbitrary payloads,
// with its own difficulty-adjustment bookkeeping. The chain keeps equivalent
// state of its own; the two are deliberately independent.
type ProofOfWork struct {
	difficulty            int
	targetBlockTime       time.Duration
	adjustmentInterval    int
	lastAdjustment        time.Time
	blocksSinceAdjustment int

	logger *logrus.Entry
}

// NewProofOfWork creates a helper with the given initial difficulty and
// target block time.
func NewProofOfWork(difficulty int, targetBlockTime time.Duration, adjustmentInterval int, logger *logrus.Entry) *ProofOfWork {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &ProofOfWork{
		difficulty:         difficulty,
		targetBlockTime:    targetBlockTime,
		adjustmentInterval: adjustmentInterval,
		lastAdjustment:     time.Now(),
		logger:             logger,
	}
}

// Difficulty returns the current difficulty.
func (p *ProofOfWork) Difficulty() int {
	return p.difficulty
}

// Target returns the required hash prefix.
func (p *ProofOfWork) Target() string {
	return strings.Repeat("0", p.difficulty)
}

// hashWithNonce hashes the canonical JSON encoding of data followed by the
// decimal nonce.
func hashWithNonce(data map[string]interface{}, nonce int) string {
	canonical, _ := json.Marshal(data)
	return crypto.SHA256Hex(append(canonical, []byte(strconv.Itoa(nonce))...))
}

// Mine searches for a nonce whose hash meets the current target, trying at
// most maxNonce values. It returns the winning nonce and hash, or ok=false if
// the search was exhausted. Exhaustion is a normal outcome, not an error.
func (p *ProofOfWork) Mine(data map[string]interface{}, maxNonce int) (nonce int, hash string, ok bool) {
	target := p.Target()
	start := time.Now()

	for nonce = 0; nonce < maxNonce; nonce++ {
		hash = hashWithNonce(data, nonce)
		if strings.HasPrefix(hash, target) {
			p.logger.WithFields(logrus.Fields{
				"nonce":    nonce,
				"hash":     hash,
				"duration": time.Since(start),
			}).Debug("Mined")

			p.blocksSinceAdjustment++
			if p.blocksSinceAdjustment >= p.adjustmentInterval {
				p.adjustDifficulty(time.Now())
			}

			return nonce, hash, true
		}
	}

	p.logger.WithField("max_nonce", maxNonce).Debug("Nonce search exhausted")

	return 0, "", false
}

// Verify checks that hash is the digest of data and nonce and that it meets
// the current target.
func (p *ProofOfWork) Verify(data map[string]interface{}, nonce int, hash string) bool {
	if hashWithNonce(data, nonce) != hash {
		return false
	}
	return strings.HasPrefix(hash, p.Target())
}

func (p *ProofOfWork) adjustDifficulty(now time.Time) {
	elapsed := now.Sub(p.lastAdjustment)
	expected := p.targetBlockTime * time.Duration(p.adjustmentInterval)

	if elapsed < expected/2 {
		p.difficulty++
		p.logger.WithField("difficulty", p.difficulty).Debug("Increased difficulty")
	} else if elapsed > expected*2 {
		if p.difficulty > 1 {
			p.difficulty--
		}
		p.logger.WithField("difficulty", p.difficulty).Debug("Decreased difficulty")
	}

	p.lastAdjustment = now
	p.blocksSinceAdjustment = 0
}

// Stats returns a snapshot of the helper's state.
func (p *ProofOfWork) Stats() map[string]interface{} {
	return map[string]interface{}{
		"difficulty":              p.difficulty,
		"target":                  p.Target(),
		"target_block_time":       p.targetBlockTime.Seconds(),
		"adjustment_interval":     p.adjustmentInterval,
		"blocks_since_adjustment": p.blocksSinceAdjustment,
	}
}
