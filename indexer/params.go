package indexer

import (
	"time"

	"amm-indexer/config"

	"github.com/ethereum/go-ethereum/common"
)

type Params struct {
	Factory        common.Address
	Workers        int
	RetryAttempts  int
	RetryDelay     time.Duration
	TokenCacheSize int
	RepairSkipped  bool
}

func ParamsFromConfig(cfg config.IndexerConfig) Params {
	return Params{
		Factory:        cfg.Factory(),
		Workers:        cfg.Workers,
		RetryAttempts:  cfg.RetryAttempts,
		RetryDelay:     cfg.RetryDelay(),
		TokenCacheSize: cfg.TokenCacheSize,
		RepairSkipped:  cfg.RepairSkipped,
	}
}

func (p *Params) setDefaults() {
	if p.Workers < 1 {
		p.Workers = config.DefaultWorkers
	}
	if p.RetryAttempts < 1 {
		p.RetryAttempts = config.DefaultRetryAttempts
	}
	if p.RetryDelay < 0 {
		p.RetryDelay = 0
	}
	if p.TokenCacheSize < 1 {
		p.TokenCacheSize = config.DefaultTokenCacheSize
	}
}

type TaskKind int

const (
	// TaskIndex persists a pair number from the new range.
	TaskIndex TaskKind = iota
	// TaskRepair persists a pair number skipped by an earlier run.
	TaskRepair
	// TaskRefresh appends a reserve snapshot for an already persisted pair.
	TaskRefresh
)

func (k TaskKind) String() string {
	switch k {
	case TaskIndex:
		return "index"
	case TaskRepair:
		return "repair"
	case TaskRefresh:
		return "refresh"
	default:
		return "unknown"
	}
}

type Task struct {
	Kind   TaskKind
	Number uint64

	// set for refresh tasks only
	PairID      uint64
	PairAddress common.Address
}

// Summary reports what a run of the pool did.
type Summary struct {
	BlockHeight   uint64
	Dispatched    int64
	Indexed       int64
	Skipped       int64
	Refreshed     int64
	RefreshFailed int64

	// skipped-pair markers that could not be recorded or cleared
	SkipLedgerFailed int64
}
