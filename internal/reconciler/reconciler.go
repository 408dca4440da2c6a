// Package reconciler runs once at startup, before the scheduler begins
// firing jobs, to close the gap between persisted OpenPosition rows and the
// exchange's actual position book.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tscore/statarb/internal/exchange"
	"github.com/tscore/statarb/internal/models"
	"github.com/tscore/statarb/internal/notify"
	"github.com/tscore/statarb/internal/store"
)

// ClientFactory builds an exchange client from the active credential. The
// reconciler needs only get_positions. The factory resolves the credential
// itself, the same shape as emergency.ClientFactory.
type ClientFactory func() (*exchange.Client, error)

type Reconciler struct {
	Store     *store.Store
	NewClient ClientFactory
	Notifier  *notify.Notifier
}

func New(st *store.Store, factory ClientFactory, n *notify.Notifier) *Reconciler {
	return &Reconciler{Store: st, NewClient: factory, Notifier: n}
}

// logSync appends a position_sync JobLog row for the given pair. Failures
// to write the log are themselves only logged: a reconciliation action has
// already taken effect, and losing its audit trail must not mask that.
func (r *Reconciler) logSync(pairID uint, message string) {
	entry := &models.JobLog{
		PairID:    pairID,
		Timestamp: time.Now().UTC(),
		Status:    "warning",
		Action:    "position_sync",
		Message:   message,
	}
	if err := r.Store.AppendJobLog(entry, nil); err != nil {
		log.Error().Uint("pair_id", pairID).Err(err).Msg("reconciler: failed to append position_sync job log")
	}
}

// Result tallies what the reconciliation pass did, for startup logging.
type Result struct {
	OrphansDeleted   int
	PartialWarnings  int
	StaleDeleted     int
	AutoRecovered    int
	UntrackedWarned  int
}

// Run performs the full reconciliation pass. It is idempotent: running it
// twice in a row is equivalent to running it once, because every action it
// takes (delete, auto-create) removes the condition that triggered it.
func (r *Reconciler) Run(ctx context.Context) (Result, error) {
	var res Result

	client, err := r.NewClient()
	if err != nil {
		return res, fmt.Errorf("no active credential for reconciliation: %w", err)
	}
	exchangePositions, err := client.GetPositions(ctx)
	if err != nil {
		return res, fmt.Errorf("get_positions during reconciliation: %w", err)
	}
	byMarket := make(map[int]exchange.Position, len(exchangePositions))
	for _, p := range exchangePositions {
		byMarket[p.MarketIndex] = p
	}
	tracked := make(map[int]bool, len(exchangePositions)*2)

	openPositions, err := r.Store.ListOpenPositions()
	if err != nil {
		return res, fmt.Errorf("list open positions: %w", err)
	}

	for i := range openPositions {
		d := openPositions[i]
		pair, err := r.Store.GetPair(d.PairID)
		if err != nil {
			log.Error().Uint("pair_id", d.PairID).Err(err).Msg("reconciler: load pair failed")
			continue
		}
		if pair == nil {
			if err := r.Store.DeleteOpenPositionByID(d.ID); err != nil {
				log.Error().Uint("position_id", d.ID).Err(err).Msg("reconciler: orphan delete failed")
				continue
			}
			res.OrphansDeleted++
			log.Warn().Uint("position_id", d.ID).Msg("reconciler: deleted orphaned position, pair no longer exists")
			r.logSync(d.PairID, fmt.Sprintf("deleted orphaned position %d, pair no longer exists", d.ID))
			continue
		}

		_, aPresent := byMarket[pair.MarketA]
		_, bPresent := byMarket[pair.MarketB]
		tracked[pair.MarketA] = true
		tracked[pair.MarketB] = true

		switch {
		case aPresent && bPresent:
			// confirmed, no action
		case aPresent != bPresent:
			res.PartialWarnings++
			log.Warn().Str("pair", pair.Name).Msg("reconciler: partial position on exchange, leaving for operator")
			r.logSync(pair.ID, fmt.Sprintf("pair %s: partial position on exchange, left for operator review", pair.Name))
			r.Notifier.Notify(notify.SeverityWarning, "pair %s: partial position detected at startup, needs operator review", pair.Name)
		default:
			if err := r.Store.DeleteOpenPositionByID(d.ID); err != nil {
				log.Error().Uint("position_id", d.ID).Err(err).Msg("reconciler: stale delete failed")
				continue
			}
			res.StaleDeleted++
			log.Warn().Str("pair", pair.Name).Msg("reconciler: stale db position deleted, not present on exchange")
			r.logSync(pair.ID, fmt.Sprintf("pair %s: stale db position deleted, not present on exchange", pair.Name))
		}
	}

	pairs, err := r.Store.ListEnabledPairs()
	if err != nil {
		return res, fmt.Errorf("list enabled pairs: %w", err)
	}
	for i := range pairs {
		pair := pairs[i]
		existing, err := r.Store.GetOpenPosition(pair.ID)
		if err != nil {
			log.Error().Uint("pair_id", pair.ID).Err(err).Msg("reconciler: load open position failed")
			continue
		}
		if existing != nil {
			continue
		}
		a, aOK := byMarket[pair.MarketA]
		b, bOK := byMarket[pair.MarketB]
		if !aOK || !bOK {
			continue
		}
		tracked[pair.MarketA] = true
		tracked[pair.MarketB] = true

		direction := 1
		if a.Side == "short" {
			direction = -1
		}
		hedgeRatio := 1.0
		if a.Size != 0 {
			hedgeRatio = b.Size / a.Size
		}
		notional := a.EntryPrice*a.Size + b.EntryPrice*b.Size

		recovered := &models.OpenPosition{
			PairID:          pair.ID,
			Direction:       direction,
			EntryZ:          0,
			EntrySpread:     0,
			EntryPriceA:     a.EntryPrice,
			EntryPriceB:     b.EntryPrice,
			EntryHedgeRatio: hedgeRatio,
			EntryNotional:   notional,
		}
		if err := r.Store.CreateOpenPosition(recovered); err != nil {
			log.Error().Str("pair", pair.Name).Err(err).Msg("reconciler: auto-recover create failed")
			continue
		}
		res.AutoRecovered++
		log.Warn().Str("pair", pair.Name).Msg("reconciler: auto-recovered untracked exchange position")
		r.logSync(pair.ID, fmt.Sprintf("pair %s: auto-recovered an exchange position with no DB record", pair.Name))
		r.Notifier.Notify(notify.SeverityWarning, "pair %s: auto-recovered an exchange position with no DB record", pair.Name)
	}

	for market := range byMarket {
		if !tracked[market] {
			res.UntrackedWarned++
			log.Warn().Int("market", market).Msg("reconciler: exchange position untracked by any pair")
			r.logSync(0, fmt.Sprintf("market %d: exchange position untracked by any pair", market))
		}
	}

	return res, nil
}
