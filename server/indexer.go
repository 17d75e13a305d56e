package server

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jasonlvhit/gocron"
)

// StartAutoVacuum uses gocron to setup a 2 am task that optimizes the index table.
// Deletes and updates leave dead space behind in every one of our storage engines.
func (e *Engine) StartAutoVacuum() {
	gocron.Every(1).Day().At("02:00").Do(e.Vacuum)
	gocron.Start()
}

// StartAutoRebuilder launches an auto rebuild loop that never exits.
// This function is never run if Config.DisableAutoIndexRebuild = true.
// Our pause time between checks starts at 1 minute.
// When we encounter a failure, we double our pause time, up to a maximum
// of 30 minutes. As soon as we have success again, we take our pause time back
// down to 1 minute.
func (e *Engine) StartAutoRebuilder() {
	e.ErrorLog.Info("Starting Auto Index Rebuilder")
	last_attempt := time.Now().Add(-time.Hour)
	min_pause := time.Minute
	max_pause := 30 * time.Minute
	pause := min_pause
	for range e.autoRebuildTicker.C {
		if time.Now().Sub(last_attempt) > pause {
			err := e.AutoRebuild(context.Background())
			if err != nil {
				e.ErrorLog.Errorf("Auto rebuild failed: %v", err)
				pause *= 2
				if pause > max_pause {
					pause = max_pause
				}
			} else {
				pause = min_pause
			}
			last_attempt = time.Now()
		}
	}
}

// StartStateWatcher launches a never-ending loop that wakes up once a minute
// and determines whether we have any stale types that need to be reindexed.
// This is used to inform callers that they may be receiving stale results.
func (e *Engine) StartStateWatcher() {
	last_stale := time.Now().Add(-time.Hour)
	stale_interval := 60 * time.Second
	for range e.stateWatchTicker.C {
		if time.Now().Sub(last_stale) > stale_interval {
			if err := e.refreshIndexState(context.Background()); err != nil {
				e.ErrorLog.Errorf("StateWatcher: %v", err)
			}
			last_stale = time.Now()
		}
	}
}

func (e *Engine) refreshIndexState(ctx context.Context) error {
	stale, err := e.Binder.StaleTypes(ctx)
	if err != nil {
		return err
	}
	erased, err := e.Binder.ErasedTypes(ctx)
	if err != nil {
		return err
	}
	state := uint32(0)
	if len(stale) != 0 || len(erased) != 0 {
		state = 1
	}
	atomic.StoreUint32(&e.isIndexOutOfDate_Atomic, state)
	return nil
}

// AutoRebuild erases types that are no longer configured, and reindexes types whose
// configuration has changed since they were last indexed.
func (e *Engine) AutoRebuild(ctx context.Context) error {
	erase, err := e.Binder.ErasedTypes(ctx)
	if err != nil {
		return err
	}
	if len(erase) != 0 {
		e.ErrorLog.Infof("Auto rebuild: erasing types from index [%v]", strings.Join(erase, ", "))
		for _, name := range erase {
			if err := e.Index.RemoveType(ctx, name); err != nil {
				return err
			}
		}
	}

	rebuild, err := e.Binder.StaleTypes(ctx)
	if err != nil {
		return err
	}
	if len(rebuild) != 0 {
		e.ErrorLog.Infof("Auto rebuild: reindex [%v]", strings.Join(rebuild, ", "))
		if _, err := e.Reindex(ctx, rebuild); err != nil {
			return err
		}
		e.ErrorLog.Infof("Auto rebuild done")
	}
	return e.refreshIndexState(ctx)
}
