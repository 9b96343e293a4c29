package engine

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// InitializeSchedules starts all the cron jobs (currently just one)
func (serverHandler *ServerHandler) InitializeSchedules() {
	if serverHandler.MemoryCache == nil || serverHandler.ServerConfig.CacheTTLMinutes == 0 {
		Logger.Info("Cache entries never expire, janitor not scheduled")
		return
	}

	c := cron.New()
	var sweepJob cron.Job
	sweepJob = cron.FuncJob(func() { serverHandler.sweepJobFunc() })
	sweepJob = cron.NewChain(cron.SkipIfStillRunning(cron.DefaultLogger)).Then(sweepJob) //ensure we don't kick off another if old one is still running
	c.AddJob(fmt.Sprintf("@every %dm", serverHandler.ServerConfig.CacheSweepMinutes), sweepJob)
	Logger.Info("Adding cache janitor scheduler", "interval_minutes", serverHandler.ServerConfig.CacheSweepMinutes)
	c.Start()
}

func (serverHandler *ServerHandler) sweepJobFunc() {
	defer func() {
		if r := recover(); r != nil {
			Logger.Error("Panic recovered in cache janitor", "panic", r)
		}
	}()

	removed := serverHandler.MemoryCache.Sweep()
	if removed > 0 {
		Logger.Info("Cache janitor removed expired results", "removed", removed)
	}
}
