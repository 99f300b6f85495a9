// Command trader is a reference autonomous agent: it connects to the mesh,
// subscribes to its configured markets, and answers analysis requests with
// model-drafted analyses.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/babylon-markets/a2a/client"
	"github.com/babylon-markets/a2a/config"
	"github.com/babylon-markets/a2a/llm"
	"github.com/babylon-markets/a2a/logger"
	"github.com/babylon-markets/a2a/protocol"
	"github.com/babylon-markets/a2a/types"
)

type trader struct {
	client  *client.Client
	analyst *llm.Analyst
	log     *logger.Logger
	markets []string
}

func main() {
	configPath := flag.String("config", "", "path to yaml config file")
	flag.Parse()

	log := logger.New("trader")

	cfg, err := config.LoadClient(*configPath)
	if err != nil {
		log.Error(err, "failed to load configuration")
		os.Exit(1)
	}
	log.SetLevel(logger.ParseLevel(cfg.LogLevel))
	if cfg.PrivateKey == "" {
		log.Error(nil, "A2A_PRIVATE_KEY is not set")
		os.Exit(1)
	}

	t := &trader{log: log, markets: cfg.CapabilityMarkets}

	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		analyst, err := llm.NewGeminiAnalyst(context.Background(), apiKey, os.Getenv("GEMINI_MODEL"))
		if err != nil {
			log.Error(err, "failed to initialize analyst")
			os.Exit(1)
		}
		t.analyst = analyst
	} else {
		log.Warn("GEMINI_API_KEY not set, analysis requests will be ignored")
	}

	c, err := client.FromConfig(cfg, client.Options{
		Events: protocol.Events{
			OnMarketUpdate:      t.onMarketUpdate,
			OnAnalysisRequested: t.onAnalysisRequested,
			OnCoalitionMessage:  t.onCoalitionMessage,
			OnAgentConnected: func(e types.PresenceEvent) {
				log.Info("agent %s joined the mesh", e.AgentID)
			},
		},
		// Subscriptions do not survive a disconnect; re-subscribe after
		// every handshake.
		OnSession: func(types.HandshakeResult) { go t.subscribeAll() },
	})
	if err != nil {
		log.Error(err, "failed to build client")
		os.Exit(1)
	}
	t.client = c

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := c.Connect(ctx); err != nil {
		cancel()
		log.Error(err, "failed to connect to %s", cfg.URL)
		os.Exit(1)
	}
	cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	c.Close()
}

func (t *trader) subscribeAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, marketID := range t.markets {
		if _, err := t.client.SubscribeMarket(ctx, marketID); err != nil {
			t.log.Error(err, "subscribe %s failed", marketID)
			continue
		}
		t.log.Info("subscribed to %s", marketID)
	}
}

func (t *trader) onMarketUpdate(u types.MarketUpdate) {
	t.log.Debug("market %s moved: yes=%.3f price=%.2f", u.MarketID, u.YesPrice, u.Price)
}

func (t *trader) onAnalysisRequested(req types.AnalysisRequest) {
	if t.analyst == nil || req.Requester == t.client.AgentID() {
		return
	}
	t.log.Info("analysis requested for %s by %s (bounty %.2f)", req.MarketID, req.Requester, req.Bounty)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	market, err := t.client.GetMarketData(ctx, req.MarketID)
	if err != nil {
		t.log.Error(err, "fetch market %s", req.MarketID)
		return
	}
	peers, err := t.client.GetAnalyses(ctx, req.MarketID, 5)
	if err != nil {
		t.log.Error(err, "fetch peer analyses for %s", req.MarketID)
		peers = nil
	}

	draft, err := t.analyst.Analyze(ctx, *market, peers)
	if err != nil {
		t.log.Error(err, "analyze %s", req.MarketID)
		return
	}
	if _, err := t.client.ShareAnalysis(ctx, *draft); err != nil {
		t.log.Error(err, "share analysis for %s", req.MarketID)
		return
	}
	t.log.Info("shared analysis for %s: prediction=%.2f confidence=%.2f",
		req.MarketID, draft.Prediction, draft.Confidence)
}

func (t *trader) onCoalitionMessage(msg types.CoalitionMessage) {
	t.log.Info("coalition %s message from %s: %s", msg.CoalitionID, msg.From, msg.MessageType)
}
