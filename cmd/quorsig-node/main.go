package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/viper"

	"github.com/quorsig/quorsig/internal/api"
	"github.com/quorsig/quorsig/internal/monitoring"
	"github.com/quorsig/quorsig/internal/transport"
	"github.com/quorsig/quorsig/internal/tsig"
	"github.com/quorsig/quorsig/internal/tsig/curve"
	"github.com/quorsig/quorsig/internal/tsig/dkg"
	"github.com/quorsig/quorsig/pkg/bus"
	"github.com/quorsig/quorsig/pkg/lifecycle"
	"github.com/quorsig/quorsig/pkg/logger"
)

type nodeConfig struct {
	API        string `mapstructure:"api"`
	Monitoring string `mapstructure:"monitoring"`
	LogLevel   string `mapstructure:"log_level"`
	Keystore   string `mapstructure:"keystore"`
	Committee  string `mapstructure:"committee"`
	Generate   bool   `mapstructure:"generate"`
	Webhook    string `mapstructure:"webhook"`

	Tsig tsig.Config         `mapstructure:"tsig"`
	Net  transport.NetConfig `mapstructure:"net"`
}

func main() {
	cfg := nodeConfig{
		API:        "127.0.0.1:4700",
		Monitoring: "127.0.0.1:4720",
		LogLevel:   "info",
		Keystore:   "tsig_keyshare.dat",
		Tsig: tsig.Config{
			Curve:        curve.Secp256k1,
			Threshold:    3,
			Participants: 4,
			SelfIndex:    1,
		},
	}
	var (
		confPath  string
		bootnodes string
		threshold = uint(cfg.Tsig.Threshold)
		nParties  = uint(cfg.Tsig.Participants)
		selfIndex = uint(cfg.Tsig.SelfIndex)
	)
	flag.StringVar(&confPath, "config", "", "Optional config file (yaml/json), QUORSIG_* env overrides")
	flag.StringVar(&cfg.API, "api", cfg.API, "Validator API listen address")
	flag.StringVar(&cfg.Monitoring, "monitoring", cfg.Monitoring, "Monitoring listen address")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Minimum log level")
	flag.StringVar((*string)(&cfg.Tsig.Curve), "curve", string(cfg.Tsig.Curve), "Signature curve (secp256k1, p256, ed25519, bls12-381)")
	flag.UintVar(&threshold, "threshold", threshold, "Signing threshold t")
	flag.UintVar(&nParties, "participants", nParties, "Group size n")
	flag.UintVar(&selfIndex, "index", selfIndex, "This node's 1-based share index (0: combine-only)")
	flag.StringVar(&cfg.Keystore, "keystore", cfg.Keystore, "Key share path (QUORSIG_KEYSTORE_* env controls encryption)")
	flag.StringVar(&cfg.Committee, "committee", "", "Committee config path; enables the networked ceremony")
	flag.BoolVar(&cfg.Generate, "generate", false, "Run key generation at startup when no share exists")
	flag.StringVar(&cfg.Webhook, "webhook", "", "Optional URL receiving ceremony completions")
	flag.StringVar(&cfg.Net.Mode, "net.mode", "", "Transport: none, relay or p2p")
	flag.StringVar(&cfg.Net.RelayURL, "net.relay-url", "", "Websocket relay endpoint (relay mode)")
	flag.StringVar(&bootnodes, "net.bootnodes", "", "Comma-separated bootnode multiaddrs or path to file (p2p mode)")
	flag.BoolVar(&cfg.Net.NAT, "net.nat", false, "Enable NAT port mapping (p2p mode)")
	flag.Parse()
	cfg.Tsig.Threshold = uint32(threshold)
	cfg.Tsig.Participants = uint32(nParties)
	cfg.Tsig.SelfIndex = uint32(selfIndex)

	if confPath != "" {
		if err := loadConfigFile(confPath, &cfg); err != nil {
			logger.Error("config: " + err.Error())
			os.Exit(2)
		}
	}
	cfg.Net.Bootnodes = append(cfg.Net.Bootnodes, parseBootnodes(bootnodes)...)
	logger.SetLevel(cfg.LogLevel)
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tr, err := transport.New(cfg.Net)
	if err != nil {
		logger.Error("transport: " + err.Error())
		os.Exit(1)
	}

	var committee *dkg.CommitteeConfig
	var auth *tsig.CommitteeAuth
	if cfg.Committee != "" {
		cc, err := dkg.LoadCommitteeConfig(cfg.Committee)
		if err != nil {
			logger.Error("committee: " + err.Error())
			os.Exit(2)
		}
		committee = &cc
		auth = tsig.NewCommitteeAuth(cc)
		// The committee file is authoritative for the group parameters.
		cfg.Tsig.Curve = cc.Curve
		cfg.Tsig.Threshold = cc.Threshold
		cfg.Tsig.Participants = cc.N
		cfg.Tsig.SelfIndex = cc.Index
		if cc.KeySharePath != "" {
			cfg.Keystore = cc.KeySharePath
		}
	}

	b := bus.New(256)
	deps := tsig.Deps{
		Transport: tr,
		KeyStore:  dkg.NewKeyStoreFromEnv(cfg.Keystore),
		Committee: committee,
		Sink:      buildSink(ctx, b, cfg.Webhook),
	}
	if auth != nil {
		deps.Auth = auth
	}
	coord, err := tsig.New(cfg.Tsig, deps)
	if err != nil {
		logger.Error(err.Error())
		os.Exit(2)
	}

	m := lifecycle.New()
	m.Add(transport.NewNetService(tr))
	m.Add(tsig.NewService(coord))
	m.Add(api.New(cfg.API, coord))
	m.Add(monitoring.New(cfg.Monitoring))

	if err := m.StartAll(ctx); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
	maybeGenerateKeys(ctx, coord, cfg.Generate)
	<-ctx.Done()
	_ = m.StopAll(context.Background())
}

// loadConfigFile layers a viper-read file plus QUORSIG_* env vars over the
// flag values already in cfg.
func loadConfigFile(path string, cfg *nodeConfig) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("QUORSIG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	return v.Unmarshal(cfg)
}

func parseBootnodes(arg string) []string {
	if arg == "" {
		return nil
	}
	var raw []string
	if fi, err := os.Stat(arg); err == nil && !fi.IsDir() {
		b, err := os.ReadFile(arg)
		if err != nil {
			return nil
		}
		raw = strings.Split(string(b), "\n")
	} else {
		raw = strings.Split(arg, ",")
	}
	var out []string
	for _, ln := range raw {
		if ln = strings.TrimSpace(ln); ln != "" {
			out = append(out, ln)
		}
	}
	return out
}

// buildSink publishes ceremony completions to the internal bus and, when
// configured, a webhook.
func buildSink(ctx context.Context, b *bus.Bus, webhook string) tsig.ResultSink {
	sinks := []tsig.ResultSink{busSink{ctx: ctx, b: b}}
	if webhook != "" {
		sinks = append(sinks, tsig.WebhookSink{URL: webhook})
	}
	return multiSink(sinks)
}

type busSink struct {
	ctx context.Context
	b   *bus.Bus
}

func (s busSink) Publish(rec tsig.CeremonyRecord) {
	kind := bus.KindCeremony
	if rec.Rotation {
		kind = bus.KindRotation
	}
	s.b.Publish(s.ctx, bus.Event{Kind: kind, Session: rec.SessionID, Epoch: rec.Epoch, Body: rec})
}

type multiSink []tsig.ResultSink

func (m multiSink) Publish(rec tsig.CeremonyRecord) {
	for _, s := range m {
		s.Publish(rec)
	}
}

// maybeGenerateKeys bootstraps key generation in the background so a fresh
// committee converges without operator action. Existing keys short-circuit
// inside the coordinator.
func maybeGenerateKeys(ctx context.Context, coord *tsig.Coordinator, enabled bool) {
	if !enabled {
		return
	}
	if coord.State() == tsig.StateKeysGenerated {
		logger.InfoJ("tsig_bootstrap", map[string]any{"result": "skip", "reason": "keys_exist", "epoch": coord.Epoch()})
		return
	}
	go func() {
		begin := time.Now()
		res, err := coord.GenerateDistributedKeys(ctx)
		if err != nil {
			logger.ErrorJ("tsig_bootstrap", map[string]any{"result": "error", "err": err.Error()})
			return
		}
		logger.InfoJ("tsig_bootstrap", map[string]any{
			"result": "ok", "epoch": res.Epoch, "qualified": len(res.Qualified),
			"latency_ms": time.Since(begin).Milliseconds(),
		})
	}()
}
