// Command node starts a consortium settlement node.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sp-consortium/settlementd/config"
	"github.com/sp-consortium/settlementd/consensus"
	"github.com/sp-consortium/settlementd/core"
	"github.com/sp-consortium/settlementd/crypto"
	"github.com/sp-consortium/settlementd/crypto/certgen"
	"github.com/sp-consortium/settlementd/events"
	"github.com/sp-consortium/settlementd/identity"
	"github.com/sp-consortium/settlementd/indexer"
	"github.com/sp-consortium/settlementd/network"
	"github.com/sp-consortium/settlementd/rpc"
	"github.com/sp-consortium/settlementd/storage"
	"github.com/sp-consortium/settlementd/vm"
	"github.com/sp-consortium/settlementd/zkp"
)

func main() {
	cfgPath := flag.String("config", "config.json", "path to config file")
	keyPath := flag.String("key", "validator.key", "path to keystore file")
	genKey := flag.Bool("genkey", false, "generate a new operator key and exit")
	genCerts := flag.String("gencerts", "", "generate CA + node TLS certs into the given directory and exit (requires node ID from config)")
	flag.Parse()

	// Read keystore password from environment (not CLI flags — they leak via ps).
	password := os.Getenv("SETTLEMENTD_PASSWORD")
	if password == "" {
		log.Println("WARNING: SETTLEMENTD_PASSWORD not set — keystore will use an empty password")
	}

	// ---- generate key mode ----
	if *genKey {
		id, err := identity.Generate("unassigned")
		if err != nil {
			log.Fatal(err)
		}
		if err := identity.SaveKey(*keyPath, password, id.PrivKey()); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Generated key. Public key (validator identity): %s\n", id.PubKey())
		fmt.Printf("Saved to: %s\n", *keyPath)
		return
	}

	// ---- generate certs mode ----
	if *genCerts != "" {
		cfgForCerts, err := loadConfig(*cfgPath)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		if err := certgen.GenerateAll(*genCerts, cfgForCerts.NodeID, nil); err != nil {
			log.Fatalf("gencerts: %v", err)
		}
		fmt.Printf("Certificates generated in %s for node %q\n", *genCerts, cfgForCerts.NodeID)
		return
	}

	// ---- load config ----
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.AllowDemoVM {
		log.Println("WARNING: allow_demo_vm is enabled — proof/signature checks fall open when witness data is missing. Never run this in production.")
	}

	// ---- load operator key ----
	privKey, err := identity.LoadKey(*keyPath, password)
	if err != nil {
		log.Fatalf("load key: %v", err)
	}
	self := identity.New(cfg.Operator, privKey)

	// ---- validator key registry ----
	validatorKeys, err := newValidatorKeyRegistry(cfg.Validators)
	if err != nil {
		log.Fatalf("validator keys: %v", err)
	}

	// ---- open DB ----
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("mkdir data dir: %v", err)
	}
	db, err := storage.NewLevelDB(cfg.DataDir + "/chain")
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	blockStore := storage.NewLevelBlockStore(db)
	recordStore := storage.NewRecordStore(db)

	// ---- ledger + pipeline ----
	ledger := core.NewLedger(blockStore)
	if err := ledger.Init(); err != nil {
		log.Fatalf("ledger init: %v", err)
	}
	if ledger.Tip() == nil {
		genesisBlock := config.CreateGenesisBlock(cfg, privKey)
		if err := ledger.AppendBlock(genesisBlock); err != nil {
			log.Fatalf("add genesis: %v", err)
		}
		log.Printf("Genesis block committed: %s", genesisBlock.Hash)
	}
	// ---- ZKP subsystem ----
	zkpSystem, zkpMetrics, err := setupZKP(cfg)
	if err != nil {
		log.Fatalf("zkp setup: %v", err)
	}

	pipeline := core.NewPipeline(ledger, recordStore, zkpSystem)

	// ---- events ----
	emitter := events.NewEmitter()

	// ---- indexer ----
	idx := indexer.New(db, ledger, recordStore, emitter)

	// ---- consensus ----
	engine := consensus.NewEngine(cfg, pipeline, emitter)

	// ---- TLS ----
	tlsCfg, err := config.LoadTLSConfig(cfg.TLS)
	if err != nil {
		log.Fatalf("tls: %v", err)
	}
	if tlsCfg != nil {
		log.Println("mTLS enabled for P2P")
	}

	// ---- network ----
	p2pAddr := fmt.Sprintf(":%d", cfg.P2PPort)
	node := network.NewNode(cfg.NodeID, p2pAddr, pipeline, ledger, engine, validatorKeys, tlsCfg)
	chainValidator := &proposerSignatureValidator{keys: validatorKeys}
	syncer := network.NewSyncer(node, ledger, chainValidator)
	if err := node.Start(); err != nil {
		log.Fatalf("p2p start: %v", err)
	}
	defer node.Stop()
	log.Printf("P2P listening on %s", p2pAddr)

	// ---- connect to seed peers ----
	for _, sp := range cfg.SeedPeers {
		if err := node.AddPeer(sp.ID, sp.Addr); err != nil {
			log.Printf("seed peer %s (%s): %v", sp.ID, sp.Addr, err)
			continue
		}
		if peer := node.Peer(sp.ID); peer != nil {
			_ = syncer.RequestChainState(peer)
		}
		log.Printf("Connected to seed peer %s (%s)", sp.ID, sp.Addr)
	}

	// ---- RPC ----
	rpcAddr := fmt.Sprintf(":%d", cfg.RPCPort)
	rpcHandler := rpc.NewHandler(pipeline, ledger, recordStore, idx, cfg.Genesis.ConsortiumID)
	rpcServer := rpc.NewServer(rpcAddr, rpcHandler, cfg.RPCAuthToken)
	if err := rpcServer.Start(); err != nil {
		log.Fatalf("rpc start: %v", err)
	}
	defer rpcServer.Stop()
	log.Printf("RPC listening on %s", rpcAddr)
	if cfg.RPCAuthToken != "" {
		log.Println("RPC Bearer token authentication enabled")
	}

	// ---- metrics ----
	var metricsServer *http.Server
	if cfg.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: fmt.Sprintf(":%d", cfg.MetricsPort), Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("[metrics] server error: %v", err)
			}
		}()
		log.Printf("Metrics listening on :%d/metrics", cfg.MetricsPort)
	}
	_ = zkpMetrics

	// ---- consensus round cleanup loop ----
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.Run(2*time.Second, done)
	}()

	// ---- settlement proposal loop ----
	wg.Add(1)
	go func() {
		defer wg.Done()
		runProposalLoop(cfg, self, pipeline, recordStore, engine, node, done)
	}()
	log.Printf("Node running (operator: %s, identity: %s)", cfg.Operator, self.PubKey())

	// ---- graceful shutdown ----
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("Shutting down...")

	close(done)
	wg.Wait()
	if metricsServer != nil {
		_ = metricsServer.Close()
	}

	log.Println("Shutdown complete.")
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("Config file not found at %s, using defaults.", path)
			return config.DefaultConfig(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// setupZKP compiles the consortium's two circuits and runs a (simulated)
// trusted-setup ceremony for each across the genesis operator set. A
// production deployment would load a persisted CeremonyTranscript instead
// of re-running Setup on every node start; this keeps the exercise
// self-contained.
func setupZKP(cfg *config.Config) (*zkp.System, *zkp.Metrics, error) {
	bceCS, settleCS, err := zkp.CompileCircuits()
	if err != nil {
		return nil, nil, fmt.Errorf("compile circuits: %w", err)
	}
	bcePK, bceVK, bceTranscript, err := zkp.RunCeremony(zkp.CircuitBcePrivacy, bceCS, cfg.Genesis.Operators)
	if err != nil {
		return nil, nil, fmt.Errorf("bce privacy ceremony: %w", err)
	}
	settlePK, settleVK, settleTranscript, err := zkp.RunCeremony(zkp.CircuitSettlementCalc, settleCS, cfg.Genesis.Operators)
	if err != nil {
		return nil, nil, fmt.Errorf("settlement calc ceremony: %w", err)
	}
	log.Printf("ZKP ceremony complete: bce=%s settle=%s", bceTranscript.CeremonyID, settleTranscript.CeremonyID)

	system := zkp.NewSystem(bceCS, bcePK, bceVK, settleCS, settlePK, settleVK)
	metrics := zkp.NewMetrics(prometheus.DefaultRegisterer)
	return system, metrics, nil
}

// validatorKeyRegistry resolves validator pubkey hexes to crypto.PublicKey,
// satisfying network.ValidatorKeys.
type validatorKeyRegistry struct {
	keys map[string]crypto.PublicKey
}

func newValidatorKeyRegistry(validators []string) (*validatorKeyRegistry, error) {
	keys := make(map[string]crypto.PublicKey, len(validators))
	for _, hexKey := range validators {
		pub, err := crypto.PubKeyFromHex(hexKey)
		if err != nil {
			return nil, fmt.Errorf("validator key %q: %w", hexKey, err)
		}
		keys[hexKey] = pub
	}
	return &validatorKeyRegistry{keys: keys}, nil
}

func (r *validatorKeyRegistry) PublicKey(pubkeyHex string) (crypto.PublicKey, bool) {
	pub, ok := r.keys[pubkeyHex]
	return pub, ok
}

// proposerSignatureValidator checks a synced settlement block's proposer
// signature against the registered validator set, satisfying
// network.ChainValidator.
type proposerSignatureValidator struct {
	keys *validatorKeyRegistry
}

func (v *proposerSignatureValidator) ValidateBlock(block *core.SettlementBlock) error {
	pub, ok := v.keys.PublicKey(block.Header.Proposer)
	if !ok {
		return fmt.Errorf("block %s: proposer %s is not a known validator", block.Hash, block.Header.Proposer)
	}
	return block.Verify(pub)
}

// runProposalLoop periodically batches ready pending records into a
// settlement block proposal, opens a consensus round for it, and casts this
// node's own vote. It mirrors the teacher's ticker-driven production loop,
// replacing round-robin block production with batch-triggered proposals.
func runProposalLoop(cfg *config.Config, self *identity.Identity, pipeline *core.Pipeline, recordStore *storage.RecordStore, engine *consensus.Engine, node *network.Node, done <-chan struct{}) {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if !pipeline.Pool().ReadyForProposal() {
				continue
			}
			proposeNextBlock(cfg, self, pipeline, recordStore, engine, node)
		}
	}
}

func proposeNextBlock(cfg *config.Config, self *identity.Identity, pipeline *core.Pipeline, recordStore *storage.RecordStore, engine *consensus.Engine, node *network.Node) {
	records := pipeline.Pool().Pending(core.ProposalThreshold)
	if len(records) == 0 {
		return
	}

	totals := make(map[[2]string]uint64)
	for _, r := range records {
		if err := recordStore.PutRecord(r); err != nil {
			log.Printf("[node] persist record %s: %v", r.ID, err)
		}
		key := [2]string{r.HomeOperator, r.VisitedOperator}
		totals[key] += r.TotalChargesCents
	}
	amounts := make([]core.BilateralAmount, 0, len(totals))
	for pair, total := range totals {
		amounts = append(amounts, core.BilateralAmount{Home: pair[0], Visited: pair[1], TotalCents: total})
	}

	block, err := pipeline.Propose(self.PubKey(), amounts, core.ProposalThreshold)
	if err != nil {
		log.Printf("[node] propose: %v", err)
		return
	}
	for pair := range totals {
		if result, err := runValidatorContract(pair[0], pair[1], cfg.AllowDemoVM); err != nil || result != 1 {
			log.Printf("[node] bilateral pair %s/%s failed consortium membership check", pair[0], pair[1])
		}
	}

	if _, err := engine.StartConsensus(block); err != nil {
		log.Printf("[node] start consensus for %s: %v", block.Hash, err)
		return
	}
	node.BroadcastNewBlock(block)

	vote := self.CastVote(block.Hash, consensus.VoteApprove)
	node.BroadcastVote(vote)
	if pub, err := crypto.PubKeyFromHex(self.PubKey()); err == nil {
		if _, err := engine.ProcessVote(vote, pub); err != nil {
			log.Printf("[node] process own vote: %v", err)
		}
	}
	log.Printf("[node] proposed settlement block %s at height %d (%d records)", block.Hash, block.Header.Height, len(block.RecordIDs))
}

func runValidatorContract(home, visited string, allowDemo bool) (uint64, error) {
	program := vm.ValidatorProgram(home, visited)
	machine := vm.New(program, time.Now().UnixNano(), allowDemo)
	if err := machine.Execute(); err != nil {
		return 0, err
	}
	if machine.Result == nil {
		return 0, fmt.Errorf("validator contract for %s/%s produced no result", home, visited)
	}
	return *machine.Result, nil
}
